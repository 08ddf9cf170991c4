package status_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/koopa0/system-design/14-rhythm-session/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger 測試用 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	server *partition.Server
	hub    *status.Hub
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		server: partition.NewServer(partition.ServerOptions{
			Endpoints: []string{"127.0.0.1:7777"},
			Logger:    testLogger(),
			Send:      func([]byte, netip.AddrPort) error { return nil },
		}),
		hub: status.NewHub(testLogger()),
	}
	handler := status.NewHandler(f.server, room.DefaultConfig(), f.hub, testLogger())
	f.http = httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		f.hub.Stop()
		f.http.Close()
		f.server.Stop()
	})
	return f
}

// do 送出請求並解析 JSON 回應
func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) createRoom(t *testing.T, body map[string]any) partition.RoomInfo {
	t.Helper()
	var info partition.RoomInfo
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/rooms", body, &info))
	return info
}

// TestHealth 測試健康檢查
func TestHealth(t *testing.T) {
	f := newFixture(t)
	var resp map[string]any
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, &resp))
	assert.Equal(t, "healthy", resp["status"])
}

// TestCreateRoom 測試創建房間
func TestCreateRoom(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     any
		status   int
		validate func(t *testing.T, info partition.RoomInfo)
	}{
		{
			name:   "使用預設值",
			body:   map[string]any{},
			status: http.StatusCreated,
			validate: func(t *testing.T, info partition.RoomInfo) {
				assert.Len(t, info.Code, 6)
				assert.Equal(t, "127.0.0.1:7777", info.Endpoint)
				assert.Equal(t, room.DefaultConfig(), info.Config)
			},
		},
		{
			name:   "自訂設定",
			body:   map[string]any{"max_players": 8, "song_selection": "owner_picks", "control_settings": 2},
			status: http.StatusCreated,
			validate: func(t *testing.T, info partition.RoomInfo) {
				assert.Equal(t, 8, info.Config.MaxPlayers)
				assert.Equal(t, room.SelectionOwnerPicks, info.Config.SongSelectionMode)
				assert.Equal(t, room.ControlAll, info.Config.ControlSettings)
			},
		},
		{name: "人數無效", body: map[string]any{"max_players": 1000}, status: http.StatusBadRequest},
		{name: "選曲方式無效", body: map[string]any{"song_selection": "dice"}, status: http.StatusBadRequest},
		{name: "格式錯誤", body: "not an object", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var info partition.RoomInfo
			code := f.do(t, http.MethodPost, "/api/v1/rooms", tt.body, &info)
			assert.Equal(t, tt.status, code)
			if tt.validate != nil {
				tt.validate(t, info)
			}
		})
	}
}

// TestRoomDetail 測試房間詳情與關閉
func TestRoomDetail(t *testing.T) {
	f := newFixture(t)
	info := f.createRoom(t, map[string]any{})

	var detail struct {
		partition.RoomInfo
		State room.Snapshot `json:"state"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/rooms/"+strings.ToLower(info.Code), nil, &detail))
	assert.Equal(t, info.Code, detail.Code)
	assert.Equal(t, room.PhaseIdle.String(), detail.State.Phase)
	assert.Empty(t, detail.State.Players)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/v1/rooms/"+info.Code, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/rooms/"+info.Code, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/v1/rooms/"+info.Code, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/rooms/bad", nil, nil))
}

// TestListRooms 測試列出房間
func TestListRooms(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.createRoom(t, map[string]any{})
	}

	var resp struct {
		Rooms []partition.RoomInfo `json:"rooms"`
		Total int                  `json:"total"`
		Page  int                  `json:"page"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/rooms?page=2&limit=2", nil, &resp))
	assert.Len(t, resp.Rooms, 1)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Page)
}

// TestAdmitPlayer 測試分配玩家槽位
func TestAdmitPlayer(t *testing.T) {
	f := newFixture(t)
	info := f.createRoom(t, map[string]any{"max_players": 1})
	path := "/api/v1/rooms/" + info.Code + "/players"

	player := func(addr, userID string) map[string]any {
		return map[string]any{"addr": addr, "secret": "s", "user_id": userID, "user_name": "n", "protocol_version": 8}
	}

	var handle partition.SessionHandle
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, path, player("10.0.0.1:5000", "a"), &handle))
	assert.Equal(t, info.Slot, handle.Slot)
	assert.True(t, f.server.Partitions()[info.Partition].Valid(handle))

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"房間已滿", path, player("10.0.0.2:5000", "b"), http.StatusConflict},
		{"位址錯誤", path, player("nowhere", "b"), http.StatusBadRequest},
		{"缺少 user_id", path, player("10.0.0.2:5000", ""), http.StatusBadRequest},
		{"房間不存在", "/api/v1/rooms/ZZZZZZ/players", player("10.0.0.2:5000", "b"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, f.do(t, http.MethodPost, tt.path, tt.body, nil))
		})
	}

	var stats map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/stats", nil, &stats))
	assert.EqualValues(t, 1, stats["total_rooms"])
	assert.EqualValues(t, 1, stats["total_players"])
	assert.EqualValues(t, 0, stats["websocket_connections"])
}

// dialEvents 連上事件推送
func (f *fixture) dialEvents(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// TestHub_Events 測試依加入碼推送事件
func TestHub_Events(t *testing.T) {
	f := newFixture(t)

	code := partition.FormatCode(77)
	one := f.dialEvents(t, "?code="+strings.ToLower(code))
	all := f.dialEvents(t, "")
	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	f.hub.Publish(room.Event{Type: room.EventPhaseChanged, Room: 5, Phase: "Lobby.Idle"})
	f.hub.Publish(room.Event{Type: room.EventPlayerConnected, Room: 77, UserID: "a"})

	// 只訂閱一個房間的連接收不到其他房間的事件
	msg := readEvent(t, one)
	assert.Equal(t, "player_connected", msg["event"])
	assert.Equal(t, code, msg["code"])
	assert.Equal(t, "a", msg["user_id"])

	msg = readEvent(t, all)
	assert.Equal(t, "phase_changed", msg["event"])
	msg = readEvent(t, all)
	assert.Equal(t, "player_connected", msg["event"])
}

// TestHub_Ping 測試應用層 ping
func TestHub_Ping(t *testing.T) {
	f := newFixture(t)
	conn := f.dialEvents(t, "")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	msg := readEvent(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

// TestHub_Disconnect 測試客戶端關閉後取消註冊
func TestHub_Disconnect(t *testing.T) {
	f := newFixture(t)
	conn := f.dialEvents(t, "")
	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// 沒有連接時推送不會阻塞
	f.hub.Publish(room.Event{Type: room.EventRoomClosed, Room: 1})
}

// TestHub_InvalidCode 測試無效的加入碼
func TestHub_InvalidCode(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/ws/events?code=bad")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// BenchmarkHub_Publish 測試廣播開銷
func BenchmarkHub_Publish(b *testing.B) {
	hub := status.NewHub(testLogger())
	ev := room.Event{Type: room.EventPhaseChanged, Room: 1, Phase: "Lobby.Idle"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Publish(ev)
	}
}
