package partition_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry 記錄房間開關
type fakeRegistry struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (r *fakeRegistry) RoomOpened(_ context.Context, info partition.RoomInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, info.Code)
	return nil
}

func (r *fakeRegistry) RoomClosed(_ context.Context, info partition.RoomInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, info.Code)
	return nil
}

func (r *fakeRegistry) closedCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

func newServer(t *testing.T, partitions int, regs ...partition.Registry) *partition.Server {
	t.Helper()
	s := partition.NewServer(partition.ServerOptions{
		Partitions: partitions,
		Endpoints:  []string{"127.0.0.1:7777", "127.0.0.1:7778"},
		Logger:     testLogger(),
		Registries: regs,
		Send:       newNetwork().send,
	})
	t.Cleanup(s.Stop)
	return s
}

// TestServer_CreateRoom 測試創建房間
func TestServer_CreateRoom(t *testing.T) {
	reg := &fakeRegistry{}
	s := newServer(t, 2, reg)
	ctx := context.Background()

	first, err := s.CreateRoom(ctx, room.DefaultConfig())
	require.NoError(t, err)
	second, err := s.CreateRoom(ctx, room.DefaultConfig())
	require.NoError(t, err)

	assert.Len(t, first.Code, 6)
	assert.NotEqual(t, first.Code, second.Code)
	// 輪流使用分區
	assert.Equal(t, 0, first.Partition)
	assert.Equal(t, 1, second.Partition)
	assert.Equal(t, "127.0.0.1:7777", first.Endpoint)
	assert.Equal(t, "127.0.0.1:7778", second.Endpoint)
	assert.Equal(t, []string{first.Code, second.Code}, reg.opened)

	got, err := s.GetRoom(first.Code)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

// TestServer_CreateRoom_InvalidConfig 測試設定無效時不開房
func TestServer_CreateRoom_InvalidConfig(t *testing.T) {
	reg := &fakeRegistry{}
	s := newServer(t, 1, reg)

	_, err := s.CreateRoom(context.Background(), room.Config{MaxPlayers: 500})
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Empty(t, reg.opened)

	rooms, total := s.ListRooms(1, 10)
	assert.Empty(t, rooms)
	assert.Equal(t, 0, total)
}

// TestServer_GetRoom 測試查詢不存在的房間
func TestServer_GetRoom(t *testing.T) {
	s := newServer(t, 1)

	tests := []struct {
		name string
		code string
	}{
		{"不存在", "ZZZZZZ"},
		{"長度錯誤", "ABC"},
		{"非法字元", "AB-CDE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GetRoom(tt.code)
			assert.True(t, apperrors.IsNotFound(err))
		})
	}
}

// TestServer_Admit 測試透過加入碼分配玩家
func TestServer_Admit(t *testing.T) {
	s := newServer(t, 1)
	info, err := s.CreateRoom(context.Background(), room.DefaultConfig())
	require.NoError(t, err)

	addr := netip.MustParseAddrPort("10.2.0.1:4000")
	h, err := s.Admit(info.Code, addr, creds("a"))
	require.NoError(t, err)
	assert.Equal(t, info.Slot, h.Slot)

	snap, err := s.Snapshot(info.Code)
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "a", snap.Owner)

	stats := s.Stats()
	assert.Equal(t, 1, stats["total_rooms"])
	assert.Equal(t, 1, stats["total_players"])

	_, err = s.Admit("ZZZZZZ", addr, creds("b"))
	assert.True(t, apperrors.IsNotFound(err))
}

// TestServer_CloseRoom 測試關閉房間會註銷並釋放群組
func TestServer_CloseRoom(t *testing.T) {
	reg := &fakeRegistry{}
	s := newServer(t, 1, reg)
	info, err := s.CreateRoom(context.Background(), room.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, s.CloseRoom(info.Code))
	assert.Equal(t, []string{info.Code}, reg.closedCodes())

	_, err = s.GetRoom(info.Code)
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(s.CloseRoom(info.Code)))
	assert.Equal(t, 0, s.Partitions()[0].Stats().Groups)
}

// TestServer_LastPlayerLeaves 測試房間因玩家離開而關閉時同樣註銷
func TestServer_LastPlayerLeaves(t *testing.T) {
	reg := &fakeRegistry{}
	s := newServer(t, 1, reg)
	info, err := s.CreateRoom(context.Background(), room.DefaultConfig())
	require.NoError(t, err)

	h, err := s.Admit(info.Code, netip.MustParseAddrPort("10.2.0.1:4000"), creds("a"))
	require.NoError(t, err)
	require.NoError(t, s.Partitions()[info.Partition].DisconnectPlayer(h))

	assert.Equal(t, []string{info.Code}, reg.closedCodes())
	_, err = s.GetRoom(info.Code)
	assert.True(t, apperrors.IsNotFound(err))
}

// TestServer_ListRooms 測試分頁列出房間
func TestServer_ListRooms(t *testing.T) {
	s := newServer(t, 2)
	ctx := context.Background()
	for range 5 {
		_, err := s.CreateRoom(ctx, room.DefaultConfig())
		require.NoError(t, err)
	}

	all, total := s.ListRooms(1, 0)
	require.Len(t, all, 5)
	assert.Equal(t, 5, total)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Code, all[i].Code)
	}

	tests := []struct {
		name  string
		page  int
		limit int
		want  int
	}{
		{"第一頁", 1, 2, 2},
		{"最後一頁", 3, 2, 1},
		{"超出範圍", 4, 2, 0},
		{"頁碼小於 1", 0, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, total := s.ListRooms(tt.page, tt.limit)
			assert.Len(t, rooms, tt.want)
			assert.Equal(t, 5, total)
		})
	}
}

// TestCode 測試加入碼轉換
func TestCode(t *testing.T) {
	tests := []struct {
		code uint32
		want string
	}{
		{0, "AAAAAA"},
		{1, "AAAAAB"},
		{35, "AAAAA9"},
		{36, "AAAABA"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, partition.FormatCode(tt.code))
			got, err := partition.ParseCode(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.code, got)
		})
	}

	got, err := partition.ParseCode(" aaaaab ")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got)

	for _, bad := range []string{"", "AAAAA", "AAAAAAA", "AAAA_A"} {
		_, err := partition.ParseCode(bad)
		assert.ErrorIs(t, err, apperrors.ErrRoomNotFound, bad)
	}
}
