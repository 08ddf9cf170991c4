package room_test

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
	"github.com/stretchr/testify/require"
)

// testLogger 測試用 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

var codec = protocol.NewMsgpackCodec()

// harness 一個房間加上數個模擬客戶端
type harness struct {
	t       testing.TB
	clock   *fakeClock
	room    *room.Room
	events  chan room.Event
	clients []*client
}

func newHarness(t testing.TB, cfg room.Config) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  &fakeClock{now: time.Unix(1_700_000_000, 0)},
		events: make(chan room.Event, 256),
	}
	r, err := room.New(room.Options{
		Code:   42,
		Config: cfg,
		Clock:  h.clock.Now,
		Logger: testLogger(),
		Events: h.events,
	})
	require.NoError(t, err)
	h.room = r
	return h
}

// frame 客戶端收到的一個應用層 frame
type frame struct {
	routing protocol.Routing
	msgs    []protocol.Message
	raw     []byte
}

// client 模擬客戶端：自己的傳輸連線加上收件匣
type client struct {
	h        *harness
	slot     int
	userID   string
	version  uint8
	addr     netip.AddrPort
	conn     *transport.Conn
	inbox    [][]byte
	frames   []frame
	controls []transport.Packet
}

// receive 房間送給客戶端的資料報先放進收件匣
func (c *client) receive(b []byte) error {
	c.inbox = append(c.inbox, append([]byte(nil), b...))
	return nil
}

// transmit 客戶端送出的資料報直接交給房間
func (c *client) transmit(b []byte) error {
	c.h.room.HandleDatagram(c.slot, append([]byte(nil), b...))
	return nil
}

func (c *client) Deliver(_ transport.Channel, payload []byte) {
	routing, msgs, err := protocol.DecodeFrame(codec, payload)
	require.NoError(c.h.t, err)
	c.frames = append(c.frames, frame{routing: routing, msgs: msgs, raw: append([]byte(nil), payload...)})
}

func (c *client) Control(p transport.Packet) bool {
	p.Payload = append([]byte(nil), p.Payload...)
	c.controls = append(c.controls, p)
	return true
}

// pump 處理收件匣並送出確認
func (c *client) pump() {
	for len(c.inbox) > 0 {
		batch := c.inbox
		c.inbox = nil
		for _, raw := range batch {
			require.NoError(c.h.t, c.conn.OnDatagram(raw, c))
		}
	}
	c.conn.Tick(c.h.clock.Now())
}

// admit 分配槽位但不握手
func (h *harness) admit(userID string, port uint16) *client {
	h.t.Helper()
	return h.admitVersion(userID, port, 8)
}

// admitVersion 以指定的協定版本分配槽位
func (h *harness) admitVersion(userID string, port uint16, version uint8) *client {
	h.t.Helper()
	c := &client{
		h:       h,
		userID:  userID,
		version: version,
		addr:    netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port),
	}
	slot, err := h.room.Admit(c.addr, room.Credentials{
		Secret:          "secret-" + userID,
		UserID:          userID,
		UserName:        "name-" + userID,
		ProtocolVersion: version,
	}, c.receive)
	require.NoError(h.t, err)
	c.slot = slot
	c.conn = transport.NewConn(c.transmit, transport.Config{Now: h.clock.Now, Logger: testLogger()})
	h.clients = append(h.clients, c)
	return c
}

// join 分配槽位、完成握手、送出身分並進入大廳
func (h *harness) join(userID string, port uint16, flags ...string) *client {
	h.t.Helper()
	return h.joinVersion(userID, port, 8, flags...)
}

// joinVersion 同 join，使用指定的協定版本
func (h *harness) joinVersion(userID string, port uint16, version uint8, flags ...string) *client {
	h.t.Helper()
	c := h.admitVersion(userID, port, version)
	c.connect()
	if flags == nil {
		flags = []string{protocol.FlagWantsToPlayNextLevel}
	}
	c.send(protocol.IdentityMessage(protocol.PlayerIdentity{State: protocol.StateHashOf(flags...)}))
	c.menu(protocol.MenuRPC{Type: protocol.SetIsInLobby, Value: protocol.Bool(true)})
	h.pump()
	return c
}

func (c *client) connect() {
	c.h.t.Helper()
	body, err := codec.Encode(protocol.ConnectRequest{
		ProtocolVersion: c.version,
		Secret:          "secret-" + c.userID,
		UserID:          c.userID,
	})
	require.NoError(c.h.t, err)
	require.NoError(c.h.t, c.conn.SendPacket(transport.Packet{Property: transport.PropertyConnectRequest, Payload: body}))
	c.h.pump()
}

// sendTo 以指定路由送出訊息
func (c *client) sendTo(routing protocol.Routing, msgs ...protocol.Message) {
	c.h.t.Helper()
	b, err := protocol.EncodeFrame(codec, routing, msgs...)
	require.NoError(c.h.t, err)
	require.NoError(c.h.t, c.conn.Send(transport.ReliableOrdered, b))
	c.h.pump()
}

func (c *client) send(msgs ...protocol.Message) {
	c.sendTo(protocol.ServerRouting, msgs...)
}

func (c *client) menu(rpc protocol.MenuRPC) {
	c.send(protocol.MenuMessage(rpc))
}

func (c *client) gameplay(rpc protocol.GameplayRPC) {
	c.send(protocol.GameplayMessage(rpc))
}

// disconnect 送出 Disconnect 封包
func (c *client) disconnect() {
	require.NoError(c.h.t, c.conn.SendPacket(transport.Packet{Property: transport.PropertyDisconnect}))
	c.h.pump()
}

// keepAlive 送出任意資料報讓房間更新存活時間
func (c *client) keepAlive() {
	_ = c.conn.SendPacket(transport.Packet{Property: transport.PropertyPing, Sequence: 1})
}

// menuRPCs 收到的某種大廳 RPC
func (c *client) menuRPCs(typ protocol.MenuRPCType) []protocol.MenuRPC {
	var out []protocol.MenuRPC
	for _, f := range c.frames {
		for _, m := range f.msgs {
			if m.Type == protocol.TypeMultiplayerSession && m.Menu != nil && m.Menu.Type == typ {
				out = append(out, *m.Menu)
			}
		}
	}
	return out
}

// gameplayRPCs 收到的某種遊戲 RPC
func (c *client) gameplayRPCs(typ protocol.GameplayRPCType) []protocol.GameplayRPC {
	var out []protocol.GameplayRPC
	for _, f := range c.frames {
		for _, m := range f.msgs {
			if m.Type == protocol.TypeMultiplayerSession && m.Gameplay != nil && m.Gameplay.Type == typ {
				out = append(out, *m.Gameplay)
			}
		}
	}
	return out
}

// messages 收到的某種內部訊息
func (c *client) messages(typ protocol.MessageType) []protocol.Message {
	var out []protocol.Message
	for _, f := range c.frames {
		for _, m := range f.msgs {
			if m.Type == typ {
				out = append(out, m)
			}
		}
	}
	return out
}

func (c *client) reset() {
	c.frames = nil
	c.controls = nil
}

// pump 讓所有客戶端處理收件匣
func (h *harness) pump() {
	for _, c := range h.clients {
		c.pump()
	}
}

// advance 推進時鐘；每一步先讓仍在房間的客戶端送出資料報，再呼叫 Tick
func (h *harness) advance(d time.Duration, keepAlive ...*client) {
	const step = 2 * time.Second
	for d > 0 {
		s := min(d, step)
		d -= s
		h.clock.now = h.clock.now.Add(s)
		for _, c := range keepAlive {
			c.keepAlive()
		}
		h.room.Tick(h.clock.now)
		h.pump()
	}
}

// recommend 推薦譜面
func (c *client) recommend(levelID string) {
	c.menu(protocol.MenuRPC{
		Type:    protocol.RecommendBeatmap,
		Beatmap: &protocol.Beatmap{LevelID: levelID, Characteristic: "Standard", Difficulty: 2},
	})
}

// entitle 回報擁有狀態
func (c *client) entitle(levelID string, status protocol.EntitlementStatus) {
	c.menu(protocol.MenuRPC{Type: protocol.SetIsEntitledToLevel, LevelID: levelID, Entitlement: status})
}

func (c *client) ready(v bool) {
	c.menu(protocol.MenuRPC{Type: protocol.SetIsReady, Value: protocol.Bool(v)})
}

// startGame 由第一位客戶端選曲，所有人準備後推進到 Gameplay
func (h *harness) startGame(levelID string) {
	h.t.Helper()
	owner := h.clients[0]
	owner.recommend(levelID)
	for _, c := range h.clients {
		c.entitle(levelID, protocol.EntitlementOk)
	}
	require.Equal(h.t, room.PhaseReady, h.room.Phase())
	for _, c := range h.clients {
		c.ready(true)
	}
	require.Equal(h.t, room.PhaseShortCountdown, h.room.Phase())

	h.advance(6*time.Second, h.clients...)
	require.Equal(h.t, room.PhaseLoadingScene, h.room.Phase())
	for _, c := range h.clients {
		c.gameplay(protocol.GameplayRPC{
			Type:     protocol.SetGameplaySceneReady,
			Settings: &protocol.PlayerSettings{UserID: c.userID},
		})
	}
	require.Equal(h.t, room.PhaseLoadingSong, h.room.Phase())
	for _, c := range h.clients {
		c.gameplay(protocol.GameplayRPC{Type: protocol.SetGameplaySongReady})
	}
	require.Equal(h.t, room.PhaseGameplay, h.room.Phase())
}

// finishWith 回報關卡結束，同時帶著 EndState 與 EndReason
func (c *client) finishWith(state protocol.LevelEndState, reason protocol.LevelEndReason) {
	c.gameplay(protocol.GameplayRPC{
		Type:    protocol.LevelFinished,
		Results: &protocol.LevelResults{EndState: state, EndReason: reason},
	})
}

// finish 回報關卡結束
func (c *client) finish(reason protocol.LevelEndReason) {
	c.gameplay(protocol.GameplayRPC{
		Type:    protocol.LevelFinished,
		Results: &protocol.LevelResults{EndReason: reason},
	})
}

// drainEvents 取出目前所有事件
func (h *harness) drainEvents() []room.Event {
	var out []room.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
