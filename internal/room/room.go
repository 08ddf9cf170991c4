// Package room 實作房間與玩家的狀態機
//
// 一個 Room 管理最多 Config.MaxPlayers 個 Session。房間階段（Phase）由
// setRoomState 推進，每次推進後把新的階段投影到每個已連線玩家
// （setSessionState），投影只送出「客戶端從舊階段走到新階段需要知道的訊息」。
//
// Room 不加鎖、不開 goroutine；所有方法必須在所屬分區的鎖內呼叫。
//
// 時間：房間建立時記下基準時間，送給客戶端的所有時間都是
// 「距基準的秒數」（float32，稱為 sync time）。
package room

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/playerset"
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
)

// 逾時設定
const (
	LoadTimeout  = 15 * time.Second
	IdleTimeout  = 10 * time.Second
	KickTimeout  = 3 * time.Second
	PingInterval = time.Second

	// minPhaseDelay 階段逾時最短的排程間隔
	minPhaseDelay = 10 * time.Millisecond

	// startLevelOffset 大廳階段送出的 StartLevel 時間偏移（客戶端不會真的開始）
	startLevelOffset = 1048576

	defaultShortCountdown = 5
	defaultLongCountdown  = 15
)

// Options 建立房間的參數
type Options struct {
	Code      uint32
	Config    Config
	Codec     protocol.Codec
	Transport transport.Config
	Clock     func() time.Time
	Logger    *slog.Logger

	// Events 房間事件（非阻塞送出，可為 nil）
	Events chan<- Event

	// OnRelease 槽位被釋放時呼叫（在分區鎖內），用於移除位址索引
	OnRelease func(slot int, addr netip.AddrPort)

	// OnReset 同位址重連重設槽位時呼叫（在分區鎖內）
	OnReset func(slot int)
}

// Room 一個遊戲房間
//
// 玩家集合：
//
//	playerSort  已分配槽位的玩家（包含尚未完成握手的）
//	connected   已完成握手、會收到房間廣播的玩家
//
// 階段專屬的資料放在 data：大廳階段是 *lobbyState，遊戲階段是 *gameState，
// 在進入大廳 / 遊戲的邊緣切換。
type Room struct {
	cfg       Config
	code      uint32
	codec     protocol.Codec
	tcfg      transport.Config
	clock     func() time.Time
	logger    *slog.Logger
	events    chan<- Event
	onRelease func(slot int, addr netip.AddrPort)
	onReset   func(slot int)

	players    []Session
	playerSort playerset.Set
	connected  playerset.Set
	joinCount  uint32
	owner      int
	closed     bool

	// 房主透過連線擴充設定的參數
	shortCountdown      float32
	longCountdown       float32
	skipResults         bool
	perPlayerDifficulty bool
	perPlayerModifiers  bool

	syncBase   time.Time
	random     [32]byte
	privateKey *ecdh.PrivateKey
	publicKey  []byte

	phase         Phase
	sessionGameID string
	inLobby       playerset.Set
	spectating    playerset.Set
	selected      protocol.Beatmap
	selectedMods  protocol.Modifiers
	roundRobin    int
	deadline      float32
	data          phaseData
}

// New 開啟房間並進入 Idle
func New(opts Options) (*Room, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Codec == nil {
		opts.Codec = protocol.NewMsgpackCodec()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("room", opts.Code)
	tcfg := opts.Transport
	tcfg.Now = opts.Clock
	tcfg.Logger = logger

	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate room key: %w", err)
	}

	r := &Room{
		cfg:            opts.Config,
		code:           opts.Code,
		codec:          opts.Codec,
		tcfg:           tcfg,
		clock:          opts.Clock,
		logger:         logger,
		events:         opts.Events,
		onRelease:      opts.OnRelease,
		onReset:        opts.OnReset,
		players:        make([]Session, opts.Config.MaxPlayers),
		shortCountdown: defaultShortCountdown,
		longCountdown:  defaultLongCountdown,
		syncBase:       opts.Clock(),
		privateKey:     key,
		publicKey:      key.PublicKey().Bytes(),
		data:           &lobbyState{requester: -1},
	}
	for i := range r.players {
		r.players[i].slot = i
	}
	if _, err := rand.Read(r.random[:]); err != nil {
		return nil, fmt.Errorf("generate room random: %w", err)
	}
	r.setRoomState(PhaseIdle)
	r.logger.Info("房間已開啟",
		"max_players", r.cfg.MaxPlayers,
		"song_selection", r.cfg.SongSelectionMode)
	return r, nil
}

// Code 房間代碼
func (r *Room) Code() uint32 { return r.code }

// Config 房間設定
func (r *Room) Config() Config { return r.cfg }

// Phase 目前階段
func (r *Room) Phase() Phase { return r.phase }

// Closed 最後一位玩家離開後為 true，分區應釋放房間
func (r *Room) Closed() bool { return r.closed }

// Connected 已連線玩家
func (r *Room) Connected() playerset.Set { return r.connected }

// Players 已分配槽位的玩家
func (r *Room) Players() playerset.Set { return r.playerSort }

// Session 取得槽位的玩家（未分配時回傳 nil）
func (r *Room) Session(slot int) *Session {
	if slot < 0 || slot >= len(r.players) || !r.playerSort.Has(slot) {
		return nil
	}
	return &r.players[slot]
}

// Owner 房主槽位
func (r *Room) Owner() int { return r.owner }

// OwnerID 房主的使用者 id（房主不在時為空字串）
func (r *Room) OwnerID() string {
	if !r.playerSort.Has(r.owner) {
		return ""
	}
	return r.players[r.owner].userID
}

// Selected 目前選定的譜面
func (r *Room) Selected() (protocol.Beatmap, protocol.Modifiers) {
	return r.selected, r.selectedMods
}

// SessionGameID 本局的 id（進入 LoadingSong 時產生）
func (r *Room) SessionGameID() string { return r.sessionGameID }

func (r *Room) now() time.Time {
	return r.clock()
}

// sync 目前的 sync time
func (r *Room) sync() float32 {
	return r.syncAt(r.now())
}

func (r *Room) syncAt(t time.Time) float32 {
	return float32(t.Sub(r.syncBase).Seconds())
}

// timeAt sync time 轉回絕對時間
func (r *Room) timeAt(sync float32) time.Time {
	return r.syncBase.Add(time.Duration(float64(sync) * float64(time.Second)))
}

// menu 填入 sync time 的大廳 RPC
func (r *Room) menu(rpc protocol.MenuRPC) protocol.Message {
	rpc.SyncTime = r.sync()
	return protocol.MenuMessage(rpc)
}

// gameplay 填入 sync time 的遊戲 RPC
func (r *Room) gameplay(rpc protocol.GameplayRPC) protocol.Message {
	rpc.SyncTime = r.sync()
	return protocol.GameplayMessage(rpc)
}

// send 把一批訊息編成一個 frame，以 ReliableOrdered 送給玩家
func (r *Room) send(s *Session, routing protocol.Routing, msgs ...protocol.Message) {
	if len(msgs) == 0 {
		return
	}
	frame, err := protocol.EncodeFrame(r.codec, routing, msgs...)
	if err != nil {
		r.logger.Error("訊息編碼失敗", "slot", s.slot, "error", err)
		return
	}
	r.sendFrame(s, transport.ReliableOrdered, frame)
}

func (r *Room) sendFrame(s *Session, ch transport.Channel, frame []byte) {
	if err := s.conn.Send(ch, frame); err != nil {
		r.logger.Warn("送出失敗",
			"slot", s.slot,
			"channel", ch,
			"error", err)
	}
}

// broadcast 送給 set 中每個玩家（各自一個 frame）
func (r *Room) broadcast(set playerset.Set, routing protocol.Routing, msgs ...protocol.Message) {
	for id := range set.All() {
		r.send(&r.players[id], routing, msgs...)
	}
}

// sendPacket 送出非通道封包
func (r *Room) sendPacket(s *Session, p transport.Packet) {
	if err := s.conn.SendPacket(p); err != nil {
		r.logger.Debug("送出控制封包失敗",
			"slot", s.slot,
			"property", p.Property,
			"error", err)
	}
}
