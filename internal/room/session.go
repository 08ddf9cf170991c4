package room

import (
	"net/netip"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
)

// Credentials 配對伺服器核發給玩家的連線憑證
//
// 玩家之後送來的 ConnectRequest 必須帶著相同的 Secret 與 UserID 才會被接受。
type Credentials struct {
	Secret          string
	UserID          string
	UserName        string
	ProtocolVersion uint8
}

// Session 房間內的一個玩家槽位
type Session struct {
	slot int
	addr netip.AddrPort
	conn *transport.Conn

	secret          string
	userID          string
	userName        string
	protocolID      uint32
	protocolVersion uint8
	beatUpVersion   uint32
	directDownloads bool

	joinOrder    uint32
	sentIdentity bool
	stateHash    protocol.StateHash
	avatar       []byte
	random       [32]byte
	publicKey    []byte

	// state 客戶端目前看到的階段（房間階段的投影）
	state Phase

	recommended   protocol.Beatmap
	recommendMods protocol.Modifiers
	recommendTime float32
	settings      protocol.PlayerSettings

	alive         bool
	lastKeepAlive time.Time

	// 傳輸層 Ping / Pong 量測
	pingSeq  uint16
	lastPing time.Time
	waiting  bool
	latency  float32
}

// Slot 槽位
func (s *Session) Slot() int { return s.slot }

// Addr 來源位址
func (s *Session) Addr() netip.AddrPort { return s.addr }

// UserID 使用者 id
func (s *Session) UserID() string { return s.userID }

// UserName 顯示名稱
func (s *Session) UserName() string { return s.userName }

// State 客戶端目前的階段
func (s *Session) State() Phase { return s.state }

// Latency 最近一次量到的單程延遲（秒）
func (s *Session) Latency() float32 { return s.latency }

// Conn 傳輸連線
func (s *Session) Conn() *transport.Conn { return s.conn }

// connected 是否已完成連線握手
func (s *Session) connected() bool {
	return s.state.In(PhaseConnected)
}

// reset 重新分配槽位時清除上一位玩家的資料
func (s *Session) reset(addr netip.AddrPort, creds Credentials, joinOrder uint32, conn *transport.Conn, now time.Time) {
	*s = Session{
		slot:            s.slot,
		addr:            addr,
		conn:            conn,
		secret:          creds.Secret,
		userID:          creds.UserID,
		userName:        creds.UserName,
		protocolVersion: creds.ProtocolVersion,
		joinOrder:       joinOrder,
		alive:           true,
		lastKeepAlive:   now,
	}
}

// identity 本玩家的身分訊息
func (s *Session) identity() protocol.PlayerIdentity {
	return protocol.PlayerIdentity{
		State:     s.stateHash,
		Avatar:    s.avatar,
		Random:    s.random[:],
		PublicKey: s.publicKey,
	}
}
