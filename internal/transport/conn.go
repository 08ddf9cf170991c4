// Package transport 在 UDP 資料報之上提供可靠傳輸
//
// 每個玩家一個 Conn，包含三個通道：
//
//	ReliableUnordered  必達、只交付一次、順序不保證
//	ReliableOrdered    必達、依送出順序交付（遊戲狀態 RPC 走這條）
//	Sequenced          不保證必達，舊封包晚到直接丟棄
//
// 超過 MTU 的訊息在可靠通道上自動分片，接收端重組後才交付。
//
// Conn 不做任何 I/O 等待、不開 goroutine，也不自己加鎖；呼叫端（房間分區）持有分區鎖後
// 依序呼叫 Send / OnDatagram / Tick。
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrWindowFull 視窗與 backlog 都滿了，訊息未被接受
	ErrWindowFull = errors.New("transport: send window full")
	// ErrPayloadTooLarge 訊息超過可分片的上限，或在 Sequenced 通道上超過 MTU
	ErrPayloadTooLarge = errors.New("transport: payload too large")
	// ErrClosed 連線已關閉
	ErrClosed = errors.New("transport: connection closed")
)

// Output 送出一個資料報
type Output func(datagram []byte) error

// Handler 接收 OnDatagram 的結果
//
// Deliver 的 payload 只在呼叫期間有效。
// Control 收到非通道封包（Ping、Pong、ConnectRequest、Disconnect、Unreliable、MtuCheck…），
// 回傳 false 代表停止處理同一個資料報中剩下的合併封包。
type Handler interface {
	Deliver(ch Channel, payload []byte)
	Control(p Packet) bool
}

// Config 連線參數
type Config struct {
	WindowSize  int           // 可靠通道視窗，限制在 [32, 256]
	MTU         int           // 單一資料報上限
	ResendDelay time.Duration // 未確認封包的重送間隔
	MaxBacklog  int           // 視窗滿後最多排隊幾個封包
	Now         func() time.Time
	Logger      *slog.Logger
}

// DefaultConfig 預設參數
func DefaultConfig() Config {
	return Config{
		WindowSize:  64,
		MTU:         1024,
		ResendDelay: 50 * time.Millisecond,
		MaxBacklog:  1024,
		Now:         time.Now,
		Logger:      slog.Default(),
	}
}

// Stats 連線統計
type Stats struct {
	Sent      uint64 `json:"sent"`
	Resent    uint64 `json:"resent"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Conn 單一玩家的傳輸狀態
type Conn struct {
	cfg    Config
	out    Output
	logger *slog.Logger

	ru    *reliableChannel
	ro    *reliableChannel
	sq    *sequencedChannel
	frags *reassembler

	nextFragment uint16
	closed       bool
	stats        Stats
}

// NewConn 建立連線
func NewConn(out Output, cfg Config) *Conn {
	def := DefaultConfig()
	if cfg.MTU <= fragmentHeaderSize {
		cfg.MTU = def.MTU
	}
	if cfg.ResendDelay <= 0 {
		cfg.ResendDelay = def.ResendDelay
	}
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = def.MaxBacklog
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Conn{
		cfg:    cfg,
		out:    out,
		logger: cfg.Logger,
	}
	c.Reset()
	return c
}

// Reset 清除所有通道與分片狀態（軟重連）
func (c *Conn) Reset() {
	c.ru = newReliableChannel(ReliableUnordered, false, c.cfg.WindowSize)
	c.ro = newReliableChannel(ReliableOrdered, true, c.cfg.WindowSize)
	c.sq = &sequencedChannel{}
	c.frags = newReassembler()
	c.nextFragment = 0
	c.closed = false
}

// Close 釋放狀態，之後的 Send 回傳 ErrClosed，排隊中的重送全部丟棄
func (c *Conn) Close() {
	c.closed = true
	c.ru = newReliableChannel(ReliableUnordered, false, c.cfg.WindowSize)
	c.ro = newReliableChannel(ReliableOrdered, true, c.cfg.WindowSize)
	c.sq = &sequencedChannel{}
	c.frags.reset()
}

// Closed 是否已關閉
func (c *Conn) Closed() bool {
	return c.closed
}

// SetWindowSize 調整可靠通道視窗（連線協商後呼叫）
func (c *Conn) SetWindowSize(n int) int {
	n = ClampWindow(n)
	c.cfg.WindowSize = n
	c.ru.window = n
	c.ro.window = n
	return n
}

// WindowSize 目前視窗大小
func (c *Conn) WindowSize() int {
	return c.ru.window
}

// Stats 統計
func (c *Conn) Stats() Stats {
	return c.stats
}

// PendingFragments 尚未收齊的分片組數量
func (c *Conn) PendingFragments() int {
	return c.frags.pending()
}

// InFlight 通道上已送出未確認的封包數
func (c *Conn) InFlight(ch Channel) int {
	switch ch {
	case ReliableUnordered:
		return c.ru.inFlight()
	case ReliableOrdered:
		return c.ro.inFlight()
	case Sequenced:
		if c.sq.pending.used {
			return 1
		}
	}
	return 0
}

// Send 在指定通道上送出訊息
//
// 視窗有空位時立即送出；否則排入 backlog，收到 ack 後補送。
// backlog 也滿時回傳 ErrWindowFull，訊息的任何一部分都不會被接受。
func (c *Conn) Send(ch Channel, payload []byte) error {
	if c.closed {
		return ErrClosed
	}
	now := c.cfg.Now()

	if ch == Sequenced {
		if len(payload) > c.cfg.MTU-channeledHeaderSize {
			return ErrPayloadTooLarge
		}
		c.sq.emit(Packet{Payload: payload}, now, c.write)
		return nil
	}

	rc, err := c.reliable(ch)
	if err != nil {
		return err
	}

	if len(payload) <= c.cfg.MTU-channeledHeaderSize {
		if rc.capacity(c.cfg.MaxBacklog) < 1 {
			return ErrWindowFull
		}
		rc.enqueue(Packet{Payload: payload}, now, c.write)
		return nil
	}

	partSize := c.cfg.MTU - fragmentHeaderSize
	total := (len(payload) + partSize - 1) / partSize
	if total > MaxFragments {
		return ErrPayloadTooLarge
	}
	if rc.capacity(c.cfg.MaxBacklog) < total {
		return ErrWindowFull
	}
	id := c.nextFragment
	c.nextFragment++
	for i := 0; i < total; i++ {
		end := min((i+1)*partSize, len(payload))
		rc.enqueue(Packet{
			Fragmented:     true,
			FragmentID:     id,
			FragmentPart:   uint16(i),
			FragmentsTotal: uint16(total),
			Payload:        payload[i*partSize : end],
		}, now, c.write)
	}
	return nil
}

// SendPacket 直接送出非通道封包（Ping、Pong、ConnectAccept、Disconnect、Unreliable…）
func (c *Conn) SendPacket(p Packet) error {
	if c.closed {
		return ErrClosed
	}
	if p.Property == PropertyChanneled || p.Property == PropertyAck {
		return fmt.Errorf("%w: %s must go through a channel", ErrMalformed, p.Property)
	}
	return c.out(p.Bytes())
}

// OnDatagram 處理一個收到的資料報
//
// 格式錯誤只影響該資料報（或合併封包中剩下的部分），回傳錯誤供呼叫端記錄。
func (c *Conn) OnDatagram(raw []byte, h Handler) error {
	if c.closed {
		return ErrClosed
	}
	p, err := ParsePacket(raw)
	if err != nil {
		c.stats.Dropped++
		return err
	}
	if p.Property != PropertyMerged {
		c.dispatch(p, h)
		return nil
	}

	subs, splitErr := SplitMerged(p.Payload)
	for _, sub := range subs {
		sp, err := ParsePacket(sub)
		if err != nil {
			c.stats.Dropped++
			return err
		}
		if sp.Property == PropertyMerged {
			c.stats.Dropped++
			return fmt.Errorf("%w: nested merged packet", ErrMalformed)
		}
		if !c.dispatch(sp, h) {
			return nil
		}
	}
	return splitErr
}

// dispatch 回傳 false 表示停止處理剩下的封包
func (c *Conn) dispatch(p Packet, h Handler) bool {
	switch p.Property {
	case PropertyChanneled:
		c.onChanneled(p, h)
	case PropertyAck:
		c.onAck(p)
	default:
		if !h.Control(p) {
			return false
		}
	}
	return !c.closed
}

func (c *Conn) onChanneled(p Packet, h Handler) {
	deliver := func(q Packet) bool {
		c.deliver(q, h)
		return !c.closed
	}
	var accepted bool
	switch p.Channel {
	case Sequenced:
		if p.Fragmented {
			c.stats.Dropped++
			c.logger.Debug("Sequenced 通道不接受分片")
			return
		}
		accepted = c.sq.receive(p, deliver)
	case ReliableUnordered:
		accepted = c.ru.receive(p, deliver)
	case ReliableOrdered:
		accepted = c.ro.receive(p, deliver)
	}
	if !accepted {
		c.stats.Dropped++
	}
}

func (c *Conn) deliver(p Packet, h Handler) {
	if !p.Fragmented {
		c.stats.Delivered++
		h.Deliver(p.Channel, p.Payload)
		return
	}
	msg, done, err := c.frags.add(p)
	if err != nil {
		c.stats.Dropped++
		c.logger.Warn("分片組不一致，已丟棄",
			"fragment_id", p.FragmentID,
			"channel", p.Channel,
			"error", err)
		return
	}
	if done {
		c.stats.Delivered++
		h.Deliver(p.Channel, msg)
	}
}

func (c *Conn) onAck(p Packet) {
	switch p.Channel {
	case Sequenced:
		c.sq.onAck(p.Sequence)
	case ReliableUnordered, ReliableOrdered:
		rc, _ := c.reliable(p.Channel)
		if !rc.onAck(p.Sequence, p.Payload, c.cfg.Now(), c.write) {
			c.stats.Dropped++
			c.logger.Debug("ack 超出已送出範圍", "channel", p.Channel, "seq", p.Sequence)
		}
	}
}

// Tick 送出待送的 ack、重送逾時封包，回傳下一次需要處理的時間（零值代表沒有待辦）
func (c *Conn) Tick(now time.Time) time.Time {
	if c.closed {
		return time.Time{}
	}
	for _, rc := range [...]*reliableChannel{c.ru, c.ro} {
		if rc.needAck {
			rc.needAck = false
			ack := rc.ackPacket()
			c.write(ack.Bytes())
		}
	}
	if c.sq.needAck {
		c.sq.needAck = false
		ack := c.sq.ackPacket()
		c.write(ack.Bytes())
	}

	var next time.Time
	for _, rc := range [...]*reliableChannel{c.ru, c.ro} {
		due, n := rc.resend(now, c.cfg.ResendDelay, c.write)
		c.stats.Resent += uint64(n)
		next = earliest(next, due)
	}
	due, n := c.sq.resend(now, c.cfg.ResendDelay, c.write)
	c.stats.Resent += uint64(n)
	return earliest(next, due)
}

// NeedsFlush 是否有待送的 ack
func (c *Conn) NeedsFlush() bool {
	return !c.closed && (c.ru.needAck || c.ro.needAck || c.sq.needAck)
}

func (c *Conn) reliable(ch Channel) (*reliableChannel, error) {
	switch ch {
	case ReliableUnordered:
		return c.ru, nil
	case ReliableOrdered:
		return c.ro, nil
	}
	return nil, fmt.Errorf("%w: channel %d", ErrMalformed, ch)
}

func (c *Conn) write(b []byte) {
	c.stats.Sent++
	if err := c.out(b); err != nil {
		c.logger.Debug("送出資料報失敗", "error", err)
	}
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}
