package transport

import "time"

// MaxWindowSize 視窗上限；槽位以 seq&0xFF 索引，65536 可被 256 整除，跨越回繞不會撞號
const MaxWindowSize = 256

// MinWindowSize 視窗下限
const MinWindowSize = 32

// ClampWindow 將視窗大小限制在 [MinWindowSize, MaxWindowSize]，並對齊 8 的倍數（ack bitmask 以位元組為單位）
func ClampWindow(n int) int {
	if n > MaxWindowSize {
		n = MaxWindowSize
	}
	if n < MinWindowSize {
		n = MinWindowSize
	}
	return n &^ 7
}

// outSlot 等待確認的已送出封包
type outSlot struct {
	seq    uint16
	data   []byte
	sentAt time.Time
	used   bool
}

// reliableChannel 可靠通道（有序 / 無序共用）
//
// 發送端：
//
//	outStart ──── in flight ──── outSeq ──── backlog
//	└─ 最舊未確認               └─ 下一個要分配的序號
//
// 視窗滿時封包放進 backlog，收到 ack 讓 outStart 前進後再補送。
//
// 接收端：
//
//	inStart 是下一個期望的序號（低水位）。落在 (inStart, inStart+window) 的封包：
//	  - 無序：立即交付，標記 received，等 inStart 追上時跳過
//	  - 有序：暫存，等缺口補齊後依序交付
type reliableChannel struct {
	id      Channel
	ordered bool
	window  int

	outSeq   uint16
	outStart uint16
	pending  [MaxWindowSize]outSlot
	backlog  []Packet

	inStart  uint16
	received [MaxWindowSize]bool
	buffered [MaxWindowSize]Packet
	needAck  bool
}

func newReliableChannel(id Channel, ordered bool, window int) *reliableChannel {
	return &reliableChannel{
		id:      id,
		ordered: ordered,
		window:  ClampWindow(window),
	}
}

// inFlight 已送出未確認的數量
func (c *reliableChannel) inFlight() int {
	return seqOffset(c.outSeq, c.outStart)
}

// capacity 還能接受多少封包（視窗空位 + backlog 空位）
func (c *reliableChannel) capacity(maxBacklog int) int {
	free := c.window - c.inFlight()
	if free < 0 {
		free = 0
	}
	if len(c.backlog) > 0 {
		free = 0
	}
	return free + maxBacklog - len(c.backlog)
}

// enqueue 送出或排入 backlog；呼叫端已用 capacity 確認空間
func (c *reliableChannel) enqueue(p Packet, now time.Time, out func([]byte)) {
	if len(c.backlog) == 0 && c.inFlight() < c.window {
		c.emit(p, now, out)
		return
	}
	p.Payload = append([]byte(nil), p.Payload...)
	c.backlog = append(c.backlog, p)
}

func (c *reliableChannel) emit(p Packet, now time.Time, out func([]byte)) {
	p.Property = PropertyChanneled
	p.Channel = c.id
	p.Sequence = c.outSeq
	c.outSeq++
	data := p.Bytes()
	c.pending[p.Sequence&0xFF] = outSlot{
		seq:    p.Sequence,
		data:   data,
		sentAt: now,
		used:   true,
	}
	out(data)
}

// onAck 處理 ack：base 之前全部確認，mask 的第 i 位代表 base+i 已收到
//
// 回傳值表示 ack 是否被接受（base 超出已送出範圍時拒絕）。
func (c *reliableChannel) onAck(base uint16, mask []byte, now time.Time, out func([]byte)) bool {
	if seqDiff(base, c.outSeq) > 0 {
		return false
	}
	for seq := c.outStart; seq != c.outSeq; seq++ {
		slot := &c.pending[seq&0xFF]
		if !slot.used || slot.seq != seq {
			continue
		}
		rel := seqDiff(seq, base)
		if rel < 0 || (rel < len(mask)*8 && mask[rel>>3]&(1<<(rel&7)) != 0) {
			*slot = outSlot{}
		}
	}
	for c.outStart != c.outSeq && !c.pending[c.outStart&0xFF].used {
		c.outStart++
	}
	for len(c.backlog) > 0 && c.inFlight() < c.window {
		p := c.backlog[0]
		c.backlog[0] = Packet{}
		c.backlog = c.backlog[1:]
		c.emit(p, now, out)
	}
	if len(c.backlog) == 0 {
		c.backlog = nil
	}
	return true
}

// receive 處理收到的 Channeled 封包，依通道語意呼叫 deliver
//
// 回傳 false 表示封包落在視窗之外被丟棄。
func (c *reliableChannel) receive(p Packet, deliver func(Packet) bool) bool {
	if !inWindow(p.Sequence, c.inStart, c.window) {
		// 已交付過的重複封包：重送 ack，讓對方停止重傳
		if seqDiff(p.Sequence, c.inStart) < 0 {
			c.needAck = true
		}
		return false
	}
	c.needAck = true
	idx := p.Sequence & 0xFF

	if p.Sequence != c.inStart {
		if c.received[idx] {
			return true
		}
		c.received[idx] = true
		if c.ordered {
			p.Payload = append([]byte(nil), p.Payload...)
			c.buffered[idx] = p
			return true
		}
		deliver(p)
		return true
	}

	c.inStart++
	if !deliver(p) {
		return true
	}
	for c.received[c.inStart&0xFF] {
		i := c.inStart & 0xFF
		c.received[i] = false
		c.inStart++
		if c.ordered {
			next := c.buffered[i]
			c.buffered[i] = Packet{}
			if !deliver(next) {
				return true
			}
		}
	}
	return true
}

// ackPacket 建立目前狀態的 ack
func (c *reliableChannel) ackPacket() Packet {
	mask := make([]byte, c.window/8)
	for i := 1; i < c.window; i++ {
		if c.received[(c.inStart+uint16(i))&0xFF] {
			mask[i>>3] |= 1 << (i & 7)
		}
	}
	return Packet{
		Property: PropertyAck,
		Channel:  c.id,
		Sequence: c.inStart,
		Payload:  mask,
	}
}

// resend 重送逾時的封包，回傳最早的下一次重送時間
func (c *reliableChannel) resend(now time.Time, delay time.Duration, out func([]byte)) (next time.Time, resent int) {
	for seq := c.outStart; seq != c.outSeq; seq++ {
		slot := &c.pending[seq&0xFF]
		if !slot.used {
			continue
		}
		due := slot.sentAt.Add(delay)
		if !now.Before(due) {
			slot.sentAt = now
			out(slot.data)
			resent++
			due = now.Add(delay)
		}
		if next.IsZero() || due.Before(next) {
			next = due
		}
	}
	return next, resent
}
