package transport

import "time"

// sequencedChannel 只保留最新值的通道
//
// 發送端只記住最後一個封包並重送到收到 ack 為止；接收端只交付比上次新的序號，
// ack 只回報最後交付的序號。
type sequencedChannel struct {
	outSeq  uint16
	pending outSlot

	inSeq   uint16
	hasIn   bool
	needAck bool
}

func (c *sequencedChannel) emit(p Packet, now time.Time, out func([]byte)) {
	p.Property = PropertyChanneled
	p.Channel = Sequenced
	p.Fragmented = false
	p.Sequence = c.outSeq
	c.outSeq++
	data := p.Bytes()
	c.pending = outSlot{seq: p.Sequence, data: data, sentAt: now, used: true}
	out(data)
}

func (c *sequencedChannel) onAck(seq uint16) {
	if c.pending.used && seqDiff(seq, c.pending.seq) >= 0 {
		c.pending = outSlot{}
	}
}

// receive 回傳 false 表示封包過期被丟棄
func (c *sequencedChannel) receive(p Packet, deliver func(Packet) bool) bool {
	c.needAck = true
	if c.hasIn && seqDiff(p.Sequence, c.inSeq) <= 0 {
		return false
	}
	c.inSeq = p.Sequence
	c.hasIn = true
	deliver(p)
	return true
}

func (c *sequencedChannel) ackPacket() Packet {
	return Packet{Property: PropertyAck, Channel: Sequenced, Sequence: c.inSeq}
}

func (c *sequencedChannel) resend(now time.Time, delay time.Duration, out func([]byte)) (next time.Time, resent int) {
	if !c.pending.used {
		return time.Time{}, 0
	}
	due := c.pending.sentAt.Add(delay)
	if !now.Before(due) {
		c.pending.sentAt = now
		out(c.pending.data)
		return now.Add(delay), 1
	}
	return due, 0
}
