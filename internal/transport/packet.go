package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Property 封包類型（標頭低 5 位元）
type Property uint8

const (
	PropertyUnreliable Property = iota
	PropertyChanneled
	PropertyAck
	PropertyPing
	PropertyPong
	PropertyConnectRequest
	PropertyConnectAccept
	PropertyDisconnect
	PropertyUnconnectedMessage
	PropertyMtuCheck
	PropertyMtuOk
	PropertyBroadcast
	PropertyMerged
	PropertyShutdownOk
	PropertyPeerNotFound
	PropertyInvalidProtocol
	PropertyNatMessage
	PropertyEmpty
)

var propertyNames = [...]string{
	"Unreliable", "Channeled", "Ack", "Ping", "Pong", "ConnectRequest",
	"ConnectAccept", "Disconnect", "UnconnectedMessage", "MtuCheck", "MtuOk",
	"Broadcast", "Merged", "ShutdownOk", "PeerNotFound", "InvalidProtocol",
	"NatMessage", "Empty",
}

func (p Property) String() string {
	if int(p) < len(propertyNames) {
		return propertyNames[p]
	}
	return fmt.Sprintf("Property(%d)", uint8(p))
}

// Channel 傳輸通道
type Channel uint8

const (
	ReliableUnordered Channel = 0
	Sequenced         Channel = 1
	ReliableOrdered   Channel = 2
)

func (c Channel) String() string {
	switch c {
	case ReliableUnordered:
		return "ReliableUnordered"
	case Sequenced:
		return "Sequenced"
	case ReliableOrdered:
		return "ReliableOrdered"
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

func (c Channel) valid() bool {
	return c <= ReliableOrdered
}

// 標頭大小
const (
	baseHeaderSize      = 1
	channeledHeaderSize = baseHeaderSize + 3
	fragmentHeaderSize  = channeledHeaderSize + 6
	ackHeaderSize       = baseHeaderSize + 3
	pingHeaderSize      = baseHeaderSize + 2
	pongHeaderSize      = baseHeaderSize + 10
	mergedLengthSize    = 2
)

var (
	// ErrShortPacket 資料長度不足以解析標頭
	ErrShortPacket = errors.New("transport: short packet")
	// ErrMalformed 標頭欄位不合法
	ErrMalformed = errors.New("transport: malformed packet")
)

// Packet 解析後的資料報
//
// Payload 直接引用輸入緩衝區，呼叫端若要保留必須自行複製。
type Packet struct {
	Property   Property
	ConnNumber uint8
	Fragmented bool

	Sequence uint16  // Channeled / Ack / Ping / Pong
	Channel  Channel // Channeled / Ack

	FragmentID     uint16
	FragmentPart   uint16
	FragmentsTotal uint16

	Time int64 // Pong：回應端時間（Unix 奈秒）

	Payload []byte
}

// AppendTo 將封包編碼後附加到 b
func (p *Packet) AppendTo(b []byte) []byte {
	hdr := uint8(p.Property)&0x1f | (p.ConnNumber&0x3)<<5
	if p.Fragmented {
		hdr |= 0x80
	}
	b = append(b, hdr)
	switch p.Property {
	case PropertyChanneled:
		b = binary.LittleEndian.AppendUint16(b, p.Sequence)
		b = append(b, uint8(p.Channel))
		if p.Fragmented {
			b = binary.LittleEndian.AppendUint16(b, p.FragmentID)
			b = binary.LittleEndian.AppendUint16(b, p.FragmentPart)
			b = binary.LittleEndian.AppendUint16(b, p.FragmentsTotal)
		}
	case PropertyAck:
		b = binary.LittleEndian.AppendUint16(b, p.Sequence)
		b = append(b, uint8(p.Channel))
	case PropertyPing:
		b = binary.LittleEndian.AppendUint16(b, p.Sequence)
	case PropertyPong:
		b = binary.LittleEndian.AppendUint16(b, p.Sequence)
		b = binary.LittleEndian.AppendUint64(b, uint64(p.Time))
	}
	return append(b, p.Payload...)
}

// Bytes 編碼封包
func (p *Packet) Bytes() []byte {
	return p.AppendTo(make([]byte, 0, fragmentHeaderSize+len(p.Payload)))
}

// ParsePacket 解析單一資料報
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < baseHeaderSize {
		return Packet{}, ErrShortPacket
	}
	p := Packet{
		Property:   Property(b[0] & 0x1f),
		ConnNumber: (b[0] >> 5) & 0x3,
		Fragmented: b[0]&0x80 != 0,
	}
	if p.Fragmented && p.Property != PropertyChanneled {
		return p, fmt.Errorf("%w: fragmented %s", ErrMalformed, p.Property)
	}
	rest := b[baseHeaderSize:]
	switch p.Property {
	case PropertyChanneled:
		need := channeledHeaderSize - baseHeaderSize
		if p.Fragmented {
			need = fragmentHeaderSize - baseHeaderSize
		}
		if len(rest) < need {
			return p, ErrShortPacket
		}
		p.Sequence = binary.LittleEndian.Uint16(rest)
		p.Channel = Channel(rest[2])
		if !p.Channel.valid() {
			return p, fmt.Errorf("%w: channel %d", ErrMalformed, rest[2])
		}
		if p.Fragmented {
			p.FragmentID = binary.LittleEndian.Uint16(rest[3:])
			p.FragmentPart = binary.LittleEndian.Uint16(rest[5:])
			p.FragmentsTotal = binary.LittleEndian.Uint16(rest[7:])
		}
		rest = rest[need:]
	case PropertyAck:
		if len(rest) < ackHeaderSize-baseHeaderSize {
			return p, ErrShortPacket
		}
		p.Sequence = binary.LittleEndian.Uint16(rest)
		p.Channel = Channel(rest[2])
		if !p.Channel.valid() {
			return p, fmt.Errorf("%w: channel %d", ErrMalformed, rest[2])
		}
		rest = rest[ackHeaderSize-baseHeaderSize:]
	case PropertyPing:
		if len(rest) < pingHeaderSize-baseHeaderSize {
			return p, ErrShortPacket
		}
		p.Sequence = binary.LittleEndian.Uint16(rest)
		rest = rest[pingHeaderSize-baseHeaderSize:]
	case PropertyPong:
		if len(rest) < pongHeaderSize-baseHeaderSize {
			return p, ErrShortPacket
		}
		p.Sequence = binary.LittleEndian.Uint16(rest)
		p.Time = int64(binary.LittleEndian.Uint64(rest[2:]))
		rest = rest[pongHeaderSize-baseHeaderSize:]
	}
	p.Payload = rest
	return p, nil
}

// AppendMerged 將多個已編碼封包合併成一個 Merged 資料報
func AppendMerged(b []byte, packets ...[]byte) []byte {
	b = append(b, uint8(PropertyMerged))
	for _, pkt := range packets {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(pkt)))
		b = append(b, pkt...)
	}
	return b
}

// SplitMerged 拆開 Merged 資料報的內容
//
// 遇到長度錯誤時回傳已成功拆出的部分與錯誤，剩餘位元組丟棄。
func SplitMerged(payload []byte) ([][]byte, error) {
	var out [][]byte
	for len(payload) > 0 {
		if len(payload) < mergedLengthSize {
			return out, ErrShortPacket
		}
		n := int(binary.LittleEndian.Uint16(payload))
		payload = payload[mergedLengthSize:]
		if n == 0 || n > len(payload) {
			return out, fmt.Errorf("%w: merged length %d", ErrMalformed, n)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out, nil
}
