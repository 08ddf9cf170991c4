package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// RoutingHeaderSize 路由標頭長度
const RoutingHeaderSize = 3

// ErrShortFrame frame 不足以容納路由標頭
var ErrShortFrame = errors.New("protocol: frame shorter than routing header")

// Codec 訊息編解碼
//
// 房間只關心成功或失敗，不依賴任何位元組佈局。
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// MsgpackCodec 以 msgpack 編碼
type MsgpackCodec struct{}

// NewMsgpackCodec 建立 msgpack codec
func NewMsgpackCodec() MsgpackCodec {
	return MsgpackCodec{}
}

// Encode 編碼
func (MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode 解碼
func (MsgpackCodec) Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

// AppendRouting 寫入路由標頭
func AppendRouting(b []byte, r Routing) []byte {
	var enc byte
	if r.Encrypted {
		enc = 1
	}
	return append(b, r.RemoteConnectionID, r.ConnectionID, enc)
}

// SplitFrame 拆出路由標頭與內容；內容直接引用輸入
func SplitFrame(frame []byte) (Routing, []byte, error) {
	if len(frame) < RoutingHeaderSize {
		return Routing{}, nil, ErrShortFrame
	}
	r := Routing{
		RemoteConnectionID: frame[0],
		ConnectionID:       frame[1],
		Encrypted:          frame[2] != 0,
	}
	return r, frame[RoutingHeaderSize:], nil
}

// EncodeFrame 路由標頭 + 一批訊息
func EncodeFrame(c Codec, r Routing, msgs ...Message) ([]byte, error) {
	body, err := c.Encode(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, RoutingHeaderSize+len(body))
	out = AppendRouting(out, r)
	return append(out, body...), nil
}

// DecodeMessages 解碼 frame 內容
func DecodeMessages(c Codec, body []byte) ([]Message, error) {
	var msgs []Message
	if err := c.Decode(body, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DecodeFrame 解碼完整 frame
func DecodeFrame(c Codec, frame []byte) (Routing, []Message, error) {
	r, body, err := SplitFrame(frame)
	if err != nil {
		return r, nil, err
	}
	msgs, err := DecodeMessages(c, body)
	return r, msgs, err
}
