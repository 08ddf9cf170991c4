package transport_test

import (
	"testing"

	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name string
		in   transport.Packet
	}{
		{"unreliable", transport.Packet{Property: transport.PropertyUnreliable, Payload: []byte{1, 2}}},
		{"channeled", transport.Packet{Property: transport.PropertyChanneled, Channel: transport.ReliableOrdered, Sequence: 65535, Payload: []byte("x")}},
		{"fragment", transport.Packet{
			Property: transport.PropertyChanneled, Channel: transport.ReliableUnordered, Sequence: 4,
			Fragmented: true, FragmentID: 300, FragmentPart: 2, FragmentsTotal: 3, Payload: []byte("frag"),
		}},
		{"ack", transport.Packet{Property: transport.PropertyAck, Channel: transport.Sequenced, Sequence: 17, Payload: []byte{0xff}}},
		{"ping", transport.Packet{Property: transport.PropertyPing, Sequence: 2}},
		{"pong", transport.Packet{Property: transport.PropertyPong, Sequence: 2, Time: 1_700_000_000_123}},
		{"connect request with conn number", transport.Packet{Property: transport.PropertyConnectRequest, ConnNumber: 3, Payload: []byte("hello")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transport.ParsePacket(tt.in.Bytes())
			require.NoError(t, err)
			if tt.in.Payload == nil {
				tt.in.Payload = []byte{}
			}
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestParsePacket_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, transport.ErrShortPacket},
		{"channeled header cut", []byte{byte(transport.PropertyChanneled), 0x01}, transport.ErrShortPacket},
		{"fragment header cut", []byte{byte(transport.PropertyChanneled) | 0x80, 0, 0, 0, 1, 0}, transport.ErrShortPacket},
		{"invalid channel", []byte{byte(transport.PropertyChanneled), 0, 0, 9}, transport.ErrMalformed},
		{"invalid ack channel", []byte{byte(transport.PropertyAck), 0, 0, 3}, transport.ErrMalformed},
		{"fragmented ping", []byte{byte(transport.PropertyPing) | 0x80, 0, 0}, transport.ErrMalformed},
		{"pong cut", []byte{byte(transport.PropertyPong), 0, 0, 1}, transport.ErrShortPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transport.ParsePacket(tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSplitMerged(t *testing.T) {
	a := []byte{byte(transport.PropertyPing), 1, 0}
	b := []byte{byte(transport.PropertyUnreliable), 'h', 'i'}
	raw := transport.AppendMerged(nil, a, b)

	p, err := transport.ParsePacket(raw)
	require.NoError(t, err)
	require.Equal(t, transport.PropertyMerged, p.Property)

	parts, err := transport.SplitMerged(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{a, b}, parts)

	_, err = transport.SplitMerged([]byte{0, 0})
	assert.ErrorIs(t, err, transport.ErrMalformed, "zero length")
	parts, err = transport.SplitMerged(append(p.Payload, 5))
	assert.ErrorIs(t, err, transport.ErrShortPacket)
	assert.Len(t, parts, 2)
}

func TestPropertyString(t *testing.T) {
	assert.Equal(t, "Merged", transport.PropertyMerged.String())
	assert.Equal(t, "Property(31)", transport.Property(31).String())
	assert.Equal(t, "ReliableOrdered", transport.ReliableOrdered.String())
}
