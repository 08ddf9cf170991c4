package protocol_test

import (
	"testing"

	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHash_ServerIdentity(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"dedicated_server", true},
		{"in_menu", true},
		{protocol.FlagWantsToPlayNextLevel, true},
		{protocol.FlagModded, false},
		{"player", false},
		{"spectating", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, protocol.ServerStateHash.Contains(tt.key))
		})
	}
}

func TestStateHash_KnownBits(t *testing.T) {
	assert.Equal(t, protocol.StateHash{D0: 4295000064, D1: 262144}, protocol.StateHashOf(protocol.FlagModded))
	assert.Equal(t, protocol.StateHash{D0: 35184372088896, D1: 4194304}, protocol.StateHashOf(protocol.FlagWantsToPlayNextLevel))
}

func TestStateHash_NoFalseNegatives(t *testing.T) {
	keys := []string{"a", "ab", "abc", "abcd", "abcde", protocol.FlagModded, protocol.FlagWantsToPlayNextLevel}
	h := protocol.StateHashOf(keys...)
	for _, k := range keys {
		assert.True(t, h.Contains(k), k)
	}
	assert.False(t, protocol.StateHash{}.Contains(protocol.FlagModded))
}

func TestBeatmap_Equal(t *testing.T) {
	base := protocol.Beatmap{LevelID: "custom_level_ABC", Characteristic: "Standard", Difficulty: 3}

	tests := []struct {
		name             string
		other            protocol.Beatmap
		ignoreDifficulty bool
		want             bool
	}{
		{"identical", base, false, true},
		{"other difficulty", protocol.Beatmap{LevelID: base.LevelID, Characteristic: "Standard", Difficulty: 4}, false, false},
		{"other difficulty ignored", protocol.Beatmap{LevelID: base.LevelID, Characteristic: "Standard", Difficulty: 4}, true, true},
		{"other characteristic ignored", protocol.Beatmap{LevelID: base.LevelID, Characteristic: "OneSaber"}, true, true},
		{"other level", protocol.Beatmap{LevelID: "x", Characteristic: "Standard", Difficulty: 3}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Equal(tt.other, tt.ignoreDifficulty))
		})
	}
	assert.True(t, protocol.Beatmap{LevelID: "x"}.IsZero())
	assert.False(t, base.IsZero())
}

func TestModifiers_Equal(t *testing.T) {
	speed := protocol.Modifiers(1 << 18)
	noFail := protocol.Modifiers(1 << 2)

	assert.True(t, noFail.Equal(0, false), "optional bits are ignored")
	assert.False(t, noFail.Equal(0, true))
	assert.False(t, speed.Equal(0, false), "song speed must match")
	assert.True(t, (speed | noFail).Equal(speed, false))
}

func TestFrame_RoundTrip(t *testing.T) {
	codec := protocol.NewMsgpackCodec()
	msgs := []protocol.Message{
		protocol.SyncTimeMessage(12.5),
		protocol.MenuMessage(protocol.MenuRPC{
			Type:      protocol.SetSelectedBeatmap,
			SyncTime:  12.5,
			Beatmap:   &protocol.Beatmap{LevelID: "lvl", Characteristic: "Standard", Difficulty: 2},
			Modifiers: nil,
		}),
		protocol.GameplayMessage(protocol.GameplayRPC{
			Type:          protocol.SetGameplaySceneSyncFinish,
			SessionGameID: "00000000-0000-0000-0000-000000000001",
			Players:       []protocol.PlayerSettings{{UserID: "u1", PlayerHeight: 1.8}},
		}),
		protocol.IdentityMessage(protocol.PlayerIdentity{State: protocol.ServerStateHash, Random: make([]byte, 32)}),
	}

	frame, err := protocol.EncodeFrame(codec, protocol.FromPlayer(2), msgs...)
	require.NoError(t, err)

	routing, got, err := protocol.DecodeFrame(codec, frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.Routing{RemoteConnectionID: 3}, routing)
	require.Len(t, got, len(msgs))
	assert.Equal(t, protocol.TypeSyncTime, got[0].Type)
	assert.Equal(t, float32(12.5), got[0].SyncTime)
	require.NotNil(t, got[1].Menu)
	assert.Equal(t, protocol.SetSelectedBeatmap, got[1].Menu.Type)
	assert.Equal(t, "lvl", got[1].Menu.Beatmap.LevelID)
	require.NotNil(t, got[2].Gameplay)
	assert.Equal(t, msgs[2].Gameplay.Players, got[2].Gameplay.Players)
	require.NotNil(t, got[3].Identity)
	assert.Equal(t, protocol.ServerStateHash, got[3].Identity.State)
}

func TestSplitFrame(t *testing.T) {
	_, _, err := protocol.SplitFrame([]byte{1, 2})
	assert.ErrorIs(t, err, protocol.ErrShortFrame)

	r, body, err := protocol.SplitFrame([]byte{0, protocol.BroadcastConnectionID, 1, 9, 9})
	require.NoError(t, err)
	assert.Equal(t, protocol.Routing{ConnectionID: protocol.BroadcastConnectionID, Encrypted: true}, r)
	assert.Equal(t, []byte{9, 9}, body)
}

func TestDecodeFrame_Garbage(t *testing.T) {
	_, _, err := protocol.DecodeFrame(protocol.NewMsgpackCodec(), []byte{0, 0, 0, 0xc1})
	assert.Error(t, err)
}

func TestRPCTypeString(t *testing.T) {
	assert.Equal(t, "SetIsStartButtonEnabled", protocol.SetIsStartButtonEnabled.String())
	assert.Equal(t, "SliderSpawned", protocol.SliderSpawned.String())
	assert.Equal(t, "PongMessage", protocol.TypePongMessage.String())
	assert.Equal(t, "MenuRPCType(200)", protocol.MenuRPCType(200).String())
}

func BenchmarkStateHash_Contains(b *testing.B) {
	h := protocol.StateHashOf(protocol.FlagModded)
	for i := 0; i < b.N; i++ {
		_ = h.Contains(protocol.FlagWantsToPlayNextLevel)
	}
}
