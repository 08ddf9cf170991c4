package room

import (
	"fmt"

	"github.com/koopa0/system-design/14-rhythm-session/internal/playerset"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
)

// SongSelectionMode 選曲方式
type SongSelectionMode uint8

const (
	// SelectionVote 推薦同一首歌的人數最多者勝出（輪替指標之後的玩家加權）
	SelectionVote SongSelectionMode = iota
	// SelectionRandom 伺服器不選歌
	SelectionRandom
	// SelectionOwnerPicks 房主選歌；房主不在時退回投票
	SelectionOwnerPicks
	// SelectionRandomPlayerPicks 輪替指標指到的玩家選歌
	SelectionRandomPlayerPicks
)

func (m SongSelectionMode) String() string {
	switch m {
	case SelectionVote:
		return "vote"
	case SelectionRandom:
		return "random"
	case SelectionOwnerPicks:
		return "owner_picks"
	case SelectionRandomPlayerPicks:
		return "random_player_picks"
	}
	return fmt.Sprintf("SongSelectionMode(%d)", uint8(m))
}

// ParseSongSelectionMode 由設定字串解析
func ParseSongSelectionMode(s string) (SongSelectionMode, error) {
	for m := SelectionVote; m <= SelectionRandomPlayerPicks; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, apperrors.ErrInvalidConfig.WithDetails("unknown song selection mode " + s)
}

// InvitePolicy 邀請權限
type InvitePolicy uint8

const (
	InviteOnlyConnectionOwner InvitePolicy = iota
	InviteAnyone
)

// ControlSettings 遊戲中控制權限
type ControlSettings uint8

const (
	ControlNone ControlSettings = iota
	ControlAllowModifierSelection
	ControlAll
)

// Config 房間設定（開房時決定，之後不變）
type Config struct {
	MaxPlayers        int               `json:"max_players"`
	SongSelectionMode SongSelectionMode `json:"song_selection_mode"`
	InvitePolicy      InvitePolicy      `json:"invite_policy"`
	ControlSettings   ControlSettings   `json:"control_settings"`
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		MaxPlayers:        5,
		SongSelectionMode: SelectionVote,
		InvitePolicy:      InviteAnyone,
		ControlSettings:   ControlAllowModifierSelection,
	}
}

// Validate 驗證設定
func (c Config) Validate() error {
	if c.MaxPlayers < 1 || c.MaxPlayers > playerset.Capacity {
		return apperrors.ErrInvalidConfig.WithDetails(fmt.Sprintf("max_players %d not in [1, %d]", c.MaxPlayers, playerset.Capacity))
	}
	if c.SongSelectionMode > SelectionRandomPlayerPicks {
		return apperrors.ErrInvalidConfig.WithDetails(fmt.Sprintf("song_selection_mode %d", c.SongSelectionMode))
	}
	if c.InvitePolicy > InviteAnyone {
		return apperrors.ErrInvalidConfig.WithDetails(fmt.Sprintf("invite_policy %d", c.InvitePolicy))
	}
	if c.ControlSettings > ControlAll {
		return apperrors.ErrInvalidConfig.WithDetails(fmt.Sprintf("control_settings %d", c.ControlSettings))
	}
	return nil
}
