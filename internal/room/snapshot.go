package room

import (
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
)

// PlayerInfo 玩家狀態（狀態頁使用）
type PlayerInfo struct {
	Slot       int             `json:"slot"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name"`
	Phase      string          `json:"phase"`
	Owner      bool            `json:"owner"`
	Ready      bool            `json:"ready"`
	InLobby    bool            `json:"in_lobby"`
	Spectating bool            `json:"spectating"`
	LatencyMs  float64         `json:"latency_ms"`
	Transport  transport.Stats `json:"transport"`
}

// Snapshot 房間狀態快照
type Snapshot struct {
	Code          uint32            `json:"code"`
	Phase         string            `json:"phase"`
	Config        Config            `json:"config"`
	Owner         string            `json:"owner,omitempty"`
	SessionGameID string            `json:"session_game_id,omitempty"`
	Selected      *protocol.Beatmap `json:"selected,omitempty"`
	Players       []PlayerInfo      `json:"players"`
}

// Snapshot 取得快照（呼叫端須持有分區鎖）
func (r *Room) Snapshot() Snapshot {
	snap := Snapshot{
		Code:          r.code,
		Phase:         r.phase.String(),
		Config:        r.cfg,
		Owner:         r.OwnerID(),
		SessionGameID: r.sessionGameID,
		Players:       make([]PlayerInfo, 0, r.playerSort.Len()),
	}
	if !r.selected.IsZero() {
		sel := r.selected
		snap.Selected = &sel
	}
	l := r.lobby()
	for id := range r.playerSort.All() {
		s := &r.players[id]
		info := PlayerInfo{
			Slot:       id,
			UserID:     s.userID,
			UserName:   s.userName,
			Phase:      s.state.String(),
			Owner:      id == r.owner,
			InLobby:    r.inLobby.Has(id),
			Spectating: r.spectating.Has(id),
			LatencyMs:  float64(s.latency) * 1000,
			Transport:  s.conn.Stats(),
		}
		if l != nil {
			info.Ready = l.ready.Has(id)
		}
		snap.Players = append(snap.Players, info)
	}
	return snap
}
