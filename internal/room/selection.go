package room

import (
	"github.com/koopa0/system-design/14-rhythm-session/internal/playerset"
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
)

// phaseData 階段專屬資料：大廳是 *lobbyState，遊戲是 *gameState
type phaseData interface {
	phaseData()
}

// lobbyState 大廳階段資料
type lobbyState struct {
	entitled   playerset.Set // 已回報擁有狀態
	downloaded playerset.Set // 回報 Ok（已下載）
	ready      playerset.Set
	missing    playerset.Set // 沒有這首歌
	reason     protocol.CannotStartReason
	requester  int // 目前選曲來自哪個玩家，-1 代表沒有
}

func (*lobbyState) phaseData() {}

// gameState 遊戲階段資料
type gameState struct {
	active      playerset.Set // 仍在本局中的玩家
	sceneLoaded playerset.Set
	songLoaded  playerset.Set
	startTime   float32
	showResults bool
}

func (*gameState) phaseData() {}

// lobby 大廳資料（不在大廳時為 nil）
func (r *Room) lobby() *lobbyState {
	l, _ := r.data.(*lobbyState)
	return l
}

// game 遊戲資料（不在遊戲中時為 nil）
func (r *Room) game() *gameState {
	g, _ := r.data.(*gameState)
	return g
}

// nextRoundRobin 集合中大於 prev 的最小槽位，沒有則繞回最小槽位（空集合為 0）
func nextRoundRobin(prev int, set playerset.Set) int {
	if id, ok := set.Next(prev); ok {
		return id
	}
	id, _ := set.First()
	return id
}

// selectRequester 依選曲方式決定採用哪個玩家的推薦，-1 代表沒有
func (r *Room) selectRequester() int {
	switch r.cfg.SongSelectionMode {
	case SelectionRandom:
		return -1
	case SelectionOwnerPicks:
		if r.connected.Has(r.owner) {
			return r.owner
		}
	case SelectionRandomPlayerPicks:
		if r.connected.Has(r.roundRobin) && !r.players[r.roundRobin].recommended.IsZero() {
			return r.roundRobin
		}
		return -1
	}
	return r.vote()
}

// vote 票數最多的譜面勝出
//
// 每個推薦者本身算一票，輪替指標之後（含）的玩家多算一票；推薦相同譜面的
// 其他玩家各加一票。同一首歌由最早推薦的人當作請求者。平手時先走訪到的
// （槽位較小的）勝出。
func (r *Room) vote() int {
	selected, best := -1, 0
	for id := range r.connected.All() {
		s := &r.players[id]
		if s.recommended.IsZero() {
			continue
		}
		biased := 1
		if id >= r.roundRobin {
			biased++
		}
		first, requestTime := id, s.recommendTime
		for cmp := range r.connected.Except(id) {
			c := &r.players[cmp]
			if !c.recommended.Equal(s.recommended, r.perPlayerDifficulty) {
				continue
			}
			biased++
			if c.recommendTime < requestTime {
				requestTime = c.recommendTime
				first = cmp
			}
		}
		if biased > best {
			best = biased
			selected = first
		}
	}
	return selected
}

// sessionBeatmap 玩家看到的譜面（允許個人難度時使用自己推薦的難度）
func (r *Room) sessionBeatmap(s *Session) protocol.Beatmap {
	if r.perPlayerDifficulty && s.recommended.Equal(r.selected, true) {
		return s.recommended
	}
	return r.selected
}

// sessionModifiers 玩家看到的修飾（允許個人修飾時，必要位元一致即使用自己的）
func (r *Room) sessionModifiers(s *Session) protocol.Modifiers {
	if r.perPlayerModifiers && s.recommendMods.Equal(r.selectedMods, false) {
		return s.recommendMods
	}
	return r.selectedMods
}

// permissions 玩家權限
func (r *Room) permissions(s *Session) protocol.PlayerPermissions {
	owner := s.slot == r.owner
	mode := r.cfg.SongSelectionMode
	return protocol.PlayerPermissions{
		UserID:             s.userID,
		IsServerOwner:      owner,
		RecommendBeatmaps:  mode != SelectionRandom && (owner || mode != SelectionOwnerPicks),
		RecommendModifiers: r.cfg.ControlSettings == ControlAllowModifierSelection || r.cfg.ControlSettings == ControlAll,
		KickVote:           owner,
		Invite:             r.cfg.InvitePolicy == InviteAnyone || (owner && r.cfg.InvitePolicy == InviteOnlyConnectionOwner),
	}
}

// permissionConfiguration 集合中每個玩家的權限
func (r *Room) permissionConfiguration(set playerset.Set) []protocol.PlayerPermissions {
	out := make([]protocol.PlayerPermissions, 0, set.Len())
	for id := range set.All() {
		out = append(out, r.permissions(&r.players[id]))
	}
	return out
}
