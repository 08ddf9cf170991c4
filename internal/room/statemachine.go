package room

import (
	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-rhythm-session/internal/playerset"
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
)

// setRoomState 推進房間階段
//
// 轉換規則：
//
//	Entitlement    依選曲方式選出請求者；沒有可用推薦時回到 Idle
//	Ready          所有玩家都準備（或旁觀），或房主準備 → LongCountdown
//	LongCountdown  所有玩家都準備 → ShortCountdown；已在倒數中不重設期限
//	Downloading    所有玩家都已下載 → LoadingScene
//	LoadingSong    只保留已載入場景的玩家，沒人留下則直接 Results
//	Gameplay       只保留已載入歌曲的玩家，沒人留下則直接 Results
//
// 最後依槽位遞增順序把新階段投影到每個已連線玩家。
func (r *Room) setRoomState(state Phase) {
	from := r.phase
	if edge(from, state, PhaseLobby) {
		r.selected = protocol.Beatmap{}
		r.selectedMods = 0
		r.data = &lobbyState{
			reason:    protocol.CannotStartNoSongSelected,
			requester: -1,
		}
	} else if edge(from, state, PhaseGame) {
		r.data = &gameState{active: r.connected}
	}

	switch state {
	case PhaseEntitlement:
		l := r.lobby()
		sel := r.selectRequester()
		l.requester = sel
		if sel < 0 || r.players[sel].recommended.IsZero() {
			l.entitled = r.connected
			r.selected = protocol.Beatmap{}
			r.selectedMods = 0
			r.setRoomState(PhaseIdle)
			return
		}
		s := &r.players[sel]
		if from.In(PhaseSelected) && l.entitled == r.connected && s.recommended.Equal(r.selected, false) {
			return
		}
		l.reason = protocol.CannotStartNone
		l.entitled = playerset.Set{}
		l.downloaded = playerset.Set{}
		l.missing = playerset.Set{}
		r.selected = s.recommended
		r.selectedMods = s.recommendMods
		r.sendEvent(Event{Type: EventLevelSelected, Slot: sel, UserID: s.userID, LevelID: r.selected.LevelID})

	case PhaseIdle:
		l := r.lobby()
		if r.selected.IsZero() {
			l.reason = protocol.CannotStartNoSongSelected
		} else {
			l.reason = protocol.CannotStartDoNotOwnSong
		}

	case PhaseReady:
		l := r.lobby()
		l.reason = protocol.CannotStartNone
		if !r.inLobby.IsSupersetOf(r.connected) {
			l.reason = protocol.CannotStartAllPlayersNotInLobby
			break
		}
		if r.spectating.IsSupersetOf(r.connected) {
			l.reason = protocol.CannotStartAllPlayersSpectating
			break
		}
		if l.ready.Union(r.spectating).IsSupersetOf(r.connected) || l.ready.Has(r.owner) {
			r.setRoomState(PhaseLongCountdown)
			return
		}

	case PhaseLongCountdown:
		l := r.lobby()
		if l.ready.Union(r.spectating).IsSupersetOf(r.connected) {
			r.setRoomState(PhaseShortCountdown)
			return
		}
		if from&PhaseSelected >= PhaseLongCountdown {
			return
		}
		r.deadline = r.sync() + r.longCountdown

	case PhaseShortCountdown:
		if from&PhaseSelected >= PhaseShortCountdown {
			return
		}
		r.deadline = r.sync() + r.shortCountdown

	case PhaseDownloading:
		if r.lobby().downloaded.IsSupersetOf(r.connected) {
			r.setRoomState(PhaseLoadingScene)
			return
		}

	case PhaseLoadingScene:
		r.game().sceneLoaded = playerset.Set{}
		r.deadline = r.sync() + float32(LoadTimeout.Seconds())

	case PhaseLoadingSong:
		g := r.game()
		if from == PhaseLoadingScene {
			g.active = g.active.Intersect(g.sceneLoaded)
			if r.tryFinish() {
				return
			}
		}
		r.sessionGameID = uuid.NewString()
		g.songLoaded = playerset.Set{}
		r.deadline = r.sync() + float32(LoadTimeout.Seconds())

	case PhaseGameplay:
		g := r.game()
		if from == PhaseLoadingSong {
			g.active = g.active.Intersect(g.songLoaded)
			if r.tryFinish() {
				return
			}
		}
		g.startTime = r.sync() + .25

	case PhaseResults:
		if r.game().showResults {
			r.deadline = r.sync() + 20
		} else {
			r.deadline = r.sync() + 1
		}
	}

	r.phase = state
	for id := range r.connected.All() {
		r.setSessionState(&r.players[id], state)
	}
	r.logger.Debug("房間階段變更", "from", from, "to", state)
	r.sendEvent(Event{Type: EventPhaseChanged, Phase: state.String()})
}

// tryFinish 沒有玩家留在本局時輪替選曲者並進入 Results
func (r *Room) tryFinish() bool {
	if !r.game().active.IsEmpty() {
		return false
	}
	r.roundRobin = nextRoundRobin(r.roundRobin, r.connected)
	r.setRoomState(PhaseResults)
	return true
}

// countdownEnd 倒數結束的 sync time
func (r *Room) countdownEnd() float32 {
	switch r.phase {
	case PhaseLongCountdown:
		return r.deadline + r.shortCountdown
	case PhaseShortCountdown:
		return r.deadline
	}
	return r.sync()
}

// onPhaseTimeout 逾時階段到期時前進
func (r *Room) onPhaseTimeout() {
	r.setRoomState(r.phase.next())
}
