package room

import (
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
)

// setSessionState 把房間階段投影到單一玩家
//
// 比較玩家目前看到的階段與新階段，只送出兩者差異需要的訊息；
// 一次投影的所有訊息合併成一個 ReliableOrdered frame。
// 新階段離開 Connected 時會把玩家移出 connected 並通知其他玩家。
func (r *Room) setSessionState(s *Session, state Phase) {
	from := s.state
	var msgs []protocol.Message

	if edge(from, state, PhaseConnected) {
		r.connected.Set(s.slot, true)
		r.sendEvent(Event{Type: EventPlayerConnected, Slot: s.slot, UserID: s.userID})
	} else if edge(state, from, PhaseConnected) {
		r.connected.Set(s.slot, false)
		if r.roundRobin == s.slot {
			r.roundRobin = nextRoundRobin(r.roundRobin, r.connected)
		}
		r.broadcast(r.connected, protocol.FromPlayer(s.slot),
			protocol.PlayerDisconnectedMessage(protocol.DisconnectedClientConnectionClosed))
		if g := r.game(); g != nil && r.phase.In(PhaseGame) {
			if g.active.Set(s.slot, false) {
				r.tryFinish()
			}
		}
		r.sendEvent(Event{Type: EventPlayerDisconnected, Slot: s.slot, UserID: s.userID})
	}

	if state.In(PhaseLobby) {
		needSet := state == PhaseEntitlement
		if !from.In(PhaseLobby) {
			needSet = true
			s.recommended = protocol.Beatmap{}
			msgs = append(msgs,
				r.gameplay(protocol.GameplayRPC{Type: protocol.ReturnToMenu}),
				r.menu(protocol.MenuRPC{Type: protocol.SetMultiplayerGameState, GameState: protocol.GameStateLobby}))
		} else if edge(state, from, PhaseCountdown|PhaseDownloading) {
			msgs = append(msgs,
				r.menu(protocol.MenuRPC{Type: protocol.CancelCountdown}),
				r.menu(protocol.MenuRPC{Type: protocol.CancelLevelStart}))
		}
		if needSet {
			beatmap, mods := r.sessionBeatmap(s), r.sessionModifiers(s)
			msgs = append(msgs,
				r.menu(protocol.MenuRPC{Type: protocol.SetSelectedBeatmap, Beatmap: &beatmap}),
				r.menu(protocol.MenuRPC{Type: protocol.SetSelectedGameplayModifiers, Modifiers: &mods}))
		}
		if edge(from, state, PhaseCountdown|PhaseDownloading) {
			beatmap, mods := r.sessionBeatmap(s), r.sessionModifiers(s)
			msgs = append(msgs,
				r.menu(protocol.MenuRPC{
					Type:      protocol.StartLevel,
					Beatmap:   &beatmap,
					Modifiers: &mods,
					StartTime: r.deadline + startLevelOffset,
				}),
				r.menu(protocol.MenuRPC{Type: protocol.SetCountdownEndTime, NewTime: r.countdownEnd()}))
		} else if state.In(PhaseCountdown) {
			msgs = append(msgs,
				r.menu(protocol.MenuRPC{Type: protocol.CancelCountdown}),
				r.menu(protocol.MenuRPC{Type: protocol.SetCountdownEndTime, NewTime: r.countdownEnd()}))
		}
	} else if edge(from, state, PhaseGame) {
		msgs = append(msgs, r.menu(protocol.MenuRPC{Type: protocol.SetMultiplayerGameState, GameState: protocol.GameStateGame}))
	}

	switch state {
	case PhaseEntitlement:
		levelID := r.selected.LevelID
		msgs = append(msgs, r.menu(protocol.MenuRPC{Type: protocol.GetIsEntitledToLevel, LevelID: levelID}))
		if s.beatUpVersion != 0 {
			msgs = append(msgs, protocol.BeatUpMessage(protocol.BeatUp{
				Type:  protocol.BeatUpShareInfo,
				Share: &protocol.ShareInfo{Usage: protocol.ShareableBeatmapSet, Name: levelID},
			}))
		}
		msgs = append(msgs, r.menu(protocol.MenuRPC{Type: protocol.SetIsStartButtonEnabled, Reason: r.lobby().reason}))

	case PhaseIdle, PhaseReady:
		msgs = append(msgs, r.menu(protocol.MenuRPC{Type: protocol.SetIsStartButtonEnabled, Reason: r.lobby().reason}))

	case PhaseLoadingScene:
		msgs = append(msgs,
			r.menu(protocol.MenuRPC{Type: protocol.SetStartGameTime, NewTime: r.sync()}),
			r.gameplay(protocol.GameplayRPC{Type: protocol.GetGameplaySceneReady}))

	case PhaseLoadingSong:
		g := r.game()
		players := make([]protocol.PlayerSettings, 0, g.active.Len())
		for id := range g.active.All() {
			players = append(players, r.players[id].settings)
		}
		if g.active.Has(s.slot) {
			msgs = append(msgs,
				r.gameplay(protocol.GameplayRPC{Type: protocol.GetGameplaySongReady}),
				r.gameplay(protocol.GameplayRPC{
					Type:          protocol.SetGameplaySceneSyncFinish,
					SessionGameID: r.sessionGameID,
					Players:       players,
				}))
			break
		}
		// 沒趕上本局的玩家直接跳到 Gameplay 旁觀
		msgs = append(msgs,
			r.gameplay(protocol.GameplayRPC{
				Type:          protocol.SetActivePlayerFailedToConnect,
				SessionGameID: r.sessionGameID,
				FailedUserID:  s.userID,
				Players:       players,
			}),
			r.gameplay(protocol.GameplayRPC{Type: protocol.SetSongStartTime, StartTime: g.startTime}))
		state = PhaseGameplay

	case PhaseGameplay:
		msgs = append(msgs, r.gameplay(protocol.GameplayRPC{Type: protocol.SetSongStartTime, StartTime: r.game().startTime}))
	}

	r.send(s, protocol.ServerRouting, msgs...)
	s.state = state
}
