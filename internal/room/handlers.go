package room

import (
	"strings"

	"github.com/koopa0/system-design/14-rhythm-session/internal/playerset"
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
)

const customLevelPrefix = "custom_level_"

// onFrame 處理一個應用層 frame
//
// 路由標頭指向其他玩家時只轉送不解讀；廣播（127）且未加密時轉送後伺服器也處理。
func (r *Room) onFrame(s *Session, ch transport.Channel, frame []byte, reliable bool) {
	if !s.alive {
		return
	}
	routing, body, err := protocol.SplitFrame(frame)
	if err != nil {
		r.logger.Debug("frame 過短", "slot", s.slot, "error", err)
		return
	}
	if r.relay(s, ch, routing, body, reliable) {
		return
	}
	msgs, err := protocol.DecodeMessages(r.codec, body)
	if err != nil {
		r.logger.Warn("訊息解碼失敗", "slot", s.slot, "error", err)
		return
	}
	for i := range msgs {
		if !s.alive || !r.playerSort.Has(s.slot) {
			return
		}
		r.processMessage(s, &msgs[i])
	}
}

// relay 依路由標頭轉送 frame 內容，回傳 true 代表伺服器不需再處理
func (r *Room) relay(s *Session, ch transport.Channel, routing protocol.Routing, body []byte, reliable bool) bool {
	if routing.ConnectionID == 0 {
		return false
	}
	broadcast := routing.ConnectionID == protocol.BroadcastConnectionID
	mask := r.connected.Without(s.slot)
	if !broadcast {
		target := int(routing.ConnectionID) - 1
		if target < playerset.Capacity && mask.Has(target) {
			mask = playerset.Of(target)
		} else {
			r.logger.Debug("轉送目標不存在", "slot", s.slot, "connection_id", routing.ConnectionID)
			mask = playerset.Set{}
		}
	}

	header := protocol.Routing{
		RemoteConnectionID: uint8(s.slot + 1),
		Encrypted:          routing.Encrypted,
	}
	if broadcast {
		header.ConnectionID = protocol.BroadcastConnectionID
	}
	out := protocol.AppendRouting(make([]byte, 0, protocol.RoutingHeaderSize+len(body)), header)
	out = append(out, body...)
	for id := range mask.All() {
		p := &r.players[id]
		if reliable {
			r.sendFrame(p, ch, out)
		} else {
			r.sendPacket(p, transport.Packet{Property: transport.PropertyUnreliable, Payload: out})
		}
	}
	return !broadcast || routing.Encrypted
}

// processMessage 處理單一內部訊息
func (r *Room) processMessage(s *Session, m *protocol.Message) {
	switch m.Type {
	case protocol.TypePlayerIdentity:
		if m.Identity == nil {
			r.logger.Warn("PlayerIdentity 缺少內容", "slot", s.slot)
			return
		}
		r.onPlayerIdentity(s, m.Identity)
	case protocol.TypePlayerStateUpdate:
		if m.State != nil {
			s.stateHash = *m.State
		}
		r.refreshSpectating(s)
	case protocol.TypeMultiplayerSession:
		r.onMultiplayerSession(s, m)
	case protocol.TypePingMessage:
		r.send(s, protocol.ServerRouting,
			protocol.PongMessage(m.PingTime),
			protocol.SyncTimeMessage(r.sync()))
	case protocol.TypePongMessage:
	case protocol.TypePlayerLatencyUpdate, protocol.TypeParty, protocol.TypePlayerAvatarUpdate:
		r.logger.Debug("未實作的訊息", "slot", s.slot, "type", m.Type)
	case protocol.TypeSyncTime, protocol.TypePlayerConnected, protocol.TypePlayerDisconnected,
		protocol.TypePlayerSortOrderUpdate, protocol.TypeKickPlayer:
		r.logger.Warn("BAD TYPE", "slot", s.slot, "type", m.Type)
	default:
		r.logger.Warn("未知的訊息種類", "slot", s.slot, "type", uint8(m.Type))
	}
}

// refreshSpectating 由能力摘要更新旁觀狀態
func (r *Room) refreshSpectating(s *Session) {
	spectating := !s.stateHash.Contains(protocol.FlagWantsToPlayNextLevel)
	if r.spectating.Set(s.slot, spectating) != spectating && r.phase.In(PhaseSelected) {
		r.setRoomState(PhaseReady)
	}
}

// onPlayerIdentity 記錄玩家身分；第一次收到時向房間宣告此玩家並詢問所有人的大廳狀態
func (r *Room) onPlayerIdentity(s *Session, id *protocol.PlayerIdentity) {
	s.stateHash = id.State
	r.refreshSpectating(s)
	s.avatar = id.Avatar
	if len(id.Random) == len(s.random) {
		copy(s.random[:], id.Random)
	} else {
		s.random = [32]byte{}
	}
	s.publicKey = id.PublicKey
	if s.sentIdentity {
		return
	}
	s.sentIdentity = true

	r.broadcast(r.connected.Without(s.slot), protocol.ServerRouting,
		protocol.PlayerConnectedMessage(protocol.PlayerConnected{
			RemoteConnectionID: uint8(s.slot + 1),
			UserID:             s.userID,
			UserName:           s.userName,
		}))
	r.broadcast(r.connected, protocol.ServerRouting, protocol.SortOrderMessage(s.userID, s.slot))
	r.broadcast(r.connected, protocol.FromPlayer(s.slot), protocol.IdentityMessage(*id))
	r.broadcast(r.connected, protocol.ServerBroadcastRouting,
		r.menu(protocol.MenuRPC{Type: protocol.GetRecommendedBeatmap}),
		r.menu(protocol.MenuRPC{Type: protocol.GetRecommendedGameplayModifiers}),
		r.menu(protocol.MenuRPC{Type: protocol.GetOwnedSongPacks}),
		r.menu(protocol.MenuRPC{Type: protocol.GetIsReady}),
		r.menu(protocol.MenuRPC{Type: protocol.GetIsInLobby}))
}

func (r *Room) onMultiplayerSession(s *Session, m *protocol.Message) {
	switch m.Session {
	case protocol.SessionMenuRPC:
		if m.Menu != nil {
			r.onMenuRPC(s, m.Menu)
		}
	case protocol.SessionGameplayRPC:
		if m.Gameplay != nil {
			r.onGameplayRPC(s, m.Gameplay)
		}
	case protocol.SessionNodePoseSyncState, protocol.SessionScoreSyncState,
		protocol.SessionNodePoseSyncStateDelta, protocol.SessionScoreSyncStateDelta,
		protocol.SessionMpCore:
	case protocol.SessionBeatUp:
		if m.BeatUp != nil && m.BeatUp.Type == protocol.BeatUpDataFragment {
			r.logger.Warn("BAD TYPE", "slot", s.slot, "beat_up", m.BeatUp.Type)
		}
	default:
		r.logger.Warn("未知的 session 訊息種類", "slot", s.slot, "session", uint8(m.Session))
	}
}

// onMenuRPC 大廳 RPC
func (r *Room) onMenuRPC(s *Session, rpc *protocol.MenuRPC) {
	switch rpc.Type {
	case protocol.SetIsEntitledToLevel:
		r.onEntitlement(s, rpc)

	case protocol.RecommendBeatmap, protocol.ClearRecommendedBeatmap:
		var beatmap protocol.Beatmap
		if rpc.Type == protocol.RecommendBeatmap && rpc.Beatmap != nil {
			beatmap = *rpc.Beatmap
		}
		if !r.phase.In(PhaseLobby) || !r.permissions(s).RecommendBeatmaps {
			break
		}
		if !s.recommended.Equal(beatmap, r.perPlayerDifficulty) {
			s.recommendTime = r.sync()
		}
		s.recommended = beatmap
		r.setRoomState(PhaseEntitlement)

	case protocol.GetSelectedBeatmap:
		beatmap := r.sessionBeatmap(s)
		r.send(s, protocol.ServerRouting, r.menu(protocol.MenuRPC{Type: protocol.SetSelectedBeatmap, Beatmap: &beatmap}))

	case protocol.RecommendGameplayModifiers, protocol.ClearRecommendedGameplayModifiers:
		var mods protocol.Modifiers
		if rpc.Type == protocol.RecommendGameplayModifiers && rpc.Modifiers != nil {
			mods = *rpc.Modifiers
		}
		if !r.phase.In(PhaseLobby) || !r.permissions(s).RecommendModifiers {
			break
		}
		s.recommendMods = mods
		if l := r.lobby(); l == nil || s.slot != l.requester {
			break
		}
		r.selectedMods = mods
		selected := r.sessionModifiers(s)
		r.broadcast(r.connected, protocol.ServerBroadcastRouting,
			r.menu(protocol.MenuRPC{Type: protocol.SetSelectedGameplayModifiers, Modifiers: &selected}))

	case protocol.GetSelectedGameplayModifiers:
		mods := r.sessionModifiers(s)
		r.send(s, protocol.ServerRouting, r.menu(protocol.MenuRPC{Type: protocol.SetSelectedGameplayModifiers, Modifiers: &mods}))

	case protocol.GetStartedLevel:
		if !s.state.In(PhaseSynchronizing) {
			break
		}
		if !r.phase.In(PhaseGame) {
			r.setSessionState(s, r.phase)
			break
		}
		beatmap, mods := r.sessionBeatmap(s), r.sessionModifiers(s)
		r.send(s, protocol.ServerRouting, r.menu(protocol.MenuRPC{
			Type:      protocol.StartLevel,
			Beatmap:   &beatmap,
			Modifiers: &mods,
			StartTime: r.sync(),
		}))
		r.setSessionState(s, PhaseLoadingScene)

	case protocol.GetMultiplayerGameState:
		state := protocol.GameStateGame
		if r.phase.In(PhaseLobby) {
			state = protocol.GameStateLobby
		}
		r.send(s, protocol.ServerRouting, r.menu(protocol.MenuRPC{Type: protocol.SetMultiplayerGameState, GameState: state}))

	case protocol.SetIsReady:
		ready := rpc.Value != nil && *rpc.Value
		if l := r.lobby(); l != nil && r.phase.In(PhaseLobby) {
			if l.ready.Set(s.slot, ready) != ready && r.phase.In(PhaseSelected) {
				r.setRoomState(PhaseReady)
			}
		}

	case protocol.SetIsInLobby:
		inLobby := rpc.Value != nil && *rpc.Value
		if r.inLobby.Set(s.slot, inLobby) != inLobby && r.phase.In(PhaseSelected) {
			r.setRoomState(PhaseReady)
		}

	case protocol.GetCountdownEndTime:
		if !r.phase.In(PhaseLobby) {
			break
		}
		msgs := []protocol.Message{r.menu(protocol.MenuRPC{Type: protocol.SetIsStartButtonEnabled, Reason: r.lobby().reason})}
		if r.phase.In(PhaseCountdown | PhaseDownloading) {
			msgs = append(msgs, r.menu(protocol.MenuRPC{Type: protocol.SetCountdownEndTime, NewTime: r.countdownEnd()}))
		}
		r.send(s, protocol.ServerRouting, msgs...)

	case protocol.RequestKickPlayer:
		r.onKick(s, rpc.UserID)

	case protocol.GetPermissionConfiguration:
		r.send(s, protocol.ServerRouting, r.menu(protocol.MenuRPC{
			Type:        protocol.SetPermissionConfiguration,
			Permissions: r.permissionConfiguration(r.connected),
		}))

	case protocol.GetIsStartButtonEnabled:
		if !r.phase.In(PhaseLobby) {
			break
		}
		r.send(s, protocol.ServerRouting, r.menu(protocol.MenuRPC{Type: protocol.SetIsStartButtonEnabled, Reason: r.lobby().reason}))

	case protocol.GetRecommendedBeatmap, protocol.GetRecommendedGameplayModifiers,
		protocol.GetIsReady, protocol.GetIsInLobby, protocol.GetOwnedSongPacks, protocol.SetOwnedSongPacks:

	case protocol.InvalidateLevelEntitlementStatuses, protocol.SelectLevelPack,
		protocol.LevelLoadError, protocol.LevelLoadSuccess,
		protocol.SetStartGameTime, protocol.CancelStartGameTime:
		r.logger.Debug("未實作的 RPC", "slot", s.slot, "rpc", rpc.Type)

	case protocol.SetPlayersMissingEntitlementsToLevel, protocol.GetIsEntitledToLevel,
		protocol.SetSelectedBeatmap, protocol.SetSelectedGameplayModifiers, protocol.StartLevel,
		protocol.CancelLevelStart, protocol.SetMultiplayerGameState, protocol.SetCountdownEndTime,
		protocol.CancelCountdown, protocol.SetPermissionConfiguration, protocol.SetIsStartButtonEnabled:
		r.logger.Warn("BAD TYPE", "slot", s.slot, "rpc", rpc.Type)

	default:
		r.logger.Warn("未知的 MenuRPC", "slot", s.slot, "rpc", rpc.Type)
	}
}

// onEntitlement 玩家回報是否擁有選定的歌曲
//
// 所有已連線玩家都回報後，廣播沒有歌曲的玩家名單：
// 沒有人缺歌則進入 Ready，否則回到 Idle。
func (r *Room) onEntitlement(s *Session, rpc *protocol.MenuRPC) {
	l := r.lobby()
	if l == nil || !r.phase.In(PhaseLobby) || rpc.LevelID == "" || rpc.LevelID != r.selected.LevelID {
		return
	}
	status := rpc.Entitlement
	switch status {
	case protocol.EntitlementUnknown:
		status = protocol.EntitlementNotOwned
	case protocol.EntitlementOk:
		// 未安裝擴充的客戶端會把所有自訂歌曲回報為已擁有
		if !s.stateHash.Contains(protocol.FlagModded) && strings.HasPrefix(rpc.LevelID, customLevelPrefix) {
			status = protocol.EntitlementNotOwned
		} else if !l.downloaded.Set(s.slot, true) {
			if r.phase.In(PhaseDownloading) && l.downloaded.IsSupersetOf(r.connected) {
				r.setRoomState(PhaseLoadingScene)
				return
			}
		}
	}
	if !r.phase.In(PhaseEntitlement) {
		return
	}
	if l.entitled.Set(s.slot, true) {
		return
	}
	if status != protocol.EntitlementOk && status != protocol.EntitlementNotDownloaded {
		l.missing.Set(s.slot, true)
	}
	r.logger.Debug("歌曲擁有狀態", "slot", s.slot, "user_name", s.userName, "status", status)
	if !l.entitled.IsSupersetOf(r.connected) {
		return
	}
	missing := make([]string, 0, l.missing.Len())
	for id := range l.missing.All() {
		missing = append(missing, r.players[id].userID)
	}
	r.broadcast(r.connected, protocol.ServerBroadcastRouting, r.menu(protocol.MenuRPC{
		Type:    protocol.SetPlayersMissingEntitlementsToLevel,
		UserIDs: missing,
	}))
	if len(missing) == 0 {
		r.setRoomState(PhaseReady)
	} else {
		r.setRoomState(PhaseIdle)
	}
}

// onKick 房主踢出玩家
//
// 送出 KickPlayer 後停止處理該玩家的訊息；客戶端不離開時在 KickTimeout 後逾時斷線。
func (r *Room) onKick(s *Session, userID string) {
	if !r.permissions(s).KickVote || userID == "" {
		return
	}
	now := r.now()
	for id := range r.playerSort.Except(s.slot) {
		p := &r.players[id]
		if p.userID != userID {
			continue
		}
		r.send(p, protocol.ServerRouting, protocol.KickMessage(protocol.DisconnectedKicked))
		p.alive = false
		if now.Sub(p.lastKeepAlive) < IdleTimeout-KickTimeout {
			p.lastKeepAlive = now.Add(KickTimeout - IdleTimeout)
		}
		r.logger.Info("玩家被踢出", "slot", id, "user_id", userID, "by", s.userID)
	}
}

// onGameplayRPC 遊戲中 RPC
func (r *Room) onGameplayRPC(s *Session, rpc *protocol.GameplayRPC) {
	switch rpc.Type {
	case protocol.SetGameplaySceneReady:
		if !r.phase.In(PhaseGame) {
			break
		}
		if r.phase != PhaseLoadingScene {
			if r.phase > PhaseLoadingScene {
				r.setSessionState(s, PhaseLoadingSong)
			}
			break
		}
		if rpc.Settings != nil {
			s.settings = *rpc.Settings
		} else {
			s.settings = protocol.PlayerSettings{}
		}
		g := r.game()
		if !g.sceneLoaded.Set(s.slot, true) && g.sceneLoaded.IsSupersetOf(g.active) {
			r.setRoomState(PhaseLoadingSong)
		}

	case protocol.SetGameplaySongReady:
		if r.phase != PhaseLoadingSong {
			if r.phase.In(PhaseGame) && r.phase > PhaseLoadingSong {
				r.setSessionState(s, PhaseGameplay)
			}
			break
		}
		g := r.game()
		if !g.songLoaded.Set(s.slot, true) && g.songLoaded.IsSupersetOf(g.active) {
			r.setRoomState(PhaseGameplay)
		}

	case protocol.LevelFinished:
		g := r.game()
		if g == nil || !r.phase.In(PhaseGame) {
			break
		}
		if !g.active.Set(s.slot, false) {
			break
		}
		if !r.skipResults {
			var results protocol.LevelResults
			if rpc.Results != nil {
				results = *rpc.Results
			}
			if s.protocolVersion < 7 {
				g.showResults = g.showResults || results.EndState == protocol.LevelEndCleared
			} else {
				g.showResults = g.showResults || results.EndReason == protocol.LevelEndReasonCleared
			}
		}
		r.tryFinish()

	case protocol.RequestReturnToMenu:
		if r.phase.In(PhaseGame) && s.slot == r.owner {
			r.setRoomState(PhaseIdle)
		}

	case protocol.NoteCut, protocol.NoteMissed, protocol.NoteSpawned,
		protocol.ObstacleSpawned, protocol.SliderSpawned:

	case protocol.SetActivePlayerFailedToConnect, protocol.SetSongStartTime, protocol.ReturnToMenu:
		r.logger.Debug("未實作的 RPC", "slot", s.slot, "rpc", rpc.Type)

	case protocol.SetGameplaySceneSyncFinish, protocol.GetGameplaySceneReady, protocol.GetGameplaySongReady:
		r.logger.Warn("BAD TYPE", "slot", s.slot, "rpc", rpc.Type)

	default:
		r.logger.Warn("未知的 GameplayRPC", "slot", s.slot, "rpc", rpc.Type)
	}
}
