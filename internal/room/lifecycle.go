package room

import (
	"net/netip"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
)

// disconnectMode 斷線方式（可組合）
type disconnectMode uint8

const (
	// dcReset 保留槽位與位址，只重設傳輸狀態（同位址重連）
	dcReset disconnectMode = 1 << iota
	// dcNotify 通知其他玩家並重新檢查大廳狀態
	dcNotify
)

// CanAdmit 檢查 Admit 是否會成功，不改變任何狀態
func (r *Room) CanAdmit(addr netip.AddrPort) error {
	if r.closed {
		return apperrors.ErrRoomNotFound
	}
	if r.playerSort.Len() < len(r.players) {
		return nil
	}
	for id := range r.playerSort.All() {
		if r.players[id].addr == addr {
			return nil
		}
	}
	return apperrors.ErrRoomFull
}

// Admit 為位址分配槽位（對應配對伺服器的 resolve）
//
// 同一位址已在房間內時視為重連：原槽位先以 reset|notify 斷線再重新分配。
// 否則使用最小的空槽位；超過 MaxPlayers 時回傳 ErrRoomFull。
func (r *Room) Admit(addr netip.AddrPort, creds Credentials, out transport.Output) (int, error) {
	if r.closed {
		return 0, apperrors.ErrRoomNotFound
	}
	now := r.now()
	slot := -1
	for id := range r.playerSort.All() {
		if r.players[id].addr == addr {
			slot = id
			r.disconnect(&r.players[id], dcReset|dcNotify)
			break
		}
	}

	var conn *transport.Conn
	if slot >= 0 {
		conn = r.players[slot].conn
		conn.Reset()
	} else {
		for id := range len(r.players) {
			if !r.playerSort.Has(id) {
				slot = id
				break
			}
		}
		if slot < 0 {
			r.logger.Warn("房間已滿", "addr", addr)
			return 0, apperrors.ErrRoomFull
		}
		conn = transport.NewConn(out, r.tcfg)
	}
	r.playerSort.Set(slot, true)
	if !r.playerSort.Has(r.owner) {
		r.owner = slot
	}

	r.joinCount++
	s := &r.players[slot]
	s.reset(addr, creds, r.joinCount, conn, now)
	r.logger.Info("玩家已分配槽位",
		"slot", slot,
		"addr", addr,
		"user_id", creds.UserID,
		"players", r.playerSort)
	return slot, nil
}

// HandleDatagram 處理玩家送來的資料報
//
// 握手完成前只接受單獨的 ConnectRequest 封包，其他一律丟棄（包含合併封包）。
func (r *Room) HandleDatagram(slot int, raw []byte) {
	s := r.Session(slot)
	if s == nil {
		return
	}
	if s.alive {
		s.lastKeepAlive = r.now()
	}
	if s.state == 0 {
		p, err := transport.ParsePacket(raw)
		if err != nil || p.Property != transport.PropertyConnectRequest {
			return
		}
	}
	if err := s.conn.OnDatagram(raw, sessionHandler{r: r, s: s}); err != nil {
		r.logger.Debug("資料報格式錯誤", "slot", slot, "error", err)
	}
}

// sessionHandler 把傳輸層的結果交給房間
type sessionHandler struct {
	r *Room
	s *Session
}

func (h sessionHandler) Deliver(ch transport.Channel, payload []byte) {
	h.r.onFrame(h.s, ch, payload, true)
}

func (h sessionHandler) Control(p transport.Packet) bool {
	return h.r.onControl(h.s, p)
}

// onControl 處理非通道封包，回傳 false 停止處理同一資料報的其餘部分
func (r *Room) onControl(s *Session, p transport.Packet) bool {
	switch p.Property {
	case transport.PropertyUnreliable:
		r.onFrame(s, transport.ReliableUnordered, p.Payload, false)
	case transport.PropertyPing:
		r.sendPacket(s, transport.Packet{
			Property: transport.PropertyPong,
			Sequence: p.Sequence,
			Time:     r.now().UnixNano(),
		})
	case transport.PropertyPong:
		latency := r.onPong(s, p)
		if latency != 0 && s.protocolVersion < 7 {
			r.broadcast(r.connected.Without(s.slot), protocol.FromPlayer(s.slot), protocol.LatencyMessage(latency))
		}
	case transport.PropertyConnectRequest:
		r.onConnectRequest(s, p.Payload)
	case transport.PropertyDisconnect:
		r.disconnect(s, dcNotify)
		return false
	case transport.PropertyMtuCheck:
		r.sendPacket(s, transport.Packet{Property: transport.PropertyMtuOk, Payload: p.Payload})
	case transport.PropertyConnectAccept, transport.PropertyUnconnectedMessage:
		r.logger.Warn("BAD PROPERTY", "slot", s.slot, "property", p.Property)
	default:
		r.logger.Warn("BAD PACKET PROPERTY", "slot", s.slot, "property", p.Property)
	}
	return r.playerSort.Has(s.slot) && !r.closed
}

// onPong 以最近一次 Ping 計算單程延遲（秒），不是對應的回應時回傳 0
func (r *Room) onPong(s *Session, p transport.Packet) float32 {
	if !s.waiting || p.Sequence != s.pingSeq {
		return 0
	}
	s.waiting = false
	s.latency = float32(r.now().Sub(s.lastPing).Seconds() / 2)
	return s.latency
}

// ping 送出傳輸層 Ping
func (r *Room) ping(s *Session, now time.Time) {
	s.pingSeq++
	s.lastPing = now
	s.waiting = true
	r.sendPacket(s, transport.Packet{Property: transport.PropertyPing, Sequence: s.pingSeq})
}

// onConnectRequest 驗證憑證、套用擴充設定、回覆 ConnectAccept
//
// 第一次連線時另外送出同步時間、房間內其他玩家的資料與伺服器身分，
// 再把房間階段投影給玩家（房間在遊戲中時先進入 Synchronizing）。
func (r *Room) onConnectRequest(s *Session, payload []byte) {
	var req protocol.ConnectRequest
	if err := r.codec.Decode(payload, &req); err != nil {
		r.logger.Warn("ConnectRequest 解碼失敗", "slot", s.slot, "error", err)
		return
	}
	s.protocolID = req.ProtocolID
	if req.ProtocolVersion != 0 {
		s.protocolVersion = req.ProtocolVersion
	}
	if req.Secret != s.secret || req.UserID != s.userID {
		r.logger.Warn("連線憑證不符", "slot", s.slot, "user_id", req.UserID)
		return
	}
	for _, mod := range req.Mods {
		switch mod.Name {
		case protocol.ModBeatUp:
		case protocol.ModBeatUpOutdated:
			r.logger.Warn("客戶端擴充版本過舊", "slot", s.slot, "user_name", s.userName)
			return
		default:
			r.logger.Info("未知的客戶端擴充", "slot", s.slot, "mod", mod.Name)
			continue
		}
		var info protocol.ConnectInfo
		if err := r.codec.Decode(mod.Data, &info); err != nil {
			r.logger.Warn("擴充連線資訊解碼失敗", "slot", s.slot, "error", err)
			continue
		}
		s.beatUpVersion = info.ProtocolID
		s.conn.SetWindowSize(int(info.WindowSize))
		s.directDownloads = info.DirectDownloads
		if s.slot == r.owner {
			r.shortCountdown = float32(info.CountdownDuration) / 4
			r.skipResults = info.SkipResults
			r.perPlayerDifficulty = info.PerPlayerDifficulty
			r.perPlayerModifiers = info.PerPlayerModifiers
		}
	}

	accept, err := r.codec.Encode(protocol.ConnectAccept{
		ConnectTime: req.ConnectTime,
		PeerID:      uint8(s.slot),
		BeatUp: protocol.ConnectInfo{
			ProtocolID:          s.beatUpVersion,
			BlockSize:           protocol.ConnectBlockSize,
			WindowSize:          uint32(s.conn.WindowSize()),
			CountdownDuration:   uint8(r.shortCountdown * 4),
			DirectDownloads:     s.directDownloads,
			SkipResults:         r.skipResults,
			PerPlayerDifficulty: r.perPlayerDifficulty,
			PerPlayerModifiers:  r.perPlayerModifiers,
		},
	})
	if err != nil {
		r.logger.Error("ConnectAccept 編碼失敗", "slot", s.slot, "error", err)
		return
	}
	r.sendPacket(s, transport.Packet{Property: transport.PropertyConnectAccept, Payload: accept})
	if s.connected() {
		return
	}

	r.send(s, protocol.ServerBroadcastRouting, protocol.SyncTimeMessage(r.sync()))
	r.logger.Info("玩家已連線",
		"slot", s.slot,
		"user_id", s.userID,
		"user_name", s.userName)
	for id := range r.connected.All() {
		p := &r.players[id]
		r.send(s, protocol.ServerRouting, protocol.PlayerConnectedMessage(protocol.PlayerConnected{
			RemoteConnectionID: uint8(id + 1),
			UserID:             p.userID,
			UserName:           p.userName,
		}))
		r.send(s, protocol.ServerRouting, protocol.SortOrderMessage(p.userID, id))
		r.send(s, protocol.FromPlayer(id), protocol.IdentityMessage(p.identity()))
	}
	r.send(s, protocol.ServerRouting, protocol.IdentityMessage(protocol.PlayerIdentity{
		State:     protocol.ServerStateHash,
		Random:    r.random[:],
		PublicKey: r.publicKey,
	}))

	if r.phase.In(PhaseGame) {
		r.setSessionState(s, PhaseSynchronizing)
	} else {
		r.setSessionState(s, r.phase)
	}
}

// disconnect 釋放玩家槽位
//
// 房主離開時由加入順序最早的玩家接任。還有其他玩家時，notify 模式會
// 通知其他人並在大廳中重新選曲；最後一位玩家離開（且不是 reset）時關閉房間。
func (r *Room) disconnect(s *Session, mode disconnectMode) {
	slot := s.slot
	r.playerSort.Set(slot, false)
	if mode&dcReset != 0 {
		s.conn.Reset()
		if r.onReset != nil {
			r.onReset(slot)
		}
	} else {
		s.conn.Close()
		if r.onRelease != nil {
			r.onRelease(slot, s.addr)
		}
	}
	r.logger.Info("玩家斷線",
		"slot", slot,
		"user_id", s.userID,
		"reset", mode&dcReset != 0,
		"players", r.playerSort)

	if slot == r.owner {
		r.owner = 0
		order := ^uint32(0)
		for id := range r.playerSort.All() {
			if r.players[id].joinOrder < order {
				order = r.players[id].joinOrder
				r.owner = id
			}
		}
		if mode&dcNotify != 0 {
			others := r.connected.Without(slot)
			r.broadcast(others, protocol.ServerRouting, r.menu(protocol.MenuRPC{
				Type:        protocol.SetPermissionConfiguration,
				Permissions: r.permissionConfiguration(others),
			}))
		}
	}

	if !r.playerSort.IsEmpty() {
		if mode&dcNotify != 0 {
			r.setSessionState(s, 0)
			if r.phase.In(PhaseLobby) {
				r.setRoomState(PhaseEntitlement)
			}
		} else {
			r.dropSession(s)
		}
		return
	}
	r.dropSession(s)
	if mode&dcReset != 0 {
		return
	}
	r.closed = true
	r.logger.Info("房間已關閉")
	r.sendEvent(Event{Type: EventRoomClosed})
}

// Disconnect 由伺服器端斷開玩家，效果與玩家送出 Disconnect 相同
func (r *Room) Disconnect(slot int) {
	if s := r.Session(slot); s != nil {
		r.disconnect(s, dcNotify)
	}
}

// dropSession 不通知其他人，直接把玩家移出 connected
func (r *Room) dropSession(s *Session) {
	r.connected.Set(s.slot, false)
	s.state = 0
}

// Close 斷開所有玩家並關閉房間
func (r *Room) Close() {
	for id := range r.playerSort.All() {
		r.disconnect(&r.players[id], 0)
	}
	if !r.closed {
		r.closed = true
		r.logger.Info("房間已關閉")
		r.sendEvent(Event{Type: EventRoomClosed})
	}
}

// Tick 處理閒置逾時、階段逾時、Ping 與重送，回傳下一次需要處理的時間（零值代表沒有待辦）
func (r *Room) Tick(now time.Time) time.Time {
	for id := range r.playerSort.All() {
		s := &r.players[id]
		if now.After(s.lastKeepAlive.Add(IdleTimeout)) {
			r.logger.Info("玩家閒置逾時", "slot", id, "user_id", s.userID)
			r.disconnect(s, dcNotify)
			if r.closed {
				return time.Time{}
			}
		}
	}

	var next time.Time
	for range 4 {
		if !r.phase.In(PhaseTimeout) {
			break
		}
		delta := r.deadline - r.syncAt(now)
		if delta > 0 {
			wait := max(time.Duration(float64(delta)*float64(time.Second)), minPhaseDelay)
			next = now.Add(wait)
			break
		}
		r.onPhaseTimeout()
	}

	for id := range r.playerSort.All() {
		s := &r.players[id]
		next = earliest(next, s.lastKeepAlive.Add(IdleTimeout))
		if s.connected() {
			if !now.Before(s.lastPing.Add(PingInterval)) {
				r.ping(s, now)
			}
			next = earliest(next, s.lastPing.Add(PingInterval))
		}
		next = earliest(next, s.conn.Tick(now))
	}
	return next
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	}
	return a
}
