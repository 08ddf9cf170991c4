// Package partition 管理一個工作分區內的所有房間
//
// 分區擁有固定大小的房間陣列（GroupCount 個群組 × GroupSize 個房間），
// 一把互斥鎖保護陣列內所有房間與玩家的狀態。資料報依來源位址分派到
// 對應的房間與玩家；每個房間的下一次處理時間放在最小堆中，由 Tick 統一推進。
//
// 對外的參照使用帶世代的 handle（SessionHandle），房間或槽位被重新使用後，
// 舊的 handle 會被拒絕（ErrStaleHandle）。
package partition

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
)

// 房間陣列大小
const (
	GroupCount = 16
	GroupSize  = 16
	RoomSlots  = GroupCount * GroupSize
)

// SessionHandle 指向某個房間的某個玩家
type SessionHandle struct {
	Slot      int    `json:"slot"`
	RoomGen   uint32 `json:"room_gen"`
	Player    int    `json:"player"`
	PlayerGen uint32 `json:"player_gen"`
}

// Sender 把資料報送到指定位址
type Sender func(datagram []byte, addr netip.AddrPort) error

// Options 分區參數
type Options struct {
	ID        int
	Send      Sender
	Codec     protocol.Codec
	Transport transport.Config
	Clock     func() time.Time
	Logger    *slog.Logger
	Events    chan<- room.Event

	// OnClose 房間關閉後呼叫（不持有分區鎖）
	OnClose func(slot int, code uint32)
}

// Stats 分區統計
type Stats struct {
	ID      int `json:"id"`
	Groups  int `json:"groups"`
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
}

// roomSlot 房間陣列的一格
type roomSlot struct {
	slot      int
	room      *room.Room
	gen       uint32
	code      uint32
	playerGen []uint32
	deadline  time.Time
	index     int // 在堆中的位置，-1 代表不在堆中
}

type endpoint struct {
	slot   int
	player int
}

type closedRoom struct {
	slot int
	code uint32
}

// Partition 一個工作分區
type Partition struct {
	mu      sync.Mutex
	id      int
	send    Sender
	codec   protocol.Codec
	tcfg    transport.Config
	clock   func() time.Time
	logger  *slog.Logger
	events  chan<- room.Event
	onClose func(slot int, code uint32)

	slots   [RoomSlots]roomSlot
	groups  [GroupCount]bool
	byAddr  map[netip.AddrPort]endpoint
	timers  deadlineHeap
	pending []closedRoom

	// wake 排程出更早的處理時間時通知計時迴圈
	wake chan struct{}
}

// New 建立分區
func New(opts Options) *Partition {
	if opts.Codec == nil {
		opts.Codec = protocol.NewMsgpackCodec()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Partition{
		id:      opts.ID,
		send:    opts.Send,
		codec:   opts.Codec,
		tcfg:    opts.Transport,
		clock:   opts.Clock,
		logger:  opts.Logger.With("partition", opts.ID),
		events:  opts.Events,
		onClose: opts.OnClose,
		byAddr:  make(map[netip.AddrPort]endpoint),
		wake:    make(chan struct{}, 1),
	}
	for i := range p.slots {
		p.slots[i].slot = i
		p.slots[i].index = -1
	}
	return p
}

// ID 分區編號
func (p *Partition) ID() int { return p.id }

// unlock 釋放鎖，再通知鎖內關閉的房間
func (p *Partition) unlock() {
	closed := p.pending
	p.pending = nil
	p.mu.Unlock()
	if p.onClose == nil {
		return
	}
	for _, c := range closed {
		p.onClose(c.slot, c.code)
	}
}

// RequestGroup 配置一個空的群組
func (p *Partition) RequestGroup() (int, error) {
	p.mu.Lock()
	defer p.unlock()
	return p.requestGroup()
}

func (p *Partition) requestGroup() (int, error) {
	for g := range p.groups {
		if !p.groups[g] {
			p.groups[g] = true
			p.logger.Debug("群組已配置", "group", g)
			return g, nil
		}
	}
	return 0, apperrors.ErrPartitionFull
}

// ReleaseGroup 關閉群組內所有房間並釋放群組
func (p *Partition) ReleaseGroup(group int) error {
	p.mu.Lock()
	defer p.unlock()
	if group < 0 || group >= GroupCount || !p.groups[group] {
		return apperrors.ErrInvalidSlot.WithDetails(fmt.Sprintf("group %d not allocated", group))
	}
	for slot := group * GroupSize; slot < (group+1)*GroupSize; slot++ {
		if p.slots[slot].room != nil {
			p.closeRoom(slot)
		}
	}
	p.groups[group] = false
	p.logger.Debug("群組已釋放", "group", group)
	return nil
}

// ReleaseIdleGroup 群組內已沒有房間時釋放群組
func (p *Partition) ReleaseIdleGroup(group int) bool {
	p.mu.Lock()
	defer p.unlock()
	if group < 0 || group >= GroupCount || !p.groups[group] {
		return false
	}
	for slot := group * GroupSize; slot < (group+1)*GroupSize; slot++ {
		if p.slots[slot].room != nil {
			return false
		}
	}
	p.groups[group] = false
	p.logger.Debug("閒置群組已釋放", "group", group)
	return true
}

// FreeSlot 群組內第一個空的房間格
func (p *Partition) FreeSlot(group int) (int, error) {
	p.mu.Lock()
	defer p.unlock()
	return p.freeSlot(group)
}

func (p *Partition) freeSlot(group int) (int, error) {
	if group < 0 || group >= GroupCount || !p.groups[group] {
		return 0, apperrors.ErrInvalidSlot.WithDetails(fmt.Sprintf("group %d not allocated", group))
	}
	for slot := group * GroupSize; slot < (group+1)*GroupSize; slot++ {
		if p.slots[slot].room == nil {
			return slot, nil
		}
	}
	return 0, apperrors.ErrGroupFull
}

// OpenRoom 在指定的房間格開房
func (p *Partition) OpenRoom(slot int, cfg room.Config, code uint32) error {
	p.mu.Lock()
	defer p.unlock()
	return p.openRoom(slot, cfg, code)
}

// Allocate 在已配置的群組中找空格開房，沒有空格時再配置新群組
func (p *Partition) Allocate(cfg room.Config, code uint32) (int, error) {
	p.mu.Lock()
	defer p.unlock()

	slot := -1
	for g := range p.groups {
		if !p.groups[g] {
			continue
		}
		if s, err := p.freeSlot(g); err == nil {
			slot = s
			break
		}
	}
	if slot < 0 {
		g, err := p.requestGroup()
		if err != nil {
			return 0, err
		}
		slot = g * GroupSize
	}
	if err := p.openRoom(slot, cfg, code); err != nil {
		return 0, err
	}
	return slot, nil
}

func (p *Partition) openRoom(slot int, cfg room.Config, code uint32) error {
	if slot < 0 || slot >= RoomSlots || !p.groups[slot/GroupSize] {
		return apperrors.ErrInvalidSlot.WithDetails(fmt.Sprintf("slot %d", slot))
	}
	rs := &p.slots[slot]
	if rs.room != nil {
		return apperrors.ErrRoomExists
	}
	r, err := room.New(room.Options{
		Code:      code,
		Config:    cfg,
		Codec:     p.codec,
		Transport: p.tcfg,
		Clock:     p.clock,
		Logger:    p.logger,
		Events:    p.events,
		OnRelease: func(player int, addr netip.AddrPort) {
			p.release(slot, player, addr)
		},
		OnReset: func(player int) {
			p.slots[slot].playerGen[player]++
		},
	})
	if err != nil {
		return err
	}
	rs.room = r
	rs.gen++
	rs.code = code
	rs.playerGen = make([]uint32, cfg.MaxPlayers)
	p.logger.Info("房間已開啟", "slot", slot, "code", code)
	return nil
}

// release 玩家槽位被房間釋放（在鎖內由房間呼叫）
func (p *Partition) release(slot, player int, addr netip.AddrPort) {
	if ep, ok := p.byAddr[addr]; ok && ep == (endpoint{slot: slot, player: player}) {
		delete(p.byAddr, addr)
	}
	p.slots[slot].playerGen[player]++
}

// CloseRoom 關閉房間並斷開所有玩家
func (p *Partition) CloseRoom(slot int) error {
	p.mu.Lock()
	defer p.unlock()
	if _, err := p.roomAt(slot); err != nil {
		return err
	}
	p.closeRoom(slot)
	return nil
}

func (p *Partition) closeRoom(slot int) {
	rs := &p.slots[slot]
	rs.room.Close()
	p.timers.remove(rs)
	p.pending = append(p.pending, closedRoom{slot: slot, code: rs.code})
	p.logger.Info("房間已釋放", "slot", slot, "code", rs.code)
	rs.room = nil
	rs.gen++
	rs.playerGen = nil
}

func (p *Partition) roomAt(slot int) (*roomSlot, error) {
	if slot < 0 || slot >= RoomSlots || p.slots[slot].room == nil {
		return nil, apperrors.ErrRoomNotFound
	}
	return &p.slots[slot], nil
}

// RoomOwnerID 房主的使用者 id
func (p *Partition) RoomOwnerID(slot int) (string, error) {
	p.mu.Lock()
	defer p.unlock()
	rs, err := p.roomAt(slot)
	if err != nil {
		return "", err
	}
	return rs.room.OwnerID(), nil
}

// RoomConfig 房間設定
func (p *Partition) RoomConfig(slot int) (room.Config, error) {
	p.mu.Lock()
	defer p.unlock()
	rs, err := p.roomAt(slot)
	if err != nil {
		return room.Config{}, err
	}
	return rs.room.Config(), nil
}

// Snapshot 單一房間的快照
func (p *Partition) Snapshot(slot int) (room.Snapshot, error) {
	p.mu.Lock()
	defer p.unlock()
	rs, err := p.roomAt(slot)
	if err != nil {
		return room.Snapshot{}, err
	}
	return rs.room.Snapshot(), nil
}

// Snapshots 所有房間的快照
func (p *Partition) Snapshots() []room.Snapshot {
	p.mu.Lock()
	defer p.unlock()
	var out []room.Snapshot
	for i := range p.slots {
		if r := p.slots[i].room; r != nil {
			out = append(out, r.Snapshot())
		}
	}
	return out
}

// Stats 分區統計
func (p *Partition) Stats() Stats {
	p.mu.Lock()
	defer p.unlock()
	st := Stats{ID: p.id}
	for _, used := range p.groups {
		if used {
			st.Groups++
		}
	}
	for i := range p.slots {
		if r := p.slots[i].room; r != nil {
			st.Rooms++
			st.Players += r.Players().Len()
		}
	}
	return st
}

// AdmitPlayer 為位址在房間中分配玩家槽位
//
// 位址原本在其他房間時，確認目標房間有空位後才從舊房間斷線；
// 目標房間已滿時回傳 ErrRoomFull，舊房間不受影響。
func (p *Partition) AdmitPlayer(slot int, addr netip.AddrPort, creds room.Credentials) (SessionHandle, error) {
	p.mu.Lock()
	defer p.unlock()

	rs, err := p.roomAt(slot)
	if err != nil {
		return SessionHandle{}, err
	}
	// 目標房間確定能接受後才離開舊房間
	if err := rs.room.CanAdmit(addr); err != nil {
		return SessionHandle{}, err
	}
	now := p.clock()
	if ep, ok := p.byAddr[addr]; ok && ep.slot != slot {
		old := &p.slots[ep.slot]
		p.logger.Info("位址移到其他房間", "addr", addr, "from", ep.slot, "to", slot)
		old.room.Disconnect(ep.player)
		p.settle(old, old.room.Tick(now), now)
	}

	player, err := rs.room.Admit(addr, creds, p.output(addr))
	if err != nil {
		return SessionHandle{}, err
	}
	p.byAddr[addr] = endpoint{slot: slot, player: player}
	p.settle(rs, rs.room.Tick(now), now)
	return SessionHandle{
		Slot:      slot,
		RoomGen:   rs.gen,
		Player:    player,
		PlayerGen: rs.playerGen[player],
	}, nil
}

// Valid handle 是否仍指向同一個玩家
func (p *Partition) Valid(h SessionHandle) bool {
	p.mu.Lock()
	defer p.unlock()
	_, err := p.resolve(h)
	return err == nil
}

// DisconnectPlayer 斷開 handle 指向的玩家
func (p *Partition) DisconnectPlayer(h SessionHandle) error {
	p.mu.Lock()
	defer p.unlock()
	rs, err := p.resolve(h)
	if err != nil {
		return err
	}
	now := p.clock()
	rs.room.Disconnect(h.Player)
	p.settle(rs, rs.room.Tick(now), now)
	return nil
}

func (p *Partition) resolve(h SessionHandle) (*roomSlot, error) {
	if h.Slot < 0 || h.Slot >= RoomSlots {
		return nil, apperrors.ErrStaleHandle
	}
	rs := &p.slots[h.Slot]
	if rs.room == nil || rs.gen != h.RoomGen {
		return nil, apperrors.ErrStaleHandle
	}
	if h.Player < 0 || h.Player >= len(rs.playerGen) || rs.playerGen[h.Player] != h.PlayerGen {
		return nil, apperrors.ErrStaleHandle
	}
	if rs.room.Session(h.Player) == nil {
		return nil, apperrors.ErrStaleHandle
	}
	return rs, nil
}

// HandleDatagram 依來源位址把資料報交給房間
func (p *Partition) HandleDatagram(addr netip.AddrPort, raw []byte) {
	p.mu.Lock()
	defer p.unlock()

	ep, ok := p.byAddr[addr]
	if !ok {
		p.logger.Debug("未知的來源位址", "addr", addr, "size", len(raw))
		return
	}
	rs := &p.slots[ep.slot]
	rs.room.HandleDatagram(ep.player, raw)
	now := p.clock()
	p.settle(rs, rs.room.Tick(now), now)
}

// Tick 處理所有到期的房間，回傳下一次需要處理的時間（零值代表沒有待辦）
func (p *Partition) Tick(now time.Time) time.Time {
	p.mu.Lock()
	defer p.unlock()

	for len(p.timers) > 0 && !p.timers[0].deadline.After(now) {
		rs := p.timers[0]
		p.settle(rs, rs.room.Tick(now), now)
	}
	return p.timers.peek()
}

// settle 房間處理完後：已關閉則釋放，否則重新排程
func (p *Partition) settle(rs *roomSlot, next, now time.Time) {
	if rs.room.Closed() {
		p.closeRoom(rs.slot)
		return
	}
	if !next.IsZero() && !next.After(now) {
		next = now.Add(time.Millisecond)
	}
	wasFirst := p.timers.peek()
	p.timers.schedule(rs, next)
	if first := p.timers.peek(); !first.IsZero() && (wasFirst.IsZero() || first.Before(wasFirst)) {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// output 綁定目的位址的傳輸輸出
func (p *Partition) output(addr netip.AddrPort) transport.Output {
	return func(datagram []byte) error {
		if p.send == nil {
			return fmt.Errorf("partition %d: no sender", p.id)
		}
		return p.send(datagram, addr)
	}
}

// Close 關閉所有房間
func (p *Partition) Close() {
	p.mu.Lock()
	defer p.unlock()
	for i := range p.slots {
		if p.slots[i].room != nil {
			p.closeRoom(i)
		}
	}
}
