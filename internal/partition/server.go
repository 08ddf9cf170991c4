package partition

import (
	"context"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
)

// registryTimeout 通知外部目錄的逾時
const registryTimeout = 3 * time.Second

// RoomInfo 房間的配置資訊
type RoomInfo struct {
	Code      string      `json:"code"`
	Partition int         `json:"partition"`
	Slot      int         `json:"slot"`
	Endpoint  string      `json:"endpoint"`
	Config    room.Config `json:"config"`
	OpenedAt  time.Time   `json:"opened_at"`
}

// Registry 房間開關時通知的外部系統（目錄、公告）
type Registry interface {
	RoomOpened(ctx context.Context, info RoomInfo) error
	RoomClosed(ctx context.Context, info RoomInfo) error
}

// ServerOptions 伺服器參數
type ServerOptions struct {
	Partitions int
	// Endpoints 每個分區對外公布的位址（依分區編號）
	Endpoints  []string
	Transport  transport.Config
	Codec      protocol.Codec
	Clock      func() time.Time
	Logger     *slog.Logger
	Events     chan<- room.Event
	Registries []Registry
	// Send 測試用；nil 時每個分區在 Serve 時綁定自己的 socket
	Send Sender
}

// Server 管理所有分區與加入碼
type Server struct {
	partitions []*Partition
	endpoints  []string
	rooms      map[uint32]*RoomInfo // code -> RoomInfo
	mu         sync.RWMutex
	registries []Registry
	clock      func() time.Time
	logger     *slog.Logger
	next       int
}

// NewServer 建立伺服器與分區
func NewServer(opts ServerOptions) *Server {
	if opts.Partitions < 1 {
		opts.Partitions = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		endpoints:  opts.Endpoints,
		rooms:      make(map[uint32]*RoomInfo),
		registries: opts.Registries,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	for i := range opts.Partitions {
		id := i
		s.partitions = append(s.partitions, New(Options{
			ID:        id,
			Send:      opts.Send,
			Codec:     opts.Codec,
			Transport: opts.Transport,
			Clock:     opts.Clock,
			Logger:    opts.Logger,
			Events:    opts.Events,
			OnClose: func(slot int, code uint32) {
				s.roomClosed(id, slot, code)
			},
		}))
	}
	return s
}

// Partitions 所有分區
func (s *Server) Partitions() []*Partition {
	return s.partitions
}

// CreateRoom 創建房間
//
// 依序輪流選擇分區，分區已滿時換下一個。
func (s *Server) CreateRoom(ctx context.Context, cfg room.Config) (RoomInfo, error) {
	if err := cfg.Validate(); err != nil {
		return RoomInfo{}, err
	}

	s.mu.Lock()
	code := s.uniqueCode()
	// 先佔住代碼，分區開房時不持有伺服器鎖
	s.rooms[code] = nil
	start := s.next
	s.next = (s.next + 1) % len(s.partitions)
	s.mu.Unlock()

	var (
		info RoomInfo
		err  error
	)
	for i := range s.partitions {
		id := (start + i) % len(s.partitions)
		var slot int
		slot, err = s.partitions[id].Allocate(cfg, code)
		if err == nil {
			info = RoomInfo{
				Code:      FormatCode(code),
				Partition: id,
				Slot:      slot,
				Endpoint:  s.endpoint(id),
				Config:    cfg,
				OpenedAt:  s.clock(),
			}
			break
		}
		if !apperrors.IsCapacity(err) {
			break
		}
	}

	s.mu.Lock()
	if err != nil {
		delete(s.rooms, code)
		s.mu.Unlock()
		s.logger.Warn("創建房間失敗", "error", err)
		return RoomInfo{}, err
	}
	s.rooms[code] = &info
	s.mu.Unlock()

	s.logger.Info("房間已創建",
		"code", info.Code,
		"partition", info.Partition,
		"slot", info.Slot,
		"max_players", cfg.MaxPlayers,
		"song_selection", cfg.SongSelectionMode)

	for _, reg := range s.registries {
		if err := reg.RoomOpened(ctx, info); err != nil {
			s.logger.Warn("房間登記失敗", "code", info.Code, "error", err)
		}
	}
	return info, nil
}

// uniqueCode 生成未使用的房間代碼（呼叫端持有鎖）
func (s *Server) uniqueCode() uint32 {
	for {
		code, _ := ParseCode(generateJoinCode())
		if _, exists := s.rooms[code]; !exists {
			return code
		}
	}
}

func (s *Server) endpoint(partition int) string {
	if partition < len(s.endpoints) {
		return s.endpoints[partition]
	}
	return ""
}

// GetRoom 通過加入碼獲取房間
func (s *Server) GetRoom(joinCode string) (RoomInfo, error) {
	code, err := ParseCode(joinCode)
	if err != nil {
		return RoomInfo{}, err
	}
	s.mu.RLock()
	info := s.rooms[code]
	s.mu.RUnlock()
	if info == nil {
		return RoomInfo{}, apperrors.ErrRoomNotFound.WithDetails(joinCode)
	}
	return *info, nil
}

// Admit 為玩家位址在房間中分配槽位（配對伺服器核發憑證後呼叫）
func (s *Server) Admit(joinCode string, addr netip.AddrPort, creds room.Credentials) (SessionHandle, error) {
	info, err := s.GetRoom(joinCode)
	if err != nil {
		return SessionHandle{}, err
	}
	h, err := s.partitions[info.Partition].AdmitPlayer(info.Slot, addr, creds)
	if err != nil {
		return SessionHandle{}, err
	}
	s.logger.Info("玩家已分配",
		"code", info.Code,
		"user_id", creds.UserID,
		"addr", addr,
		"player", h.Player)
	return h, nil
}

// Snapshot 房間快照
func (s *Server) Snapshot(joinCode string) (room.Snapshot, error) {
	info, err := s.GetRoom(joinCode)
	if err != nil {
		return room.Snapshot{}, err
	}
	return s.partitions[info.Partition].Snapshot(info.Slot)
}

// CloseRoom 關閉房間
func (s *Server) CloseRoom(joinCode string) error {
	info, err := s.GetRoom(joinCode)
	if err != nil {
		return err
	}
	return s.partitions[info.Partition].CloseRoom(info.Slot)
}

// roomClosed 分區通知房間已關閉（不持有分區鎖）
func (s *Server) roomClosed(partition, slot int, code uint32) {
	s.mu.Lock()
	info := s.rooms[code]
	delete(s.rooms, code)
	s.mu.Unlock()

	s.partitions[partition].ReleaseIdleGroup(slot / GroupSize)
	if info == nil {
		return
	}
	s.logger.Info("房間已移除", "code", info.Code, "partition", partition, "slot", slot)

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	for _, reg := range s.registries {
		if err := reg.RoomClosed(ctx, *info); err != nil {
			s.logger.Warn("房間註銷失敗", "code", info.Code, "error", err)
		}
	}
}

// ListRooms 列出房間（依加入碼排序）
func (s *Server) ListRooms(page, limit int) ([]RoomInfo, int) {
	s.mu.RLock()
	all := make([]RoomInfo, 0, len(s.rooms))
	for _, info := range s.rooms {
		if info != nil {
			all = append(all, *info)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	total := len(all)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = total
	}
	start := (page - 1) * limit
	if start >= total {
		return []RoomInfo{}, total
	}
	end := min(start+limit, total)
	return all[start:end], total
}

// Stats 獲取統計資訊
func (s *Server) Stats() map[string]any {
	byPhase := make(map[string]int)
	totalPlayers := 0
	parts := make([]Stats, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p.Stats())
		for _, snap := range p.Snapshots() {
			byPhase[snap.Phase]++
			totalPlayers += len(snap.Players)
		}
	}

	s.mu.RLock()
	totalRooms := 0
	for _, info := range s.rooms {
		if info != nil {
			totalRooms++
		}
	}
	s.mu.RUnlock()

	return map[string]any{
		"total_rooms":   totalRooms,
		"total_players": totalPlayers,
		"by_phase":      byPhase,
		"partitions":    parts,
	}
}

// Stop 關閉所有房間
func (s *Server) Stop() {
	for _, p := range s.partitions {
		p.Close()
	}
	s.logger.Info("房間伺服器已停止")
}
