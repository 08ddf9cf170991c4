// Package status 房間伺服器的 HTTP 管理介面與 WebSocket 事件推送
//
// 配對伺服器透過 HTTP 開房、為玩家分配槽位；維運透過 /stats 與房間快照
// 觀察狀態。遊戲流量本身只走 UDP，不經過這裡。
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	server   *partition.Server
	defaults room.Config
	hub      *Hub
	logger   *slog.Logger
}

// NewHandler 創建 HTTP 處理器；hub 為 nil 時不提供 WebSocket 路由
func NewHandler(server *partition.Server, defaults room.Config, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		server:   server,
		defaults: defaults,
		hub:      hub,
		logger:   logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間管理 API
	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{code}", wrap(h.getRoomDetail))
	mux.HandleFunc("DELETE /api/v1/rooms/{code}", wrap(h.closeRoom))
	mux.HandleFunc("POST /api/v1/rooms/{code}/players", wrap(h.admitPlayer))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// WebSocket 不經過 loggerMiddleware：Upgrade 需要原始的 ResponseWriter
	if h.hub != nil {
		mux.HandleFunc("GET /ws/events", h.hub.ServeWS)
	}

	return mux
}

// 請求結構
type createRoomRequest struct {
	MaxPlayers      int                   `json:"max_players"`
	SongSelection   string                `json:"song_selection"`
	InvitePolicy    *room.InvitePolicy    `json:"invite_policy,omitempty"`
	ControlSettings *room.ControlSettings `json:"control_settings,omitempty"`
}

type admitPlayerRequest struct {
	Addr            string `json:"addr"`
	Secret          string `json:"secret"`
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// roomDetail 房間詳情
type roomDetail struct {
	partition.RoomInfo
	State room.Snapshot `json:"state"`
}

// createRoom 創建房間
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	// 沒有指定的欄位使用預設值
	cfg := h.defaults
	if req.MaxPlayers != 0 {
		cfg.MaxPlayers = req.MaxPlayers
	}
	if req.SongSelection != "" {
		mode, err := room.ParseSongSelectionMode(req.SongSelection)
		if err != nil {
			h.appError(w, err)
			return
		}
		cfg.SongSelectionMode = mode
	}
	if req.InvitePolicy != nil {
		cfg.InvitePolicy = *req.InvitePolicy
	}
	if req.ControlSettings != nil {
		cfg.ControlSettings = *req.ControlSettings
	}

	info, err := h.server.CreateRoom(r.Context(), cfg)
	if err != nil {
		h.appError(w, err)
		return
	}
	h.jsonResponse(w, info, http.StatusCreated)
}

// admitPlayer 為玩家位址分配槽位
//
// 配對伺服器確認玩家可以加入後呼叫，之後該位址送來的 ConnectRequest
// 必須帶著相同的 secret 與 user_id。
func (h *Handler) admitPlayer(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	var req admitPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Secret == "" {
		h.errorResponse(w, "玩家資訊不完整", http.StatusBadRequest)
		return
	}
	addr, err := netip.ParseAddrPort(req.Addr)
	if err != nil {
		h.errorResponse(w, "無效的玩家位址", http.StatusBadRequest)
		return
	}

	handle, err := h.server.Admit(code, addr, room.Credentials{
		Secret:          req.Secret,
		UserID:          req.UserID,
		UserName:        req.UserName,
		ProtocolVersion: req.ProtocolVersion,
	})
	if err != nil {
		h.appError(w, err)
		return
	}
	h.jsonResponse(w, handle, http.StatusCreated)
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if p := query.Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := 20
	if l := query.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	rooms, total := h.server.ListRooms(page, limit)

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": total,
		"page":  page,
	}, http.StatusOK)
}

// getRoomDetail 獲取房間詳情
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	info, err := h.server.GetRoom(code)
	if err != nil {
		h.appError(w, err)
		return
	}
	snap, err := h.server.Snapshot(code)
	if err != nil {
		h.appError(w, err)
		return
	}
	h.jsonResponse(w, roomDetail{RoomInfo: info, State: snap}, http.StatusOK)
}

// closeRoom 關閉房間
func (h *Handler) closeRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.server.CloseRoom(r.PathValue("code")); err != nil {
		h.appError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{
		"success": true,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.server.Stats()
	if h.hub != nil {
		stats["websocket_connections"] = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// appError 依錯誤碼決定狀態碼
func (h *Handler) appError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsInvalidInput(err):
		status = http.StatusBadRequest
	case apperrors.IsAlreadyExists(err), apperrors.IsCapacity(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("處理請求失敗", "error", err)
	}
	h.errorResponse(w, err.Error(), status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
