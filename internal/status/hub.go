package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
)

// 心跳參數：每 pingPeriod 送一次 Ping，pongWait 內沒有任何回應就關閉連接
const (
	pingPeriod = 54 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Hub WebSocket 連接中心
//
// 把房間事件推送給狀態頁。連接可以只訂閱一個房間（?code=ABCDEF），
// 或訂閱所有房間（不帶 code）。
//
// 連接映射：map[code]map[*Connection]struct{}，空字串代表所有房間。
// 廣播只持有讀鎖；送出走每個連接的緩衝 channel，慢的客戶端只會漏掉事件，
// 不會拖住房間伺服器。
type Hub struct {
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]map[*Connection]struct{}
	mu          sync.RWMutex
}

// Connection WebSocket 連接
type Connection struct {
	Code      string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// eventMessage 推送給客戶端的事件
type eventMessage struct {
	room.Event
	Code string `json:"code"`
}

// NewHub 創建 WebSocket Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 狀態頁是內部工具
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]map[*Connection]struct{}),
	}
}

// ServeWS 處理 WebSocket 連接
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code != "" {
		c, err := partition.ParseCode(code)
		if err != nil {
			http.Error(w, "無效的加入碼", http.StatusBadRequest)
			return
		}
		code = partition.FormatCode(c)
	}

	// 升級為 WebSocket 連接
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		Code:     code,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		Hub:      hub,
		LastPing: time.Now(),
	}
	hub.register(connection)

	// 啟動讀寫 goroutine
	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立", "code", code, "remote", r.RemoteAddr)
}

// register 註冊連接
func (hub *Hub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.connections[conn.Code] == nil {
		hub.connections[conn.Code] = make(map[*Connection]struct{})
	}
	hub.connections[conn.Code][conn] = struct{}{}
}

// unregister 取消註冊連接
func (hub *Hub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conns, exists := hub.connections[conn.Code]
	if !exists {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	conn.closeOnce.Do(func() {
		close(conn.Send)
	})
	if len(conns) == 0 {
		delete(hub.connections, conn.Code)
	}
}

// Publish 推送房間事件給訂閱該房間與訂閱所有房間的連接
func (hub *Hub) Publish(ev room.Event) {
	code := partition.FormatCode(ev.Room)
	message, err := json.Marshal(eventMessage{Event: ev, Code: code})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	hub.broadcast(hub.connections[code], message)
	hub.broadcast(hub.connections[""], message)
}

// broadcast 呼叫端持有讀鎖
func (hub *Hub) broadcast(conns map[*Connection]struct{}, message []byte) {
	for conn := range conns {
		select {
		case conn.Send <- message:
		default:
			hub.logger.Warn("連接緩衝區滿，丟棄事件", "code", conn.Code)
		}
	}
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, conns := range hub.connections {
		for conn := range conns {
			// 先關閉 Send channel，writePump 會送出關閉訊息
			conn.closeOnce.Do(func() {
				close(conn.Send)
			})
		}
	}
	hub.connections = make(map[string]map[*Connection]struct{})
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionCount 獲取連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	n := 0
	for _, conns := range hub.connections {
		n += len(conns)
	}
	return n
}

// readPump 讀取客戶端消息，維持讀取期限
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤", "error", err, "code", c.Code)
			}
			break
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端，定期送出 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出關閉訊息（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.Hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息（目前只有應用層 ping）
func (c *Connection) handleMessage(message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Debug("解析客戶端消息失敗", "error", err, "code", c.Code)
		return
	}

	switch msg.Type {
	case "ping":
		response, _ := json.Marshal(map[string]string{"type": "pong"})
		c.Hub.mu.RLock()
		defer c.Hub.mu.RUnlock()
		if _, ok := c.Hub.connections[c.Code][c]; ok {
			select {
			case c.Send <- response:
			default:
			}
		}
	default:
		c.Hub.logger.Debug("收到未知消息類型", "type", msg.Type, "code", c.Code)
	}
}
