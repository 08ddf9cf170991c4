package room

import "time"

// EventType 房間事件種類
type EventType string

const (
	EventPhaseChanged       EventType = "phase_changed"
	EventPlayerConnected    EventType = "player_connected"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventLevelSelected      EventType = "level_selected"
	EventRoomClosed         EventType = "room_closed"
)

// Event 房間事件
//
// 事件只供狀態頁與公告使用，不影響房間邏輯；通道滿時直接丟棄。
type Event struct {
	Type    EventType `json:"event"`
	Room    uint32    `json:"room"`
	Slot    int       `json:"slot,omitempty"`
	UserID  string    `json:"user_id,omitempty"`
	Phase   string    `json:"phase,omitempty"`
	LevelID string    `json:"level_id,omitempty"`
	Time    time.Time `json:"time"`
}

// sendEvent 非阻塞送出事件
func (r *Room) sendEvent(ev Event) {
	if r.events == nil {
		return
	}
	ev.Room = r.code
	ev.Time = r.now()
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("事件通道已滿，丟棄事件", "event", ev.Type)
	}
}
