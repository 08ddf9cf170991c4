// Package announce 把房間的開關與狀態變化發布到 NATS
//
// Subject：
//
//	{prefix}.rooms.opened          房間開啟（RoomInfo）
//	{prefix}.rooms.closed          房間關閉（RoomInfo）
//	{prefix}.room.{code}.{event}   房間事件（room.Event 加上加入碼）
//
// 訂閱端可以用 {prefix}.room.*.player_connected 之類的萬用字元只取需要的事件。
// 使用 Core NATS：公告只反映目前狀態，不需要持久化。
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/nats-io/nats.go"
)

// Publisher 房間公告
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// EventMessage 房間事件的公告內容
type EventMessage struct {
	room.Event
	Code string `json:"code"`
}

// Connect 連線到 NATS 並建立 Publisher
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(
		url,
		nats.Name("rhythm-session"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return NewPublisher(conn, prefix, logger), nil
}

// NewPublisher 以既有連線建立 Publisher
func NewPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "rhythm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "announce"),
	}
}

// OpenedSubject 房間開啟的 subject
func (p *Publisher) OpenedSubject() string {
	return p.prefix + ".rooms.opened"
}

// ClosedSubject 房間關閉的 subject
func (p *Publisher) ClosedSubject() string {
	return p.prefix + ".rooms.closed"
}

// EventSubject 房間事件的 subject
func (p *Publisher) EventSubject(ev room.Event) string {
	return fmt.Sprintf("%s.room.%s.%s", p.prefix, partition.FormatCode(ev.Room), ev.Type)
}

// RoomOpened 公告房間開啟
func (p *Publisher) RoomOpened(ctx context.Context, info partition.RoomInfo) error {
	return p.publishInfo(ctx, p.OpenedSubject(), info)
}

// RoomClosed 公告房間關閉
func (p *Publisher) RoomClosed(ctx context.Context, info partition.RoomInfo) error {
	return p.publishInfo(ctx, p.ClosedSubject(), info)
}

// publishInfo 發布並等待伺服器確認收到
func (p *Publisher) publishInfo(ctx context.Context, subject string, info partition.RoomInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("序列化房間資訊失敗: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("發布 %s 失敗: %w", subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("發布 %s 失敗: %w", subject, err)
	}
	return nil
}

// PublishEvent 公告房間事件（不等待確認）
func (p *Publisher) PublishEvent(ev room.Event) error {
	data, err := json.Marshal(EventMessage{Event: ev, Code: partition.FormatCode(ev.Room)})
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}
	subject := p.EventSubject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("發布 %s 失敗: %w", subject, err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain 失敗", "error", err)
		p.conn.Close()
		return err
	}
	return nil
}
