// Package directory 把開啟中的房間登記到 Redis，供配對伺服器依加入碼查詢
//
// 資料結構：
//
//	{prefix}:room:{code}   房間資訊（JSON，帶 TTL）
//	{prefix}:rooms         所有開啟中的加入碼（Set）
//	{prefix}:players       每個房間的連線人數（Hash，field 為加入碼）
//
// 房間資訊帶 TTL，伺服器異常終止時殘留的資料會自動過期；List 會順便清掉
// Set 中已過期的加入碼。
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	apperrors "github.com/koopa0/system-design/14-rhythm-session/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Entry 目錄中的房間
type Entry struct {
	partition.RoomInfo
	Players int `json:"players"`
}

// Redis 以 Redis 實作的房間目錄
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis 建立房間目錄
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "rhythm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "directory"),
	}
}

func (d *Redis) roomKey(code string) string {
	return d.prefix + ":room:" + code
}

func (d *Redis) roomsKey() string {
	return d.prefix + ":rooms"
}

func (d *Redis) playersKey() string {
	return d.prefix + ":players"
}

// RoomOpened 登記房間
func (d *Redis) RoomOpened(ctx context.Context, info partition.RoomInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal room info: %w", err)
	}
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, d.roomKey(info.Code), data, d.ttl)
		pipe.SAdd(ctx, d.roomsKey(), info.Code)
		pipe.HSet(ctx, d.playersKey(), info.Code, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register room %s: %w", info.Code, err)
	}
	d.logger.Debug("房間已登記", "code", info.Code, "endpoint", info.Endpoint)
	return nil
}

// RoomClosed 註銷房間
func (d *Redis) RoomClosed(ctx context.Context, info partition.RoomInfo) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.roomKey(info.Code))
		pipe.SRem(ctx, d.roomsKey(), info.Code)
		pipe.HDel(ctx, d.playersKey(), info.Code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unregister room %s: %w", info.Code, err)
	}
	d.logger.Debug("房間已註銷", "code", info.Code)
	return nil
}

// RecordEvent 依房間事件更新連線人數，並延長房間資訊的 TTL
func (d *Redis) RecordEvent(ctx context.Context, ev room.Event) error {
	var delta int64
	switch ev.Type {
	case room.EventPlayerConnected:
		delta = 1
	case room.EventPlayerDisconnected:
		delta = -1
	default:
		return nil
	}
	code := partition.FormatCode(ev.Room)
	_, err := d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, d.playersKey(), code, delta)
		if d.ttl > 0 {
			pipe.Expire(ctx, d.roomKey(code), d.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s for room %s: %w", ev.Type, code, err)
	}
	return nil
}

// Lookup 依加入碼查詢房間
func (d *Redis) Lookup(ctx context.Context, code string) (Entry, error) {
	pipe := d.client.Pipeline()
	infoCmd := pipe.Get(ctx, d.roomKey(code))
	playersCmd := pipe.HGet(ctx, d.playersKey(), code)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, fmt.Errorf("lookup room %s: %w", code, err)
	}

	data, err := infoCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, apperrors.ErrRoomNotFound.WithDetails(code)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup room %s: %w", code, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e.RoomInfo); err != nil {
		return Entry{}, fmt.Errorf("decode room %s: %w", code, err)
	}
	if n, err := playersCmd.Int(); err == nil {
		e.Players = n
	}
	return e, nil
}

// List 列出所有開啟中的房間（依加入碼排序），並清掉已過期的加入碼
func (d *Redis) List(ctx context.Context) ([]Entry, error) {
	codes, err := d.client.SMembers(ctx, d.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(codes) == 0 {
		return []Entry{}, nil
	}
	slices.Sort(codes)

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = d.roomKey(code)
	}
	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	players, err := d.client.HGetAll(ctx, d.playersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list room players: %w", err)
	}

	out := make([]Entry, 0, len(codes))
	var expired []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, codes[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(s), &e.RoomInfo); err != nil {
			d.logger.Warn("房間資訊格式錯誤", "code", codes[i], "error", err)
			continue
		}
		e.Players, _ = strconv.Atoi(players[codes[i]])
		out = append(out, e)
	}

	if len(expired) > 0 {
		if err := d.client.SRem(ctx, d.roomsKey(), expired...).Err(); err != nil {
			d.logger.Warn("清除過期加入碼失敗", "count", len(expired), "error", err)
		} else {
			d.logger.Debug("已清除過期加入碼", "count", len(expired))
		}
	}
	return out, nil
}

// Ping 檢查 Redis 連線
func (d *Redis) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
