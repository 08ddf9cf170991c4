package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/config"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault 測試預設設定可以通過驗證
func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	rc, err := cfg.RoomDefaults()
	require.NoError(t, err)
	assert.Equal(t, room.DefaultConfig(), rc)
	assert.Equal(t, 64, cfg.TransportConfig().WindowSize)
}

// TestLoad 測試讀取 YAML 設定檔
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  udp_addr: "127.0.0.1:9000"
  public_host: "game.example.com"
  partitions: 3
http:
  addr: ":9090"
transport:
  window_size: 128
  resend_delay: 80ms
room:
  max_players: 10
  song_selection: owner_picks
redis:
  addr: "localhost:6379"
  ttl: 30m
log:
  level: debug
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Server.Partitions)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	// 未出現在檔案中的欄位保留預設值
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 128, cfg.Transport.WindowSize)
	assert.Equal(t, 80*time.Millisecond, cfg.Transport.ResendDelay)
	assert.Equal(t, 30*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, []string{
		"game.example.com:9000",
		"game.example.com:9001",
		"game.example.com:9002",
	}, cfg.Endpoints())

	rc, err := cfg.RoomDefaults()
	require.NoError(t, err)
	assert.Equal(t, 10, rc.MaxPlayers)
	assert.Equal(t, room.SelectionOwnerPicks, rc.SongSelectionMode)
}

// TestLoad_Errors 測試讀取失敗
func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err = config.Load(path)
	assert.Error(t, err)
}

// TestApplyEnv 測試環境變數覆蓋
func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RHYTHM_UDP_ADDR":  "10.0.0.5:4000",
		"RHYTHM_HTTP_ADDR": ":8181",
		"REDIS_ADDR":       "redis:6379",
		"NATS_URL":         "nats://nats:4222",
		"LOG_LEVEL":        "warn",
	}
	cfg := config.Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "10.0.0.5:4000", cfg.Server.UDPAddr)
	assert.Equal(t, ":8181", cfg.HTTP.Addr)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	require.NoError(t, cfg.Validate())

	// 沒有設定的變數不覆蓋
	cfg = config.Default()
	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, config.Default(), cfg)
}

// TestValidate 測試設定驗證
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"UDP 位址錯誤", func(c *config.Config) { c.Server.UDPAddr = "nope" }},
		{"分區數為 0", func(c *config.Config) { c.Server.Partitions = 0 }},
		{"多分區需要固定連接埠", func(c *config.Config) {
			c.Server.UDPAddr = "0.0.0.0:0"
			c.Server.Partitions = 2
		}},
		{"連接埠溢位", func(c *config.Config) {
			c.Server.UDPAddr = "0.0.0.0:65535"
			c.Server.Partitions = 2
		}},
		{"缺少 HTTP 位址", func(c *config.Config) { c.HTTP.Addr = "" }},
		{"視窗太小", func(c *config.Config) { c.Transport.WindowSize = 8 }},
		{"視窗太大", func(c *config.Config) { c.Transport.WindowSize = 1000 }},
		{"MTU 太小", func(c *config.Config) { c.Transport.MTU = 10 }},
		{"重送間隔", func(c *config.Config) { c.Transport.ResendDelay = 0 }},
		{"房間人數", func(c *config.Config) { c.Room.MaxPlayers = 0 }},
		{"選曲方式", func(c *config.Config) { c.Room.SongSelection = "dice" }},
		{"日誌等級", func(c *config.Config) { c.Log.Level = "verbose" }},
		{"日誌格式", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
