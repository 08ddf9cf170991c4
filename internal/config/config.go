// Package config 房間伺服器的設定
//
// 設定檔為 YAML；沒有提供設定檔時使用 Default()。部分欄位可以用環境變數覆蓋
// （部署環境常用）：
//
//	RHYTHM_UDP_ADDR   Server.UDPAddr
//	RHYTHM_HTTP_ADDR  HTTP.Addr
//	REDIS_ADDR        Redis.Addr（設定後啟用房間目錄）
//	NATS_URL          NATS.URL（設定後啟用房間公告）
//	LOG_LEVEL         Log.Level
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/koopa0/system-design/14-rhythm-session/internal/transport"
	"gopkg.in/yaml.v3"
)

// Config 整個服務的設定
type Config struct {
	Server struct {
		// UDPAddr 第一個分區的監聽位址，其餘分區使用後續的連接埠
		UDPAddr string `yaml:"udp_addr"`
		// PublicHost 對外公布的主機名稱（空字串時使用監聽位址）
		PublicHost string `yaml:"public_host"`
		Partitions int    `yaml:"partitions"`
	} `yaml:"server"`

	HTTP struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Transport struct {
		WindowSize  int           `yaml:"window_size"`
		MTU         int           `yaml:"mtu"`
		ResendDelay time.Duration `yaml:"resend_delay"`
		MaxBacklog  int           `yaml:"max_backlog"`
	} `yaml:"transport"`

	// Room 透過 HTTP 開房時沒有指定的欄位使用這裡的值
	Room struct {
		MaxPlayers    int    `yaml:"max_players"`
		SongSelection string `yaml:"song_selection"`
	} `yaml:"room"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		KeyPrefix    string        `yaml:"key_prefix"`
		TTL          time.Duration `yaml:"ttl"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 預設設定
func Default() *Config {
	cfg := &Config{}
	cfg.Server.UDPAddr = "0.0.0.0:7777"
	cfg.Server.Partitions = 1

	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ReadTimeout = 15 * time.Second
	cfg.HTTP.WriteTimeout = 15 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	tc := transport.DefaultConfig()
	cfg.Transport.WindowSize = tc.WindowSize
	cfg.Transport.MTU = tc.MTU
	cfg.Transport.ResendDelay = tc.ResendDelay
	cfg.Transport.MaxBacklog = tc.MaxBacklog

	rc := room.DefaultConfig()
	cfg.Room.MaxPlayers = rc.MaxPlayers
	cfg.Room.SongSelection = rc.SongSelectionMode.String()

	cfg.Redis.KeyPrefix = "rhythm"
	cfg.Redis.TTL = 2 * time.Hour
	cfg.Redis.PoolSize = 10
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	cfg.NATS.SubjectPrefix = "rhythm"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load 讀取設定檔；path 為空字串時只使用預設值與環境變數
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 套用環境變數覆蓋
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("RHYTHM_UDP_ADDR"); v != "" {
		c.Server.UDPAddr = v
	}
	if v := getenv("RHYTHM_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate 驗證設定
func (c *Config) Validate() error {
	base, err := netip.ParseAddrPort(c.Server.UDPAddr)
	if err != nil {
		return fmt.Errorf("server.udp_addr: %w", err)
	}
	if c.Server.Partitions < 1 {
		return fmt.Errorf("server.partitions must be at least 1, got %d", c.Server.Partitions)
	}
	if base.Port() == 0 && c.Server.Partitions > 1 {
		return fmt.Errorf("server.udp_addr needs a fixed port for %d partitions", c.Server.Partitions)
	}
	if int(base.Port())+c.Server.Partitions-1 > 65535 {
		return fmt.Errorf("server.udp_addr port range overflows with %d partitions", c.Server.Partitions)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Transport.WindowSize < transport.MinWindowSize || c.Transport.WindowSize > transport.MaxWindowSize {
		return fmt.Errorf("transport.window_size %d not in [%d, %d]",
			c.Transport.WindowSize, transport.MinWindowSize, transport.MaxWindowSize)
	}
	if c.Transport.MTU < 64 {
		return fmt.Errorf("transport.mtu %d too small", c.Transport.MTU)
	}
	if c.Transport.ResendDelay <= 0 {
		return fmt.Errorf("transport.resend_delay must be positive")
	}
	if _, err := c.RoomDefaults(); err != nil {
		return fmt.Errorf("room: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q unknown", c.Log.Format)
	}
	return nil
}

// PartitionAddrs 每個分區的監聽位址
func (c *Config) PartitionAddrs() []netip.AddrPort {
	base := netip.MustParseAddrPort(c.Server.UDPAddr)
	addrs := make([]netip.AddrPort, c.Server.Partitions)
	for i := range addrs {
		addrs[i] = netip.AddrPortFrom(base.Addr(), base.Port()+uint16(i))
	}
	return addrs
}

// Endpoints 每個分區對外公布的位址
func (c *Config) Endpoints() []string {
	addrs := c.PartitionAddrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		host := c.Server.PublicHost
		if host == "" {
			host = a.Addr().String()
		}
		out[i] = net.JoinHostPort(host, strconv.Itoa(int(a.Port())))
	}
	return out
}

// TransportConfig 轉成傳輸層參數
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.WindowSize = c.Transport.WindowSize
	tc.MTU = c.Transport.MTU
	tc.ResendDelay = c.Transport.ResendDelay
	tc.MaxBacklog = c.Transport.MaxBacklog
	return tc
}

// RoomDefaults 開房的預設設定
func (c *Config) RoomDefaults() (room.Config, error) {
	rc := room.DefaultConfig()
	rc.MaxPlayers = c.Room.MaxPlayers
	mode, err := room.ParseSongSelectionMode(c.Room.SongSelection)
	if err != nil {
		return room.Config{}, err
	}
	rc.SongSelectionMode = mode
	if err := rc.Validate(); err != nil {
		return room.Config{}, err
	}
	return rc, nil
}
