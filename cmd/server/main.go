package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-rhythm-session/internal/announce"
	"github.com/koopa0/system-design/14-rhythm-session/internal/config"
	"github.com/koopa0/system-design/14-rhythm-session/internal/directory"
	"github.com/koopa0/system-design/14-rhythm-session/internal/partition"
	"github.com/koopa0/system-design/14-rhythm-session/internal/protocol"
	"github.com/koopa0/system-design/14-rhythm-session/internal/room"
	"github.com/koopa0/system-design/14-rhythm-session/internal/status"
	"github.com/redis/go-redis/v9"
)

// eventBuffer 房間事件通道容量；滿時房間直接丟棄事件
const eventBuffer = 1024

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "設定檔路徑（YAML）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋設定檔")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)，覆蓋設定檔")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
	logger.Info("服務器已關閉")
}

// run 啟動所有元件，收到關閉信號後依序關閉
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomDefaults, err := cfg.RoomDefaults()
	if err != nil {
		return err
	}

	// 外部目錄與公告（可選）
	var (
		registries []partition.Registry
		dir        *directory.Redis
		pub        *announce.Publisher
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer client.Close()
		dir = directory.NewRedis(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := dir.Ping(pingCtx)
		pingCancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		registries = append(registries, dir)
		logger.Info("房間目錄已啟用", "redis", cfg.Redis.Addr)
	}
	if cfg.NATS.URL != "" {
		pub, err = announce.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		registries = append(registries, pub)
		logger.Info("房間公告已啟用", "nats", cfg.NATS.URL)
	}

	// 房間伺服器與分區
	events := make(chan room.Event, eventBuffer)
	tcfg := cfg.TransportConfig()
	tcfg.Logger = logger
	server := partition.NewServer(partition.ServerOptions{
		Partitions: cfg.Server.Partitions,
		Endpoints:  cfg.Endpoints(),
		Transport:  tcfg,
		Codec:      protocol.NewMsgpackCodec(),
		Logger:     logger,
		Events:     events,
		Registries: registries,
	})

	var wg sync.WaitGroup
	serveErrors := make(chan error, cfg.Server.Partitions+1)
	for i, addr := range cfg.PartitionAddrs() {
		conn, err := net.ListenPacket("udp", addr.String())
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("listen udp %s: %w", addr, err)
		}
		p := server.Partitions()[i]
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := p.Serve(ctx, conn); err != nil {
				serveErrors <- fmt.Errorf("partition %d: %w", p.ID(), err)
			}
		}()
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		logger.Info("分區已啟動", "partition", i, "addr", addr)
	}

	// 狀態頁
	hub := status.NewHub(logger)
	handler := status.NewHandler(server, roomDefaults, hub, logger)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("狀態服務啟動", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrors <- fmt.Errorf("http: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatchEvents(ctx, events, hub, dir, pub, logger)
	}()

	// 等待中斷信號或元件錯誤
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-shutdown:
		logger.Info("收到關閉信號，開始優雅關閉...", "signal", sig)
	case runErr = <-serveErrors:
		logger.Error("元件異常，開始關閉", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// 停止接受新的 HTTP 請求
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("狀態服務關閉失敗", "error", err)
	}

	// 關閉所有房間（UDP 迴圈仍在執行，玩家會收到斷線通知），再停止迴圈
	server.Stop()
	cancel()
	wg.Wait()

	hub.Stop()
	return runErr
}

// dispatchEvents 把房間事件轉給狀態頁、目錄與公告
func dispatchEvents(ctx context.Context, events <-chan room.Event, hub *status.Hub,
	dir *directory.Redis, pub *announce.Publisher, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			hub.Publish(ev)
			if dir != nil {
				recordCtx, cancel := context.WithTimeout(ctx, time.Second)
				if err := dir.RecordEvent(recordCtx, ev); err != nil {
					logger.Warn("更新房間目錄失敗", "event", ev.Type, "error", err)
				}
				cancel()
			}
			if pub != nil {
				if err := pub.PublishEvent(ev); err != nil {
					logger.Warn("公告房間事件失敗", "event", ev.Type, "error", err)
				}
			}
		}
	}
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
