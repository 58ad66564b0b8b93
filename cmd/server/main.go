package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/koopa0/system-design/14-realtime-pong/internal/config"
	"github.com/koopa0/system-design/14-realtime-pong/internal/server"
	"github.com/koopa0/system-design/14-realtime-pong/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pong-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行參數
	var (
		configPath = flag.String("config", defaultConfigPath(), "配置檔路徑（YAML）")
		port       = flag.Int("port", 0, "覆蓋配置中的服務端口")
	)
	flag.Parse()

	// 本地開發時從 .env 載入環境變數；檔案不存在不算錯誤
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log, closer, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		AddSource:  cfg.Log.AddSource,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(log)

	engine, err := server.New(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	if err := engine.Start(context.Background()); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// 啟動服務器
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- engine.ListenAndServe()
	}()

	// 等待中斷信號或服務器錯誤
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			log.Error("服務器啟動失敗", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := engine.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
		return err
	}

	log.Info("服務器已關閉")
	return nil
}

// defaultConfigPath 工作目錄下有 config.yaml 時預設使用它
func defaultConfigPath() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}
