// Package config 載入對戰服務設定
//
// 載入順序：Default() → YAML 檔案覆蓋 → 環境變數覆蓋 → Validate()
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	Game   GameConfig   `yaml:"game"`
	Rooms  RoomsConfig  `yaml:"rooms"`
	Limits LimitsConfig `yaml:"limits"`
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Events EventsConfig `yaml:"events"`
}

// ServerConfig HTTP 服務設定
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// PublicURL 用於產生加入連結（QR code）
	PublicURL string `yaml:"public_url"`
}

// GameConfig 物理參數，單位為畫布像素與「每個名目 tick 的像素」
type GameConfig struct {
	TickRate      int     `yaml:"tick_rate"`
	CanvasWidth   float64 `yaml:"canvas_width"`
	CanvasHeight  float64 `yaml:"canvas_height"`
	PaddleWidth   float64 `yaml:"paddle_width"`
	PaddleHeight  float64 `yaml:"paddle_height"`
	PaddleSpeed   float64 `yaml:"paddle_speed"`
	BallRadius    float64 `yaml:"ball_radius"`
	BallSpeed     float64 `yaml:"ball_speed"`
	MaxBallSpeed  float64 `yaml:"max_ball_speed"`
	SpeedUp       float64 `yaml:"speed_up"`
	SpinRange     float64 `yaml:"spin_range"`
	SpinBlend     float64 `yaml:"spin_blend"`
	WinScore      int     `yaml:"win_score"`
	MaxDeltaTicks float64 `yaml:"max_delta_ticks"`
}

// TickInterval 名目 tick 長度
func (g GameConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(g.TickRate)
}

// RoomsConfig 房間生命週期設定
type RoomsConfig struct {
	Countdown     time.Duration `yaml:"countdown"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	CodeAttempts  int           `yaml:"code_attempts"`
}

// LimitsConfig 連線防濫用設定
type LimitsConfig struct {
	MaxFrameBytes        int64         `yaml:"max_frame_bytes"`
	MaxMessagesPerSecond int64         `yaml:"max_messages_per_second"`
	SendBuffer           int           `yaml:"send_buffer"`
	UpgradesPerWindow    int64         `yaml:"upgrades_per_window"`
	UpgradeWindow        time.Duration `yaml:"upgrade_window"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	AddSource  bool   `yaml:"add_source"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StoreConfig 對戰紀錄儲存設定
type StoreConfig struct {
	Driver        string `yaml:"driver"` // memory 或 redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	HistorySize   int    `yaml:"history_size"`
	QueueSize     int    `yaml:"queue_size"`
}

// EventsConfig 生命週期事件發布設定；NATSURL 為空時不發布
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default 返回預設配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			PublicURL:       "http://localhost:8080",
		},
		Game: GameConfig{
			TickRate:      60,
			CanvasWidth:   800,
			CanvasHeight:  500,
			PaddleWidth:   10,
			PaddleHeight:  100,
			PaddleSpeed:   6,
			BallRadius:    8,
			BallSpeed:     5,
			MaxBallSpeed:  15,
			SpeedUp:       1.05,
			SpinRange:     6,
			SpinBlend:     0.75,
			WinScore:      5,
			MaxDeltaTicks: 3,
		},
		Rooms: RoomsConfig{
			Countdown:     3 * time.Second,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
			CodeAttempts:  16,
		},
		Limits: LimitsConfig{
			MaxFrameBytes:        1024,
			MaxMessagesPerSecond: 30,
			SendBuffer:           256,
			UpgradesPerWindow:    5,
			UpgradeWindow:        time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Store: StoreConfig{
			Driver:      "memory",
			RedisAddr:   "localhost:6379",
			KeyPrefix:   "pong",
			HistorySize: 100,
			QueueSize:   256,
		},
		Events: EventsConfig{
			SubjectPrefix: "pong.events",
		},
	}
}

// Load 從 YAML 檔案載入配置；path 為空時只使用預設值與環境變數
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - 路徑來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 以環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
		c.Store.Driver = "redis"
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	return nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	g := c.Game
	if g.TickRate <= 0 || g.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("game.tick_rate out of range: %d", g.TickRate))
	}
	if g.CanvasWidth <= 0 || g.CanvasHeight <= 0 {
		errs = append(errs, errors.New("game canvas must be positive"))
	}
	if g.PaddleHeight <= 0 || g.PaddleHeight > g.CanvasHeight {
		errs = append(errs, errors.New("game.paddle_height must fit the canvas"))
	}
	if g.PaddleWidth <= 0 || g.BallRadius <= 0 || g.PaddleSpeed <= 0 || g.BallSpeed <= 0 {
		errs = append(errs, errors.New("game sizes and speeds must be positive"))
	}
	if g.MaxBallSpeed < g.BallSpeed {
		errs = append(errs, errors.New("game.max_ball_speed must be at least ball_speed"))
	}
	if g.SpeedUp <= 1 {
		errs = append(errs, errors.New("game.speed_up must be > 1"))
	}
	if g.SpinBlend < 0 || g.SpinBlend > 1 {
		errs = append(errs, errors.New("game.spin_blend must be within [0,1]"))
	}
	if g.WinScore <= 0 {
		errs = append(errs, errors.New("game.win_score must be positive"))
	}
	if g.MaxDeltaTicks < 1 {
		errs = append(errs, errors.New("game.max_delta_ticks must be >= 1"))
	}

	if c.Rooms.Countdown < 0 || c.Rooms.IdleTimeout <= 0 || c.Rooms.SweepInterval <= 0 {
		errs = append(errs, errors.New("rooms durations must be positive"))
	}
	if c.Rooms.CodeAttempts <= 0 {
		errs = append(errs, errors.New("rooms.code_attempts must be positive"))
	}

	if c.Limits.MaxFrameBytes <= 0 || c.Limits.MaxMessagesPerSecond <= 0 || c.Limits.SendBuffer <= 0 {
		errs = append(errs, errors.New("limits must be positive"))
	}
	if c.Limits.UpgradesPerWindow <= 0 || c.Limits.UpgradeWindow <= 0 {
		errs = append(errs, errors.New("limits upgrade window must be positive"))
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.HistorySize <= 0 || c.Store.QueueSize <= 0 {
		errs = append(errs, errors.New("store sizes must be positive"))
	}

	return errors.Join(errs...)
}
