// Package server 組裝對戰服務：事件迴圈、房間、分派、WebSocket 與 HTTP API
//
// 關閉順序：
//  1. 停止接受新的升級
//  2. 在事件迴圈上關閉所有房間（送出 room_closed）
//  3. 以 1001 關閉所有連線並等待讀取端結束
//  4. 關閉 HTTP 服務
//  5. 停止事件迴圈
//  6. 清空對局紀錄佇列
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-pong/internal/broadcast"
	"github.com/koopa0/system-design/14-realtime-pong/internal/config"
	"github.com/koopa0/system-design/14-realtime-pong/internal/dispatch"
	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	"github.com/koopa0/system-design/14-realtime-pong/internal/limiter"
	"github.com/koopa0/system-design/14-realtime-pong/internal/matchlog"
	"github.com/koopa0/system-design/14-realtime-pong/internal/room"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
)

// Engine 整個對戰服務
type Engine struct {
	cfg        *config.Config
	loop       *scheduler.Loop
	sched      *scheduler.Scheduler
	registry   *room.Registry
	dispatcher *dispatch.Dispatcher
	hub        *Hub
	recorder   *matchlog.Recorder
	handler    http.Handler
	httpServer *http.Server
	pruner     scheduler.Timer
	cancel     context.CancelFunc
	logger     *slog.Logger
}

// EngineOption 選項
type EngineOption func(*engineDeps)

type engineDeps struct {
	store     matchlog.Store
	publisher matchlog.Publisher
	roomOpts  []room.Option
}

// WithStore 指定對局紀錄儲存，略過 config.Store
func WithStore(s matchlog.Store) EngineOption {
	return func(d *engineDeps) { d.store = s }
}

// WithPublisher 指定事件發布端，略過 config.Events
func WithPublisher(p matchlog.Publisher) EngineOption {
	return func(d *engineDeps) { d.publisher = p }
}

// WithRoomOptions 附加房間選項（測試用的時鐘、亂數等）
func WithRoomOptions(opts ...room.Option) EngineOption {
	return func(d *engineDeps) { d.roomOpts = append(d.roomOpts, opts...) }
}

// New 依設定建立 Engine，外部依賴（Redis、NATS）在這裡連線
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	deps := &engineDeps{}
	for _, o := range opts {
		o(deps)
	}

	store, err := openStore(ctx, cfg.Store, deps.store)
	if err != nil {
		return nil, err
	}
	publisher, err := openPublisher(cfg.Events, deps.publisher)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	loop := scheduler.NewLoop(4096, logger.With("component", "loop"))
	sched := scheduler.New(loop)
	recorder := matchlog.NewRecorder(store, publisher, cfg.Store.QueueSize, logger.With("component", "matchlog"))
	notifier := broadcast.New(logger.With("component", "broadcast"))

	roomOpts := append([]room.Option{room.WithObserver(recorder)}, deps.roomOpts...)
	registry := room.NewRegistry(RoomOptions(cfg), sched, notifier, logger.With("component", "room"), roomOpts...)

	dispatcher := dispatch.New(registry, notifier, dispatch.Limits{
		MaxFrameBytes:        cfg.Limits.MaxFrameBytes,
		MaxMessagesPerSecond: cfg.Limits.MaxMessagesPerSecond,
	}, logger.With("component", "dispatch"))

	var upgrades *limiter.KeyedWindow
	if cfg.Limits.UpgradesPerWindow > 0 {
		upgrades = limiter.NewKeyedWindow(cfg.Limits.UpgradesPerWindow, cfg.Limits.UpgradeWindow, nil)
	}
	hub := NewHub(loop, dispatcher, upgrades, HubOptions{
		MaxFrameBytes: cfg.Limits.MaxFrameBytes,
		SendBuffer:    cfg.Limits.SendBuffer,
	}, logger.With("component", "hub"))

	e := &Engine{
		cfg:        cfg,
		loop:       loop,
		sched:      sched,
		registry:   registry,
		dispatcher: dispatcher,
		hub:        hub,
		recorder:   recorder,
		logger:     logger,
	}
	e.handler = NewHandler(loop, registry, hub, store, cfg.Server.PublicURL, logger.With("component", "http")).Routes()
	e.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      e.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return e, nil
}

// RoomOptions 由設定換算房間與物理參數
func RoomOptions(cfg *config.Config) room.Options {
	g := cfg.Game
	return room.Options{
		Params: game.Params{
			CanvasWidth:   g.CanvasWidth,
			CanvasHeight:  g.CanvasHeight,
			PaddleWidth:   g.PaddleWidth,
			PaddleHeight:  g.PaddleHeight,
			PaddleSpeed:   g.PaddleSpeed,
			BallRadius:    g.BallRadius,
			BallSpeed:     g.BallSpeed,
			MaxBallSpeed:  g.MaxBallSpeed,
			SpeedUp:       g.SpeedUp,
			SpinRange:     g.SpinRange,
			SpinBlend:     g.SpinBlend,
			WinScore:      g.WinScore,
			MaxDeltaTicks: g.MaxDeltaTicks,
			TickInterval:  g.TickInterval(),
		},
		Countdown:     cfg.Rooms.Countdown,
		IdleTimeout:   cfg.Rooms.IdleTimeout,
		SweepInterval: cfg.Rooms.SweepInterval,
		CodeAttempts:  cfg.Rooms.CodeAttempts,
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, override matchlog.Store) (matchlog.Store, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.Driver {
	case "redis":
		s, err := matchlog.NewRedisStore(ctx, matchlog.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
			Size:     cfg.HistorySize,
		})
		if err != nil {
			return nil, fmt.Errorf("open match store: %w", err)
		}
		return s, nil
	default:
		return matchlog.NewMemoryStore(cfg.HistorySize), nil
	}
}

func openPublisher(cfg config.EventsConfig, override matchlog.Publisher) (matchlog.Publisher, error) {
	if override != nil {
		return override, nil
	}
	if cfg.NATSURL == "" {
		return matchlog.NopPublisher{}, nil
	}
	p, err := matchlog.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix)
	if err != nil {
		return nil, fmt.Errorf("open event publisher: %w", err)
	}
	return p, nil
}

// Handler HTTP 路由（含 /ws）
func (e *Engine) Handler() http.Handler {
	return e.handler
}

// Start 啟動事件迴圈、閒置房間清理與升級紀錄清理
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.loop.Run(ctx)

	return e.loop.Do(ctx, func() {
		e.registry.StartSweeper()
		if window := e.cfg.Limits.UpgradeWindow; window > 0 {
			e.pruner = e.sched.Every(window, func(time.Time) {
				if n := e.hub.PruneUpgrades(); n > 0 {
					e.logger.Debug("pruned idle upgrade windows", "count", n)
				}
			})
		}
	})
}

// ListenAndServe 在設定的埠號上提供服務，直到 Shutdown
func (e *Engine) ListenAndServe() error {
	e.logger.Info("對戰服務啟動", "port", e.cfg.Server.Port)
	if err := e.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 優雅關閉；返回過程中所有非致命錯誤
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	e.hub.StopAccepting()

	if err := e.loop.Do(ctx, func() {
		if e.pruner != nil {
			e.pruner.Cancel()
		}
		e.registry.Shutdown()
	}); err != nil && !errors.Is(err, scheduler.ErrStopped) {
		errs = append(errs, fmt.Errorf("close rooms: %w", err))
	}

	if err := e.hub.CloseAll(ctx, websocket.CloseGoingAway, "server shutting down"); err != nil {
		errs = append(errs, fmt.Errorf("close connections: %w", err))
	}

	if err := e.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	e.loop.Stop()
	if e.cancel != nil {
		e.cancel()
		select {
		case <-e.loop.Done():
		case <-ctx.Done():
		}
	}

	if err := e.recorder.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush match log: %w", err))
	}

	e.logger.Info("服務器已關閉")
	return errors.Join(errs...)
}
