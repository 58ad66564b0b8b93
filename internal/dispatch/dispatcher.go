// Package dispatch 解碼、驗證並限流每條連線的訊息，再轉交房間處理
//
// Dispatcher 的所有方法都在事件迴圈上執行。
package dispatch

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-pong/internal/limiter"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
	"github.com/koopa0/system-design/14-realtime-pong/internal/room"
	apperrors "github.com/koopa0/system-design/14-realtime-pong/pkg/errors"
)

// Rooms 房間操作
type Rooms interface {
	Create(m room.Member) (string, error)
	Join(code string, m room.Member) error
	Input(m room.Member, up, down bool) error
	Remove(m room.Member)
}

// Limits 每條連線的防濫用限制
type Limits struct {
	MaxFrameBytes        int64
	MaxMessagesPerSecond int64
}

// DefaultLimits 預設限制：1 KiB 訊框、每秒 30 則
func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 1024, MaxMessagesPerSecond: 30}
}

// Dispatcher 訊息分派器
type Dispatcher struct {
	rooms    Rooms
	notifier room.Notifier
	limits   Limits
	now      limiter.Clock
	buckets  map[string]*limiter.TokenBucket // memberID -> 訊息速率
	logger   *slog.Logger
}

// Option 選項
type Option func(*Dispatcher)

// WithClock 替換限流使用的時鐘
func WithClock(now limiter.Clock) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New 建立分派器
func New(rooms Rooms, notifier room.Notifier, limits Limits, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rooms:    rooms,
		notifier: notifier,
		limits:   limits,
		now:      time.Now,
		buckets:  make(map[string]*limiter.TokenBucket),
		logger:   logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect 登記新連線
func (d *Dispatcher) Connect(m room.Member) {
	rate := d.limits.MaxMessagesPerSecond
	d.buckets[m.ID()] = limiter.NewTokenBucketWithClock(rate, rate, d.now)
	d.logger.Debug("connection registered", "member_id", m.ID(), "name", m.Name())
}

// Disconnect 連線結束：離開房間並釋放限流狀態
func (d *Dispatcher) Disconnect(m room.Member) {
	d.rooms.Remove(m)
	delete(d.buckets, m.ID())
	d.logger.Debug("connection unregistered", "member_id", m.ID())
}

// Connections 目前登記的連線數
func (d *Dispatcher) Connections() int {
	return len(d.buckets)
}

// Handle 處理一個訊框
//
// 超過大小或速率限制直接以 1009 / 1008 關閉連線，不回覆；
// 格式錯誤回覆 PROTOCOL_ERROR，連線保持
func (d *Dispatcher) Handle(m room.Member, frame []byte) {
	if !m.Open() {
		return
	}

	if d.limits.MaxFrameBytes > 0 && int64(len(frame)) > d.limits.MaxFrameBytes {
		d.abuse(m, websocket.CloseMessageTooBig, apperrors.ErrFrameTooLarge, "size", len(frame))
		return
	}

	bucket, ok := d.buckets[m.ID()]
	if !ok {
		d.Connect(m)
		bucket = d.buckets[m.ID()]
	}
	if !bucket.Allow() {
		d.abuse(m, websocket.ClosePolicyViolation, apperrors.ErrRateLimited)
		return
	}

	msg, err := protocol.DecodeClient(frame)
	if err != nil {
		d.logger.Debug("protocol error", "member_id", m.ID(), "error", err)
		d.reply(m, err)
		return
	}

	switch msg := msg.(type) {
	case protocol.Create:
		code, err := d.rooms.Create(m)
		if err != nil {
			d.reply(m, err)
			return
		}
		d.notifier.Send(m, protocol.NewRoomCreated(code, m.Name()))

	case protocol.Join:
		// 格式錯誤在查詢房間前就拒絕
		code := protocol.NormalizeRoomCode(msg.Room)
		if !protocol.ValidRoomCode(code) {
			d.reply(m, apperrors.ErrInvalidFormat)
			return
		}
		if err := d.rooms.Join(code, m); err != nil {
			d.reply(m, err)
		}

	case protocol.PaddleInput:
		if err := d.rooms.Input(m, msg.Up, msg.Down); err != nil {
			d.reply(m, err)
		}
	}
}

func (d *Dispatcher) reply(m room.Member, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		d.logger.Error("dispatch failed", "member_id", m.ID(), "error", err)
	}
	d.notifier.Send(m, protocol.NewError(err))
}

func (d *Dispatcher) abuse(m room.Member, code int, err *apperrors.AppError, attrs ...any) {
	args := append([]any{"member_id", m.ID(), "code", err.Code, "kind", apperrors.KindAbuse}, attrs...)
	d.logger.Warn("closing abusive connection", args...)
	m.Close(code, err.Message)
}
