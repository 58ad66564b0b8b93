// Package scheduler 提供單一事件迴圈與可取消的計時器。
//
// 所有房間狀態轉換、tick 與訊息處理都以閉包形式投遞到同一個 Loop，
// 由單一 goroutine 依序執行完畢，因此房間與對局狀態不需要加鎖。
// 計時器只負責「在正確的時間投遞」，實際回呼永遠在 Loop 上執行。
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrStopped 迴圈已停止
var ErrStopped = errors.New("scheduler: loop stopped")

// Loop 單一 goroutine 事件迴圈
type Loop struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewLoop 建立事件迴圈；buffer 為投遞佇列長度
func NewLoop(buffer int, logger *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run 執行迴圈直到 ctx 取消或 Stop
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// exec 執行單一任務；panic 只記錄，不中止迴圈
func (l *Loop) exec(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			l.logger.Error("loop task panic",
				"error", err,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// Post 投遞任務；佇列滿時等待，迴圈停止後返回 false
//
// 不可在迴圈 goroutine 內呼叫
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	case <-l.done:
		return false
	}
}

// Do 投遞任務並等待執行完成
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// 任務可能已在停止前執行
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop 停止迴圈，尚未執行的任務會被丟棄
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

// Done 迴圈結束時關閉
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
