package client

import (
	"sync"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
)

// DefaultInputInterval 兩次送出 paddle_input 的最短間隔
const DefaultInputInterval = 50 * time.Millisecond

// InputThrottle 去重並限制 paddle_input 的送出頻率
//
// 間隔內被擋下的改變不會遺失：下一次 Update 仍會與最後送出的值比較
type InputThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     game.Input
	lastAt   time.Time
	sent     bool
}

// NewInputThrottle 建立節流器；interval <= 0 時使用 DefaultInputInterval
func NewInputThrottle(interval time.Duration) *InputThrottle {
	if interval <= 0 {
		interval = DefaultInputInterval
	}
	return &InputThrottle{interval: interval}
}

// Update 回報目前的操作；返回 true 表示應該送出
func (t *InputThrottle) Update(in game.Input, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sent && in == t.last {
		return false
	}
	if t.sent && now.Sub(t.lastAt) < t.interval {
		return false
	}
	t.last, t.lastAt, t.sent = in, now, true
	return true
}

// Reset 忘記最後送出的值，下一次 Update 一定送出（重連後使用）
func (t *InputThrottle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = false
}
