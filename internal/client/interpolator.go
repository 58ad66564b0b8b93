package client

import (
	"sync"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
)

// DefaultInterpolationDelay 渲染時間落後接收時間的固定延遲
const DefaultInterpolationDelay = 100 * time.Millisecond

// Interpolator 並發安全的內插器：網路 goroutine 寫入，渲染 goroutine 讀取
type Interpolator struct {
	mu    sync.Mutex
	buf   *Buffer
	delay time.Duration
}

// NewInterpolator 建立內插器；delay <= 0 時使用 DefaultInterpolationDelay
func NewInterpolator(size int, delay time.Duration) *Interpolator {
	if delay <= 0 {
		delay = DefaultInterpolationDelay
	}
	return &Interpolator{buf: NewBuffer(size), delay: delay}
}

// Push 記錄收到的快照
func (ip *Interpolator) Push(s game.Snapshot, at time.Time) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.buf.Add(s, at)
}

// Frame 取 now - delay 時刻的畫面
func (ip *Interpolator) Frame(now time.Time) (game.Snapshot, bool) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.buf.Sample(now.Add(-ip.delay))
}

// Reset 清空緩衝
func (ip *Interpolator) Reset() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.buf.Reset()
}
