package limiter

import (
	"sync"
	"time"
)

// SlidingWindow 實作滑動視窗演算法。
//
// 記錄每個請求的時間戳記，任意 window 長度內最多 limit 次。
type SlidingWindow struct {
	limit    int64
	window   time.Duration
	requests []time.Time
	now      Clock
	mu       sync.Mutex
}

// NewSlidingWindow 建立新的滑動視窗限流器。
func NewSlidingWindow(limit int64, window time.Duration) *SlidingWindow {
	return NewSlidingWindowWithClock(limit, window, time.Now)
}

// NewSlidingWindowWithClock 使用指定時鐘建立滑動視窗
func NewSlidingWindowWithClock(limit int64, window time.Duration, now Clock) *SlidingWindow {
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		requests: make([]time.Time, 0, limit),
		now:      now,
	}
}

// Allow 檢查是否允許請求通過。
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.evict(now)

	if int64(len(sw.requests)) < sw.limit {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// evict 移除視窗外的請求；requests 依時間遞增
func (sw *SlidingWindow) evict(now time.Time) {
	windowStart := now.Add(-sw.window)

	validIdx := len(sw.requests)
	for i, reqTime := range sw.requests {
		if reqTime.After(windowStart) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[validIdx:]...)
	}
}

// Count 返回當前視窗內的請求數（用於監控）。
func (sw *SlidingWindow) Count() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(sw.now())
	return len(sw.requests)
}

// idle 視窗內是否已無請求
func (sw *SlidingWindow) idle(now time.Time) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(now)
	return len(sw.requests) == 0
}

// KeyedWindow 以 key（通常是客戶端 IP）區分的滑動視窗集合
type KeyedWindow struct {
	limit   int64
	window  time.Duration
	now     Clock
	mu      sync.Mutex
	windows map[string]*SlidingWindow
}

// NewKeyedWindow 建立 key 分流的滑動視窗
func NewKeyedWindow(limit int64, window time.Duration, now Clock) *KeyedWindow {
	if now == nil {
		now = time.Now
	}
	return &KeyedWindow{
		limit:   limit,
		window:  window,
		now:     now,
		windows: make(map[string]*SlidingWindow),
	}
}

// Allow 檢查指定 key 是否允許
func (kw *KeyedWindow) Allow(key string) bool {
	kw.mu.Lock()
	sw, ok := kw.windows[key]
	if !ok {
		sw = NewSlidingWindowWithClock(kw.limit, kw.window, kw.now)
		kw.windows[key] = sw
	}
	kw.mu.Unlock()

	return sw.Allow()
}

// Prune 移除已無請求的 key，返回移除數量
func (kw *KeyedWindow) Prune() int {
	kw.mu.Lock()
	defer kw.mu.Unlock()

	now := kw.now()
	removed := 0
	for key, sw := range kw.windows {
		if sw.idle(now) {
			delete(kw.windows, key)
			removed++
		}
	}
	return removed
}

// Len 目前追蹤的 key 數量
func (kw *KeyedWindow) Len() int {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return len(kw.windows)
}
