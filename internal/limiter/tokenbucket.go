// Package limiter 實作連線層的限流演算法。
//
//   - Token Bucket: 每條連線的訊息速率，容忍短暫突發
//   - Sliding Window: 每個 IP 的 WebSocket 升級次數，精確計數
//
// 兩者都可注入時鐘，測試不需要 sleep。
package limiter

import (
	"sync"
	"time"
)

// Clock 返回目前時間
type Clock func() time.Time

// TokenBucket 實作令牌桶演算法。
//
// 桶以固定速率填充，每則訊息取出一個令牌；無令牌即超限。
type TokenBucket struct {
	capacity   int64     // 桶容量（最多存放多少令牌）
	tokens     int64     // 當前令牌數
	refillRate int64     // 填充速率（每秒填充多少令牌）
	lastRefill time.Time // 上次填充時間
	now        Clock
	mu         sync.Mutex
}

// NewTokenBucket 建立新的令牌桶限流器，初始化時桶是滿的。
//
//	limiter := NewTokenBucket(30, 30)  // 每秒 30 則，可突發 30 則
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return NewTokenBucketWithClock(capacity, refillRate, time.Now)
}

// NewTokenBucketWithClock 使用指定時鐘建立令牌桶
func NewTokenBucketWithClock(capacity, refillRate int64, now Clock) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow 檢查是否允許請求通過。
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// refill 依經過時間補充令牌；只推進已換成令牌的時間，不足一枚的餘數保留到下次
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 || tb.refillRate <= 0 {
		return
	}

	tokensToAdd := int64(elapsed.Seconds() * float64(tb.refillRate))
	if tokensToAdd <= 0 {
		return
	}

	if tb.tokens+tokensToAdd >= tb.capacity {
		tb.tokens = tb.capacity
		tb.lastRefill = now
		return
	}

	tb.tokens += tokensToAdd
	tb.lastRefill = tb.lastRefill.Add(time.Duration(tokensToAdd) * time.Second / time.Duration(tb.refillRate))
}

// Tokens 返回當前令牌數（用於監控）。
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}
