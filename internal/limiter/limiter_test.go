package limiter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/limiter"
	"github.com/stretchr/testify/assert"
)

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	tb := limiter.NewTokenBucketWithClock(30, 30, clock.Now)

	for i := 0; i < 30; i++ {
		assert.True(t, tb.Allow(), "message %d within burst", i)
	}
	assert.False(t, tb.Allow(), "31st message in the same instant")

	// 100ms 補 3 枚
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, int64(3), tb.Tokens())
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow())
	}
	assert.False(t, tb.Allow())
}

func TestTokenBucket_KeepsFractionalRefill(t *testing.T) {
	clock := newFakeClock()
	tb := limiter.NewTokenBucketWithClock(1, 10, clock.Now)

	assert.True(t, tb.Allow())

	// 兩次 60ms 合計 120ms，應補滿一枚
	clock.Advance(60 * time.Millisecond)
	assert.False(t, tb.Allow())
	clock.Advance(60 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	tb := limiter.NewTokenBucketWithClock(5, 100, clock.Now)

	clock.Advance(time.Hour)
	assert.Equal(t, int64(5), tb.Tokens())
}

func TestSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	sw := limiter.NewSlidingWindowWithClock(5, time.Minute, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, sw.Allow())
		clock.Advance(time.Second)
	}
	assert.False(t, sw.Allow())
	assert.Equal(t, 5, sw.Count())

	// 第一筆滑出視窗
	clock.Advance(56 * time.Second)
	assert.True(t, sw.Allow())

	// 全部滑出視窗
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, sw.Count())
}

func TestKeyedWindow_SeparatesKeys(t *testing.T) {
	clock := newFakeClock()
	kw := limiter.NewKeyedWindow(2, time.Minute, clock.Now)

	assert.True(t, kw.Allow("10.0.0.1"))
	assert.True(t, kw.Allow("10.0.0.1"))
	assert.False(t, kw.Allow("10.0.0.1"))
	assert.True(t, kw.Allow("10.0.0.2"))
	assert.Equal(t, 2, kw.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, kw.Prune())
	assert.Equal(t, 0, kw.Len())
	assert.True(t, kw.Allow("10.0.0.1"))
}

func TestTokenBucket_Concurrent(t *testing.T) {
	tb := limiter.NewTokenBucket(100, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if tb.Allow() {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 500 次請求，容量 100，測試期間最多再補幾枚
	assert.GreaterOrEqual(t, allowed, 100)
	assert.LessOrEqual(t, allowed, 105)
}

func BenchmarkTokenBucket_Allow(b *testing.B) {
	tb := limiter.NewTokenBucket(int64(b.N)+1, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tb.Allow()
	}
}
