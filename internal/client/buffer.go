// Package client 實作用戶端同步管線
//
//   - Buffer / Interpolator：以固定延遲在兩個快照之間內插，吸收網路抖動
//   - InputThrottle：只在操作改變時送出，並限制送出頻率
//   - Client：WebSocket 連線與斷線重連
package client

import (
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
)

// DefaultBufferSize 內插緩衝最多保留的快照數
const DefaultBufferSize = 10

// Sample 帶接收時間的快照
type Sample struct {
	Snapshot   game.Snapshot
	ReceivedAt time.Time
}

// Buffer 依接收時間排序的快照視窗，超過容量淘汰最舊的
//
// 不是並發安全的；Interpolator 負責加鎖
type Buffer struct {
	size    int
	samples []Sample
}

// NewBuffer 建立緩衝；size <= 0 時使用 DefaultBufferSize
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{size: size, samples: make([]Sample, 0, size)}
}

// Add 加入快照；時間早於最後一筆的快照視為亂序，直接丟棄
func (b *Buffer) Add(s game.Snapshot, at time.Time) {
	if n := len(b.samples); n > 0 && at.Before(b.samples[n-1].ReceivedAt) {
		return
	}
	if len(b.samples) == b.size {
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:b.size-1]
	}
	b.samples = append(b.samples, Sample{Snapshot: s, ReceivedAt: at})
}

// Len 目前的快照數
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Reset 清空緩衝（重連後使用）
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}

// Sample 取 renderAt 時刻的畫面
//
// 找出夾住 renderAt 的兩筆快照並線性內插球與球拍位置；
// 少於兩筆時返回最新的一筆。後一筆是得分事件時不內插，直接使用後一筆，
// 避免球從場外滑回中線。
func (b *Buffer) Sample(renderAt time.Time) (game.Snapshot, bool) {
	n := len(b.samples)
	if n == 0 {
		return game.Snapshot{}, false
	}
	if n == 1 || !renderAt.Before(b.samples[n-1].ReceivedAt) {
		return b.samples[n-1].Snapshot, true
	}
	if !renderAt.After(b.samples[0].ReceivedAt) {
		return b.samples[0].Snapshot, true
	}

	i := 0
	for i < n-2 && !renderAt.Before(b.samples[i+1].ReceivedAt) {
		i++
	}
	from, to := b.samples[i], b.samples[i+1]
	if to.Snapshot.ScoreEvent {
		return to.Snapshot, true
	}

	span := to.ReceivedAt.Sub(from.ReceivedAt)
	if span <= 0 {
		return to.Snapshot, true
	}
	t := clamp01(float64(renderAt.Sub(from.ReceivedAt)) / float64(span))

	out := to.Snapshot
	out.Ball.X = lerp(from.Snapshot.Ball.X, to.Snapshot.Ball.X, t)
	out.Ball.Y = lerp(from.Snapshot.Ball.Y, to.Snapshot.Ball.Y, t)
	for k := range out.Paddles {
		out.Paddles[k] = lerp(from.Snapshot.Paddles[k], to.Snapshot.Paddles[k], t)
	}
	out.ScoreEvent = false
	return out, true
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
