package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-pong/internal/client"
	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func snap(x, y, p0, p1 float64) game.Snapshot {
	return game.Snapshot{
		Ball:    game.Ball{X: x, Y: y, Radius: 8},
		Paddles: [2]float64{p0, p1},
	}
}

func TestBuffer_Sample(t *testing.T) {
	tests := []struct {
		name     string
		samples  []game.Snapshot
		renderAt time.Time
		validate func(t *testing.T, got game.Snapshot, ok bool)
	}{
		{
			name:     "empty",
			renderAt: t0,
			validate: func(t *testing.T, _ game.Snapshot, ok bool) {
				assert.False(t, ok)
			},
		},
		{
			name:     "single sample returned as is",
			samples:  []game.Snapshot{snap(100, 50, 10, 20)},
			renderAt: t0.Add(-time.Second),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.Equal(t, 100.0, got.Ball.X)
			},
		},
		{
			name:     "midpoint",
			samples:  []game.Snapshot{snap(100, 50, 10, 20), snap(200, 150, 30, 40)},
			renderAt: t0.Add(50 * time.Millisecond),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.InDelta(t, 150, got.Ball.X, 1e-9)
				assert.InDelta(t, 100, got.Ball.Y, 1e-9)
				assert.InDelta(t, 20, got.Paddles[0], 1e-9)
				assert.InDelta(t, 30, got.Paddles[1], 1e-9)
			},
		},
		{
			name:     "before oldest clamps to oldest",
			samples:  []game.Snapshot{snap(100, 50, 10, 20), snap(200, 150, 30, 40)},
			renderAt: t0.Add(-time.Hour),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.Equal(t, 100.0, got.Ball.X)
			},
		},
		{
			name:     "after newest clamps to newest",
			samples:  []game.Snapshot{snap(100, 50, 10, 20), snap(200, 150, 30, 40)},
			renderAt: t0.Add(time.Hour),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.Equal(t, 200.0, got.Ball.X)
			},
		},
		{
			name:     "picks bracketing pair",
			samples:  []game.Snapshot{snap(0, 0, 0, 0), snap(100, 0, 0, 0), snap(300, 0, 0, 0)},
			renderAt: t0.Add(125 * time.Millisecond),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.InDelta(t, 150, got.Ball.X, 1e-9)
			},
		},
		{
			name:     "exactly at an interior sample",
			samples:  []game.Snapshot{snap(0, 10, 20, 30), snap(100, 110, 120, 130), snap(300, 310, 320, 330)},
			renderAt: t0.Add(100 * time.Millisecond),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.Equal(t, 100.0, got.Ball.X)
				assert.Equal(t, 110.0, got.Ball.Y)
				assert.Equal(t, [2]float64{120, 130}, got.Paddles)
			},
		},
		{
			name:     "exactly at the newest sample",
			samples:  []game.Snapshot{snap(0, 10, 20, 30), snap(100, 110, 120, 130), snap(300, 310, 320, 330)},
			renderAt: t0.Add(200 * time.Millisecond),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.Equal(t, 300.0, got.Ball.X)
				assert.Equal(t, 310.0, got.Ball.Y)
				assert.Equal(t, [2]float64{320, 330}, got.Paddles)
			},
		},
		{
			name: "no interpolation across a score",
			samples: func() []game.Snapshot {
				scored := snap(400, 250, 200, 200)
				scored.Scores = [2]int{0, 1}
				scored.ScoreEvent = true
				return []game.Snapshot{snap(-10, 100, 200, 200), scored}
			}(),
			renderAt: t0.Add(50 * time.Millisecond),
			validate: func(t *testing.T, got game.Snapshot, ok bool) {
				require.True(t, ok)
				assert.Equal(t, 400.0, got.Ball.X)
				assert.Equal(t, [2]int{0, 1}, got.Scores)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := client.NewBuffer(10)
			for i, s := range tt.samples {
				b.Add(s, t0.Add(time.Duration(i)*100*time.Millisecond))
			}
			got, ok := b.Sample(tt.renderAt)
			tt.validate(t, got, ok)
		})
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := client.NewBuffer(3)
	for i := range 5 {
		b.Add(snap(float64(i), 0, 0, 0), t0.Add(time.Duration(i)*time.Millisecond))
	}

	assert.Equal(t, 3, b.Len())
	first, ok := b.Sample(t0)
	require.True(t, ok)
	assert.Equal(t, 2.0, first.Ball.X)
}

func TestBuffer_DropsOutOfOrder(t *testing.T) {
	b := client.NewBuffer(10)
	b.Add(snap(1, 0, 0, 0), t0.Add(time.Second))
	b.Add(snap(2, 0, 0, 0), t0)

	assert.Equal(t, 1, b.Len())
}

func TestInterpolator_RendersBehindNow(t *testing.T) {
	ip := client.NewInterpolator(10, 100*time.Millisecond)
	ip.Push(snap(0, 0, 0, 0), t0)
	ip.Push(snap(100, 0, 0, 0), t0.Add(100*time.Millisecond))

	// now = t0+150ms → render at t0+50ms
	got, ok := ip.Frame(t0.Add(150 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 50, got.Ball.X, 1e-9)

	ip.Reset()
	_, ok = ip.Frame(t0)
	assert.False(t, ok)
}

func TestInputThrottle(t *testing.T) {
	up := game.Input{Up: true}
	down := game.Input{Down: true}
	idle := game.Input{}

	tests := []struct {
		name  string
		steps []struct {
			in   game.Input
			at   time.Duration
			want bool
		}
	}{
		{
			name: "first update always sent",
			steps: []struct {
				in   game.Input
				at   time.Duration
				want bool
			}{
				{idle, 0, true},
			},
		},
		{
			name: "unchanged input not resent",
			steps: []struct {
				in   game.Input
				at   time.Duration
				want bool
			}{
				{up, 0, true},
				{up, 100 * time.Millisecond, false},
				{up, time.Second, false},
			},
		},
		{
			name: "change within interval held until interval passes",
			steps: []struct {
				in   game.Input
				at   time.Duration
				want bool
			}{
				{up, 0, true},
				{down, 20 * time.Millisecond, false},
				{down, 49 * time.Millisecond, false},
				{down, 50 * time.Millisecond, true},
			},
		},
		{
			name: "flip back before interval sends nothing",
			steps: []struct {
				in   game.Input
				at   time.Duration
				want bool
			}{
				{up, 0, true},
				{down, 10 * time.Millisecond, false},
				{up, 60 * time.Millisecond, false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := client.NewInputThrottle(50 * time.Millisecond)
			for i, s := range tt.steps {
				assert.Equal(t, s.want, th.Update(s.in, t0.Add(s.at)), "step %d", i)
			}
		})
	}
}

func TestInputThrottle_Reset(t *testing.T) {
	th := client.NewInputThrottle(50 * time.Millisecond)
	require.True(t, th.Update(game.Input{Up: true}, t0))

	th.Reset()

	assert.True(t, th.Update(game.Input{Up: true}, t0.Add(time.Millisecond)))
}
