// Package game 實作伺服器權威的 Pong 物理與對局狀態機。
//
// 速度單位為「每個名目 tick 的像素」，Step 依實際經過時間換算成 tick 數 Δt，
// 因此排程抖動不會改變球速，只會改變單步距離（並以 MaxDeltaTicks 封頂）。
// Session 不做任何同步，呼叫端必須保證單一 goroutine 存取。
package game

import "time"

// Params 對局常數
type Params struct {
	CanvasWidth  float64
	CanvasHeight float64
	PaddleWidth  float64
	PaddleHeight float64
	PaddleSpeed  float64
	BallRadius   float64
	BallSpeed    float64
	MaxBallSpeed float64
	// SpeedUp 每次擊球的速度倍率，必須 > 1
	SpeedUp float64
	// SpinRange 擊中球拍邊緣時 dy 的最大值
	SpinRange float64
	// SpinBlend 新 dy 中擊球位置所佔的比例，其餘沿用原 dy
	SpinBlend     float64
	WinScore      int
	MaxDeltaTicks float64
	TickInterval  time.Duration
}

// DefaultParams 返回預設參數（800x500 畫布、60 Hz）
func DefaultParams() Params {
	return Params{
		CanvasWidth:   800,
		CanvasHeight:  500,
		PaddleWidth:   10,
		PaddleHeight:  100,
		PaddleSpeed:   6,
		BallRadius:    8,
		BallSpeed:     5,
		MaxBallSpeed:  15,
		SpeedUp:       1.05,
		SpinRange:     6,
		SpinBlend:     0.75,
		WinScore:      5,
		MaxDeltaTicks: 3,
		TickInterval:  time.Second / 60,
	}
}

// MaxPaddleY 球拍 y 的上限
func (p Params) MaxPaddleY() float64 {
	return p.CanvasHeight - p.PaddleHeight
}
