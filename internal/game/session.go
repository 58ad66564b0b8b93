package game

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Phase 對局階段
type Phase string

const (
	PhaseEmpty     Phase = "empty"     // 房間無人
	PhaseAwaiting  Phase = "awaiting"  // 等待第二位玩家
	PhaseCountdown Phase = "countdown" // 倒數中，物理不動
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused" // 有玩家離開，保留比分
	PhaseFinished  Phase = "finished"
)

// ErrInvalidTransition 非法的階段轉換
var ErrInvalidTransition = errors.New("game: invalid phase transition")

// Ball 球的狀態
type Ball struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Radius float64 `json:"radius"`
}

// Input 一個座位的操作意圖
type Input struct {
	Up   bool
	Down bool
}

// Snapshot 每個 tick 廣播的不可變投影
type Snapshot struct {
	Ball       Ball       `json:"ball"`
	Paddles    [2]float64 `json:"paddles"`
	Scores     [2]int     `json:"scores"`
	ScoreEvent bool       `json:"-"`
}

// Result 對局結束事件
type Result struct {
	Winner int
	Scores [2]int
}

// Session 一個房間的權威對局狀態
type Session struct {
	params     Params
	rng        *rand.Rand
	phase      Phase
	ball       Ball
	paddles    [2]float64
	inputs     [2]Input
	scores     [2]int
	lastTickAt time.Time
	result     *Result
}

// NewSession 建立新對局，從倒數階段開始；rng 為 nil 時使用隨機種子
func NewSession(params Params, rng *rand.Rand) *Session {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	s := &Session{
		params: params,
		rng:    rng,
		phase:  PhaseCountdown,
	}

	center := params.MaxPaddleY() / 2
	s.paddles = [2]float64{center, center}
	s.resetBall()
	return s
}

// Phase 目前階段
func (s *Session) Phase() Phase {
	return s.phase
}

// Params 對局常數
func (s *Session) Params() Params {
	return s.params
}

// Result 已結束時返回結果
func (s *Session) Result() (Result, bool) {
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Start 倒數結束，開始計算物理
func (s *Session) Start(now time.Time) error {
	if s.phase != PhaseCountdown {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.phase)
	}
	s.phase = PhaseRunning
	s.lastTickAt = now
	return nil
}

// Pause 暫停對局並清除輸入
func (s *Session) Pause() error {
	switch s.phase {
	case PhaseRunning, PhaseCountdown:
		s.phase = PhasePaused
		s.inputs = [2]Input{}
		return nil
	case PhasePaused:
		return nil
	default:
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.phase)
	}
}

// Resume 暫停的對局重新進入倒數，比分保留
func (s *Session) Resume() error {
	if s.phase != PhasePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.phase)
	}
	s.phase = PhaseCountdown
	s.resetBall()
	return nil
}

// SetInput 更新座位的操作意圖
func (s *Session) SetInput(seat int, in Input) {
	if seat < 0 || seat > 1 {
		return
	}
	s.inputs[seat] = in
}

// Snapshot 目前狀態的投影
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Ball:    s.ball,
		Paddles: s.paddles,
		Scores:  s.scores,
	}
}

// Step 以實際時間推進一個 tick
//
// Δt = (now - lastTickAt) / TickInterval，上限 MaxDeltaTicks
func (s *Session) Step(now time.Time) (Snapshot, *Result) {
	if s.phase != PhaseRunning {
		return s.Snapshot(), nil
	}

	dt := 1.0
	if s.params.TickInterval > 0 {
		dt = float64(now.Sub(s.lastTickAt)) / float64(s.params.TickInterval)
	}
	dt = math.Max(0, math.Min(dt, s.params.MaxDeltaTicks))
	s.lastTickAt = now

	return s.Advance(dt)
}

// Advance 以固定 Δt（名目 tick 數）推進物理
func (s *Session) Advance(dt float64) (Snapshot, *Result) {
	if s.phase != PhaseRunning {
		return s.Snapshot(), nil
	}

	p := s.params

	// 1. 球拍
	for i := range s.paddles {
		in := s.inputs[i]
		switch {
		case in.Up && !in.Down:
			s.paddles[i] -= p.PaddleSpeed * dt
		case in.Down && !in.Up:
			s.paddles[i] += p.PaddleSpeed * dt
		}
		s.paddles[i] = clamp(s.paddles[i], 0, p.MaxPaddleY())
	}

	// 2. 積分
	prevX := s.ball.X
	s.ball.X += s.ball.DX * dt
	s.ball.Y += s.ball.DY * dt

	// 3. 上下牆
	r := s.ball.Radius
	if s.ball.Y-r < 0 {
		s.ball.Y = r
		s.ball.DY = math.Abs(s.ball.DY)
	} else if s.ball.Y+r > p.CanvasHeight {
		s.ball.Y = p.CanvasHeight - r
		s.ball.DY = -math.Abs(s.ball.DY)
	}

	// 4. 球拍碰撞
	s.collide(prevX)

	// 5. 速度上限
	s.ball.DX = clamp(s.ball.DX, -p.MaxBallSpeed, p.MaxBallSpeed)
	s.ball.DY = clamp(s.ball.DY, -p.MaxBallSpeed, p.MaxBallSpeed)

	// 6. 得分
	scoreEvent := false
	switch {
	case s.ball.X < -r:
		s.scores[1]++
		scoreEvent = true
	case s.ball.X > p.CanvasWidth+r:
		s.scores[0]++
		scoreEvent = true
	}
	if scoreEvent {
		s.resetBall()
	}

	snap := s.Snapshot()
	snap.ScoreEvent = scoreEvent

	// 7. 勝負
	for seat, score := range s.scores {
		if score >= p.WinScore {
			s.phase = PhaseFinished
			s.inputs = [2]Input{}
			s.result = &Result{Winner: seat, Scores: s.scores}
			return snap, s.result
		}
	}

	return snap, nil
}

// collide 以前緣掃掠判斷球拍接觸，避免高速穿透
func (s *Session) collide(prevX float64) {
	p := s.params
	r := s.ball.Radius

	if s.ball.DX < 0 {
		face := p.PaddleWidth
		lead, prevLead := s.ball.X-r, prevX-r
		if lead <= face && (lead >= 0 || prevLead >= face) && s.overlapsPaddle(0) {
			s.ball.X = face + r
			s.ball.DX = math.Abs(s.ball.DX)
			s.deflect(0)
		}
		return
	}

	if s.ball.DX > 0 {
		face := p.CanvasWidth - p.PaddleWidth
		lead, prevLead := s.ball.X+r, prevX+r
		if lead >= face && (lead <= p.CanvasWidth || prevLead <= face) && s.overlapsPaddle(1) {
			s.ball.X = face - r
			s.ball.DX = -math.Abs(s.ball.DX)
			s.deflect(1)
		}
	}
}

func (s *Session) overlapsPaddle(seat int) bool {
	top := s.paddles[seat]
	bottom := top + s.params.PaddleHeight
	return s.ball.Y+s.ball.Radius >= top && s.ball.Y-s.ball.Radius <= bottom
}

// deflect 依擊中位置決定 dy，並加速
func (s *Session) deflect(seat int) {
	p := s.params
	half := p.PaddleHeight / 2
	center := s.paddles[seat] + half
	offset := clamp((s.ball.Y-center)/half, -1, 1)

	s.ball.DY = p.SpinBlend*(offset*p.SpinRange) + (1-p.SpinBlend)*s.ball.DY
	s.ball.DX *= p.SpeedUp
	s.ball.DY *= p.SpeedUp
}

// resetBall 球回到中心，方向與斜率隨機
func (s *Session) resetBall() {
	p := s.params
	dx := p.BallSpeed
	if s.rng.IntN(2) == 0 {
		dx = -dx
	}
	dy := (s.rng.Float64()*2 - 1) * p.BallSpeed * 0.5

	s.ball = Ball{
		X:      p.CanvasWidth / 2,
		Y:      p.CanvasHeight / 2,
		DX:     dx,
		DY:     dy,
		Radius: p.BallRadius,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
