package room

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
	apperrors "github.com/koopa0/system-design/14-realtime-pong/pkg/errors"
)

// Scheduler 提供倒數與 tick 計時器
type Scheduler interface {
	Every(d time.Duration, fn func(now time.Time)) scheduler.Timer
	After(d time.Duration, fn func()) scheduler.Timer
}

// Notifier 把訊息送給房間成員
type Notifier interface {
	Broadcast(members []Member, msg any)
	Send(m Member, msg any)
}

// Observer 接收房間與對局的生命週期事件
type Observer interface {
	RoomCreated(roomID string, at time.Time)
	GameStarted(roomID string, players [2]string, at time.Time)
	GameEnded(roomID string, players [2]string, result game.Result, startedAt, endedAt time.Time)
}

// Options 房間設定
type Options struct {
	Params        game.Params
	Countdown     time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	CodeAttempts  int
}

// DefaultOptions 預設房間設定
func DefaultOptions() Options {
	return Options{
		Params:        game.DefaultParams(),
		Countdown:     3 * time.Second,
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		CodeAttempts:  16,
	}
}

// Stats 房間統計
type Stats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
	Running int `json:"running"`
	Paused  int `json:"paused"`
}

type seatRef struct {
	roomID string
	seat   int
}

// Registry 房間集合
type Registry struct {
	rooms    map[string]*Room   // roomID -> Room
	seats    map[string]seatRef // memberID -> 所在房間與座位
	sched    Scheduler
	notifier Notifier
	observer Observer
	opts     Options
	codes    CodeGenerator
	newRand  func() *rand.Rand
	now      func() time.Time
	logger   *slog.Logger
	sweeper  scheduler.Timer
}

// Option 選項
type Option func(*Registry)

// WithObserver 設定生命週期觀察者
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithCodeGenerator 替換房間碼產生器
func WithCodeGenerator(g CodeGenerator) Option {
	return func(r *Registry) { r.codes = g }
}

// WithClock 替換時鐘
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRand 替換對局使用的亂數來源
func WithRand(newRand func() *rand.Rand) Option {
	return func(r *Registry) { r.newRand = newRand }
}

// NewRegistry 建立房間集合
func NewRegistry(opts Options, sched Scheduler, notifier Notifier, logger *slog.Logger, options ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*Room),
		seats:    make(map[string]seatRef),
		sched:    sched,
		notifier: notifier,
		observer: nopObserver{},
		opts:     opts,
		codes:    GenerateCode,
		newRand:  func() *rand.Rand { return nil },
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range options {
		o(r)
	}
	if r.opts.CodeAttempts <= 0 {
		r.opts.CodeAttempts = 1
	}
	return r
}

// StartSweeper 啟動閒置房間清理
func (r *Registry) StartSweeper() {
	if r.sweeper != nil {
		return
	}
	r.sweeper = r.sched.Every(r.opts.SweepInterval, func(time.Time) {
		r.Sweep(r.now())
	})
}

// Create 建立房間，建立者坐 0 號位
func (r *Registry) Create(m Member) (string, error) {
	if _, seated := r.seats[m.ID()]; seated {
		return "", apperrors.ErrAlreadyInRoom
	}

	code, err := r.uniqueCode()
	if err != nil {
		return "", err
	}

	now := r.now()
	rm := &Room{
		ID:           code,
		CreatedAt:    now,
		LastActivity: now,
	}
	rm.members[0] = m
	r.rooms[code] = rm
	r.seats[m.ID()] = seatRef{roomID: code, seat: 0}

	r.logger.Info("房間已創建", "room_id", code, "member_id", m.ID(), "name", m.Name())
	r.observer.RoomCreated(code, now)
	return code, nil
}

// uniqueCode 產生不與現存房間重複的房間碼
func (r *Registry) uniqueCode() (string, error) {
	for attempt := 0; attempt < r.opts.CodeAttempts; attempt++ {
		code, err := r.codes()
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate room code")
		}
		if _, exists := r.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", apperrors.ErrInternal.WithDetails(
		fmt.Sprintf("no free room code after %d attempts", r.opts.CodeAttempts))
}

// Join 加入房間
//
// 錯誤依序為 INVALID_FORMAT、ALREADY_IN_ROOM、NOT_FOUND、ROOM_FULL；失敗時成員不變
func (r *Registry) Join(code string, m Member) error {
	code = protocol.NormalizeRoomCode(code)
	if !protocol.ValidRoomCode(code) {
		return apperrors.ErrInvalidFormat
	}
	if _, seated := r.seats[m.ID()]; seated {
		return apperrors.ErrAlreadyInRoom
	}

	rm, ok := r.rooms[code]
	if !ok {
		return apperrors.ErrNotFound
	}

	seat := rm.freeSeat()
	if seat < 0 {
		return apperrors.ErrRoomFull
	}

	rm.members[seat] = m
	rm.LastActivity = r.now()
	r.seats[m.ID()] = seatRef{roomID: code, seat: seat}

	r.logger.Info("玩家加入房間", "room_id", code, "member_id", m.ID(), "seat", seat)
	r.notifier.Broadcast(rm.Members(), protocol.NewPlayerJoined(rm.names()))

	if rm.Count() == 2 {
		r.startMatch(rm)
	}
	return nil
}

// startMatch 兩人到齊：建立或恢復對局並開始倒數
func (r *Registry) startMatch(rm *Room) {
	switch {
	case rm.session != nil && rm.session.Phase() == game.PhasePaused:
		if err := rm.session.Resume(); err != nil {
			r.logger.Error("恢復對局失敗", "room_id", rm.ID, "error", err)
			return
		}
		r.logger.Info("對局恢復", "room_id", rm.ID, "scores", rm.session.Snapshot().Scores)
	default:
		rm.session = game.NewSession(r.opts.Params, r.newRand())
		rm.startedAt = time.Time{}
	}

	r.notifier.Broadcast(rm.Members(), protocol.NewStartGame())

	roomID := rm.ID
	session := rm.session
	rm.countdown = r.sched.After(r.opts.Countdown, func() {
		r.beginPlay(roomID, session)
	})
}

// beginPlay 倒數結束，開始 tick
func (r *Registry) beginPlay(roomID string, session *game.Session) {
	rm, ok := r.rooms[roomID]
	if !ok || rm.session != session || session.Phase() != game.PhaseCountdown {
		return
	}
	rm.countdown = nil

	now := r.now()
	if err := session.Start(now); err != nil {
		r.logger.Error("對局開始失敗", "room_id", roomID, "error", err)
		return
	}

	if rm.startedAt.IsZero() {
		rm.startedAt = now
		r.observer.GameStarted(roomID, rm.seatNames(), now)
	}

	rm.ticker = r.sched.Every(r.opts.Params.TickInterval, func(time.Time) {
		r.tick(roomID)
	})
	r.logger.Info("對局開始", "room_id", roomID)
}

// tick 推進一步並廣播；panic 時房間改為暫停
func (r *Registry) tick(roomID string) {
	rm, ok := r.rooms[roomID]
	if !ok || rm.session == nil {
		return
	}

	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("tick panic",
				"room_id", roomID,
				"error", err,
				"kind", apperrors.KindInternal,
				"stack", string(debug.Stack()),
			)
			rm.stopTimers()
			if rm.session != nil {
				_ = rm.session.Pause()
			}
			r.notifier.Broadcast(rm.Members(), protocol.NewError(apperrors.ErrInternal))
		}
	}()

	if rm.session.Phase() != game.PhaseRunning {
		return
	}

	snap, result := rm.session.Step(r.now())
	r.notifier.Broadcast(rm.Members(), protocol.NewGameUpdate(snap))

	if result != nil {
		rm.stopTimers()
		r.notifier.Broadcast(rm.Members(), protocol.NewGameEnd(*result))

		endedAt := r.now()
		r.logger.Info("對局結束", "room_id", roomID, "winner", result.Winner, "scores", result.Scores)
		r.observer.GameEnded(roomID, rm.seatNames(), *result, rm.startedAt, endedAt)

		// 對局結束即釋放座位，連線可以直接建立或加入下一間房
		r.teardown(rm)
	}
}

// Remove 成員離開；空房間直接銷毀，剩一人時對局暫停
func (r *Registry) Remove(m Member) {
	ref, ok := r.seats[m.ID()]
	if !ok {
		return
	}
	delete(r.seats, m.ID())

	rm, ok := r.rooms[ref.roomID]
	if !ok {
		return
	}
	rm.members[ref.seat] = nil

	r.logger.Info("玩家離開房間", "room_id", rm.ID, "member_id", m.ID(), "seat", ref.seat)

	if rm.Count() == 0 {
		r.teardown(rm)
		return
	}

	rm.stopTimers()
	rm.LastActivity = r.now()
	if rm.session != nil && rm.session.Phase() != game.PhaseFinished {
		_ = rm.session.Pause()
	}
	r.notifier.Broadcast(rm.Members(), protocol.NewPlayerLeft("Your opponent left the game"))
}

// Input 更新座位的操作意圖
func (r *Registry) Input(m Member, up, down bool) error {
	ref, ok := r.seats[m.ID()]
	if !ok {
		return apperrors.ErrNotInRoom
	}
	rm, ok := r.rooms[ref.roomID]
	if !ok {
		return apperrors.ErrNotInRoom
	}

	rm.LastActivity = r.now()
	if rm.session != nil {
		rm.session.SetInput(ref.seat, game.Input{Up: up, Down: down})
	}
	return nil
}

// Sweep 清理閒置超過 IdleTimeout 的房間，返回清理數
func (r *Registry) Sweep(now time.Time) int {
	removed := 0
	for _, rm := range r.rooms {
		if now.Sub(rm.LastActivity) <= r.opts.IdleTimeout {
			continue
		}
		r.notifier.Broadcast(rm.Members(), protocol.NewRoomClosed("Room closed due to inactivity"))
		r.teardown(rm)
		removed++
		r.logger.Info("房間已過期清理", "room_id", rm.ID)
	}
	return removed
}

// Shutdown 取消所有計時器，通知成員並清空房間
func (r *Registry) Shutdown() {
	if r.sweeper != nil {
		r.sweeper.Cancel()
		r.sweeper = nil
	}
	for _, rm := range r.rooms {
		r.notifier.Broadcast(rm.Members(), protocol.NewRoomClosed("Server is shutting down"))
		r.teardown(rm)
	}
	r.logger.Info("房間管理器已停止")
}

// teardown 銷毀房間（內部使用）
func (r *Registry) teardown(rm *Room) {
	rm.stopTimers()
	for i, m := range rm.members {
		if m != nil {
			delete(r.seats, m.ID())
			rm.members[i] = nil
		}
	}
	rm.session = nil
	delete(r.rooms, rm.ID)
	r.logger.Info("房間已移除", "room_id", rm.ID)
}

// Get 依房間碼查詢
func (r *Registry) Get(code string) (*Room, bool) {
	rm, ok := r.rooms[protocol.NormalizeRoomCode(code)]
	return rm, ok
}

// Seated 成員是否已在房間中
func (r *Registry) Seated(m Member) bool {
	_, ok := r.seats[m.ID()]
	return ok
}

// Stats 獲取統計資訊
func (r *Registry) Stats() Stats {
	s := Stats{Rooms: len(r.rooms), Players: len(r.seats)}
	for _, rm := range r.rooms {
		switch rm.Phase() {
		case game.PhaseRunning:
			s.Running++
		case game.PhasePaused:
			s.Paused++
		}
	}
	return s
}

type nopObserver struct{}

func (nopObserver) RoomCreated(string, time.Time) {}
func (nopObserver) GameStarted(string, [2]string, time.Time) {}
func (nopObserver) GameEnded(string, [2]string, game.Result, time.Time, time.Time) {}
