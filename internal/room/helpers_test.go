package room_test

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
	"github.com/koopa0/system-design/14-realtime-pong/internal/room"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeTimer 手動觸發的計時器
type fakeTimer struct {
	interval  time.Duration
	every     func(time.Time)
	after     func()
	cancelled bool
	fired     bool
}

func (t *fakeTimer) Cancel() { t.cancelled = true }

// fakeScheduler 記錄計時器，由測試決定何時觸發
type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) Every(d time.Duration, fn func(time.Time)) scheduler.Timer {
	t := &fakeTimer{interval: d, every: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) After(d time.Duration, fn func()) scheduler.Timer {
	t := &fakeTimer{interval: d, after: fn}
	s.timers = append(s.timers, t)
	return t
}

// fireAfter 觸發所有尚未觸發且未取消的一次性計時器
func (s *fakeScheduler) fireAfter() int {
	pending := append([]*fakeTimer(nil), s.timers...)
	n := 0
	for _, t := range pending {
		if t.after != nil && !t.cancelled && !t.fired {
			t.fired = true
			t.after()
			n++
		}
	}
	return n
}

// fireEvery 觸發指定間隔的週期計時器一次
func (s *fakeScheduler) fireEvery(d time.Duration, now time.Time) int {
	pending := append([]*fakeTimer(nil), s.timers...)
	n := 0
	for _, t := range pending {
		if t.every != nil && !t.cancelled && t.interval == d {
			t.every(now)
			n++
		}
	}
	return n
}

// active 未取消的計時器數（every 為 true 時只算週期計時器）
func (s *fakeScheduler) active(every bool) int {
	n := 0
	for _, t := range s.timers {
		if t.cancelled {
			continue
		}
		if every && t.every != nil {
			n++
		}
		if !every && t.after != nil && !t.fired {
			n++
		}
	}
	return n
}

// fakeMember 測試用連線
type fakeMember struct {
	id   string
	name string
	open bool
}

func newMember(id string) *fakeMember {
	return &fakeMember{id: id, name: "Guest-" + id, open: true}
}

func (m *fakeMember) ID() string        { return m.id }
func (m *fakeMember) Name() string      { return m.name }
func (m *fakeMember) Open() bool        { return m.open }
func (m *fakeMember) Send([]byte) error { return nil }
func (m *fakeMember) Close(int, string) { m.open = false }

// recordingNotifier 依成員記錄收到的訊息
type recordingNotifier struct {
	mu          sync.Mutex
	msgs        map[string][]any
	panicOnTick bool
}

func newNotifier() *recordingNotifier {
	return &recordingNotifier{msgs: make(map[string][]any)}
}

func (n *recordingNotifier) Broadcast(members []room.Member, msg any) {
	for _, m := range members {
		n.Send(m, msg)
	}
}

func (n *recordingNotifier) Send(m room.Member, msg any) {
	if _, ok := msg.(protocol.GameUpdate); ok && n.panicOnTick {
		panic("broadcast exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs[m.ID()] = append(n.msgs[m.ID()], msg)
}

// types 成員收到的訊息類型，依順序
func (n *recordingNotifier) types(id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs[id]))
	for _, msg := range n.msgs[id] {
		out = append(out, msg.(protocol.ServerMessage).MessageType())
	}
	return out
}

// last 成員最後一則指定類型的訊息
func (n *recordingNotifier) last(id, typ string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	msgs := n.msgs[id]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].(protocol.ServerMessage).MessageType() == typ {
			return msgs[i], true
		}
	}
	return nil, false
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = make(map[string][]any)
}

// recordingObserver 記錄生命週期事件
type recordingObserver struct {
	created []string
	started []string
	ended   []game.Result
}

func (o *recordingObserver) RoomCreated(roomID string, _ time.Time) {
	o.created = append(o.created, roomID)
}

func (o *recordingObserver) GameStarted(roomID string, _ [2]string, _ time.Time) {
	o.started = append(o.started, roomID)
}

func (o *recordingObserver) GameEnded(_ string, _ [2]string, r game.Result, _, _ time.Time) {
	o.ended = append(o.ended, r)
}

// fixture 組好的 Registry 與假依賴
type fixture struct {
	reg      *room.Registry
	sched    *fakeScheduler
	notifier *recordingNotifier
	observer *recordingObserver
	clock    *fakeClock
	opts     room.Options
}

func newFixture(opts room.Options, extra ...room.Option) *fixture {
	f := &fixture{
		sched:    &fakeScheduler{},
		notifier: newNotifier(),
		observer: &recordingObserver{},
		clock:    newFakeClock(),
		opts:     opts,
	}
	options := append([]room.Option{
		room.WithClock(f.clock.Now),
		room.WithObserver(f.observer),
	}, extra...)
	f.reg = room.NewRegistry(opts, f.sched, f.notifier, testLogger(), options...)
	return f
}

// tick 推進時鐘一個名目 tick 並觸發 tick 計時器
func (f *fixture) tick() int {
	f.clock.Advance(f.opts.Params.TickInterval)
	return f.sched.fireEvery(f.opts.Params.TickInterval, f.clock.Now())
}
