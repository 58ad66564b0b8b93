package matchlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
)

// 單次寫入的逾時
const writeTimeout = 3 * time.Second

type job struct {
	event Event
	match *Match
}

// Recorder 非同步的 room.Observer
type Recorder struct {
	store     Store
	publisher Publisher
	queue     chan job
	logger    *slog.Logger

	mu      sync.RWMutex // 保護 closed 與關閉 queue
	closed  bool
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewRecorder 建立 Recorder 並啟動背景 worker；queueSize <= 0 時使用 256
func NewRecorder(store Store, publisher Publisher, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	r := &Recorder{
		store:     store,
		publisher: publisher,
		queue:     make(chan job, queueSize),
		logger:    logger,
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// RoomCreated 實作 room.Observer
func (r *Recorder) RoomCreated(roomID string, at time.Time) {
	r.enqueue(job{event: Event{Kind: KindRoomCreated, RoomID: roomID, At: at}})
}

// GameStarted 實作 room.Observer
func (r *Recorder) GameStarted(roomID string, players [2]string, at time.Time) {
	r.enqueue(job{event: Event{Kind: KindGameStarted, RoomID: roomID, Players: players, At: at}})
}

// GameEnded 實作 room.Observer
func (r *Recorder) GameEnded(roomID string, players [2]string, result game.Result, startedAt, endedAt time.Time) {
	m := NewMatch(roomID, players, result, startedAt, endedAt)
	winner, scores := result.Winner, result.Scores
	r.enqueue(job{
		event: Event{Kind: KindGameEnded, RoomID: roomID, Players: players, Winner: &winner, Scores: &scores, At: endedAt},
		match: &m,
	})
}

// Dropped 因佇列已滿而丟棄的事件數
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// enqueue 非阻塞入列
func (r *Recorder) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- j:
	default:
		r.dropped.Add(1)
		r.logger.Warn("match log queue full, dropping event", "kind", j.event.Kind, "room_id", j.event.RoomID)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for j := range r.queue {
		r.process(j)
	}
}

func (r *Recorder) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if j.match != nil && r.store != nil {
		if err := r.store.Save(ctx, *j.match); err != nil {
			r.logger.Error("save match failed", "room_id", j.match.RoomID, "error", err)
		}
	}
	if err := r.publisher.Publish(ctx, j.event); err != nil {
		r.logger.Warn("publish event failed", "kind", j.event.Kind, "room_id", j.event.RoomID, "error", err)
	}
}

// Close 停止接收事件，等待佇列清空後關閉儲存與發布端
//
// ctx 到期時不再等待，直接返回 ctx.Err()
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := r.publisher.Close()
	if r.store != nil {
		err = errors.Join(err, r.store.Close())
	}
	return err
}
