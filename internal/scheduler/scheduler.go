package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer 可取消的計時器句柄
//
// Cancel 在迴圈上呼叫後，保證對應回呼不會再執行
type Timer interface {
	Cancel()
}

// Scheduler 把計時事件投遞到 Loop
type Scheduler struct {
	loop *Loop
}

// New 建立排程器
func New(loop *Loop) *Scheduler {
	return &Scheduler{loop: loop}
}

// Loop 返回底層事件迴圈
func (s *Scheduler) Loop() *Loop {
	return s.loop
}

// handle Timer 的實作
type handle struct {
	cancelled atomic.Bool
	stop      chan struct{}
	once      sync.Once
	timer     *time.Timer
}

func newHandle() *handle {
	return &handle{stop: make(chan struct{})}
}

// Cancel 取消計時器，可重複呼叫
func (h *handle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		close(h.stop)
		if h.timer != nil {
			h.timer.Stop()
		}
	})
}

func (h *handle) active() bool {
	return !h.cancelled.Load()
}

// Every 每隔 d 在迴圈上執行 fn，傳入觸發時間
func (s *Scheduler) Every(d time.Duration, fn func(now time.Time)) Timer {
	h := newHandle()

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-s.loop.Done():
				return
			case at := <-ticker.C:
				ok := s.loop.Post(func() {
					if h.active() {
						fn(at)
					}
				})
				if !ok {
					return
				}
			}
		}
	}()

	return h
}

// After 在 d 之後於迴圈上執行一次 fn
func (s *Scheduler) After(d time.Duration, fn func()) Timer {
	h := newHandle()
	h.timer = time.AfterFunc(d, func() {
		if !h.active() {
			return
		}
		s.loop.Post(func() {
			if h.active() {
				fn()
			}
		})
	})
	return h
}
