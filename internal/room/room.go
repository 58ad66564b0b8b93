// Package room 管理房間的生命週期：建立、加入、離開、閒置清理。
//
// Registry 是房間集合的唯一擁有者，所有方法都必須在同一個事件迴圈上呼叫，
// 因此內部沒有任何鎖。
package room

import (
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
)

// Member 房間成員（一條連線）
type Member interface {
	ID() string
	// Name 伺服器產生的訪客名稱
	Name() string
	Open() bool
	Send(data []byte) error
	Close(code int, reason string)
}

// Room 房間，最多兩個座位
type Room struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time

	members   [2]Member // 依座位索引：0 左拍（建立者）、1 右拍
	session   *game.Session
	startedAt time.Time
	countdown scheduler.Timer
	ticker    scheduler.Timer
}

// Members 依座位順序返回目前成員
func (r *Room) Members() []Member {
	out := make([]Member, 0, 2)
	for _, m := range r.members {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Count 成員數
func (r *Room) Count() int {
	n := 0
	for _, m := range r.members {
		if m != nil {
			n++
		}
	}
	return n
}

// Phase 房間所處的對局階段
func (r *Room) Phase() game.Phase {
	switch {
	case r.Count() == 0:
		return game.PhaseEmpty
	case r.session == nil:
		return game.PhaseAwaiting
	default:
		return r.session.Phase()
	}
}

// Session 目前對局，可能為 nil
func (r *Room) Session() *game.Session {
	return r.session
}

// freeSeat 第一個空座位，沒有時返回 -1
func (r *Room) freeSeat() int {
	for i, m := range r.members {
		if m == nil {
			return i
		}
	}
	return -1
}

// names 依座位順序的玩家名稱
func (r *Room) names() []string {
	out := make([]string, 0, 2)
	for _, m := range r.members {
		if m != nil {
			out = append(out, m.Name())
		}
	}
	return out
}

// seatNames 以座位索引排列的名稱，空座位為空字串
func (r *Room) seatNames() [2]string {
	var out [2]string
	for i, m := range r.members {
		if m != nil {
			out[i] = m.Name()
		}
	}
	return out
}

// stopTimers 取消倒數與 tick 計時器
func (r *Room) stopTimers() {
	if r.countdown != nil {
		r.countdown.Cancel()
		r.countdown = nil
	}
	if r.ticker != nil {
		r.ticker.Cancel()
		r.ticker = nil
	}
}
