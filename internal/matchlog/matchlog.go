// Package matchlog 非同步記錄對局生命週期
//
// Recorder 實作 room.Observer，在事件迴圈上只做非阻塞入列；
// 背景 worker 負責寫入歷史儲存並發布事件。佇列滿時丟棄並記錄警告，
// 對局的 tick 永遠不會因為 Redis 或 NATS 變慢而延遲。
package matchlog

import (
	"context"
	"errors"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
)

// 事件類型
const (
	KindRoomCreated = "room_created"
	KindGameStarted = "game_started"
	KindGameEnded   = "game_ended"
)

// ErrClosed Recorder 已關閉
var ErrClosed = errors.New("matchlog: recorder closed")

// Event 生命週期事件
type Event struct {
	Kind    string    `json:"kind"`
	RoomID  string    `json:"room_id"`
	Players [2]string `json:"players,omitempty"`
	Winner  *int      `json:"winner,omitempty"`
	Scores  *[2]int   `json:"scores,omitempty"`
	At      time.Time `json:"at"`
}

// Match 一場結束的對局
type Match struct {
	RoomID    string        `json:"room_id"`
	Players   [2]string     `json:"players"`
	Winner    int           `json:"winner"`
	Scores    [2]int        `json:"scores"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
}

// WinnerName 勝方名稱
func (m Match) WinnerName() string {
	if m.Winner < 0 || m.Winner > 1 {
		return ""
	}
	return m.Players[m.Winner]
}

// NewMatch 由對局結果建立紀錄
func NewMatch(roomID string, players [2]string, r game.Result, startedAt, endedAt time.Time) Match {
	return Match{
		RoomID:    roomID,
		Players:   players,
		Winner:    r.Winner,
		Scores:    r.Scores,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Duration:  endedAt.Sub(startedAt),
	}
}

// Store 對局歷史
type Store interface {
	Save(ctx context.Context, m Match) error
	// Recent 最新的 n 場，新的在前
	Recent(ctx context.Context, n int) ([]Match, error)
	// Wins 某位玩家的勝場數
	Wins(ctx context.Context, player string) (int64, error)
	Close() error
}

// Publisher 事件發布
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher 不發布任何事件
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
