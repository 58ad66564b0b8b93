// Package broadcast 把訊息序列化一次後送給房間成員
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/koopa0/system-design/14-realtime-pong/internal/room"
)

// Broadcaster 實作 room.Notifier
//
// 單一成員送出失敗只記錄日誌，不影響其他成員
type Broadcaster struct {
	logger *slog.Logger
}

// New 建立 Broadcaster
func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// Broadcast 序列化一次並送給所有仍開啟的成員
func (b *Broadcaster) Broadcast(members []room.Member, msg any) {
	if len(members) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal broadcast", "error", err)
		return
	}

	for _, m := range members {
		b.deliver(m, data)
	}
}

// Send 送給單一成員
func (b *Broadcaster) Send(m room.Member, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal message", "member_id", m.ID(), "error", err)
		return
	}
	b.deliver(m, data)
}

func (b *Broadcaster) deliver(m room.Member, data []byte) {
	if m == nil || !m.Open() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("send panic", "member_id", m.ID(), "error", r)
		}
	}()

	if err := m.Send(data); err != nil {
		b.logger.Warn("send failed", "member_id", m.ID(), "error", err)
	}
}
