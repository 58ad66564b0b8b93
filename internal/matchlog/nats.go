package matchlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher 把生命週期事件發布到 NATS
//
// Subject 命名：{prefix}.{kind}，例如 pong.events.game_ended。
// 使用 core NATS，訂閱者離線時事件不保留；歷史查詢走 Store。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("pong-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject 事件對應的 subject
func Subject(prefix, kind string) string {
	if prefix == "" {
		return kind
	}
	return prefix + "." + kind
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, e.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
