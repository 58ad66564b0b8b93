package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-pong/internal/dispatch"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54s，必須小於 pongWait
	closeWait  = time.Second
)

var (
	// ErrConnClosed 連線已關閉
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull 送出佇列已滿，訊息被丟棄
	ErrSendBufferFull = errors.New("send buffer full")
)

type closeFrame struct {
	code   int
	reason string
}

// Conn 一條 WebSocket 連線，實作 room.Member
//
// 讀寫各一個 goroutine；Send 與 Close 可從任何 goroutine 呼叫。
type Conn struct {
	id   string
	name string
	ws   *websocket.Conn

	send chan []byte
	ctrl chan closeFrame // 容量 1，只放第一個關閉請求
	done chan struct{}   // readPump 結束時關閉

	closed    atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

func newConn(id, name string, ws *websocket.Conn, sendBuffer int, logger *slog.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Conn{
		id:     id,
		name:   name,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		ctrl:   make(chan closeFrame, 1),
		done:   make(chan struct{}),
		logger: logger.With("member_id", id),
	}
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Name() string { return c.name }
func (c *Conn) Open() bool   { return !c.closed.Load() }

// Send 非阻塞入列；佇列滿時丟棄並返回 ErrSendBufferFull
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 送出關閉訊框後斷線；只有第一次呼叫生效
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.ctrl <- closeFrame{code: code, reason: reason}
	})
}

// readPump 讀取訊框並投遞到事件迴圈；結束時投遞 Disconnect
func (c *Conn) readPump(loop *scheduler.Loop, d *dispatch.Dispatcher, readLimit int64, onExit func()) {
	defer func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.Close()
		loop.Post(func() { d.Disconnect(c) })
		onExit()
	}()

	if readLimit > 0 {
		c.ws.SetReadLimit(readLimit)
	}
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("WebSocket 讀取錯誤", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !loop.Post(func() { d.Handle(c, frame) }) {
			return
		}
	}
}

// writePump 依序寫出訊息、ping 與關閉訊框
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case f := <-c.ctrl:
			// 先送出已排隊的訊息（例如 room_closed），再送關閉訊框
			c.drain()
			_ = c.ws.SetWriteDeadline(time.Now().Add(closeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.reason))
			return

		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}
			// 批量發送隊列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.write(<-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(message []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug("發送消息失敗", "error", err)
		return err
	}
	return nil
}

func (c *Conn) drain() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}
		default:
			return
		}
	}
}
