package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
)

// State 連線狀態
type State string

const (
	StateIdle         State = "idle"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLost         State = "lost"   // 重連次數用盡
	StateClosed       State = "closed" // 使用者主動關閉
)

// 重連預設值：最多 5 次，第 n 次等待 n × 500ms
const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 500 * time.Millisecond
	writeWait          = 5 * time.Second
)

// ErrNotConnected 尚未連線或連線已中斷
var ErrNotConnected = errors.New("client: not connected")

// Options 用戶端選項
type Options struct {
	MaxAttempts   int
	Backoff       time.Duration
	BufferSize    int
	Delay         time.Duration
	InputInterval time.Duration
	Dialer        *websocket.Dialer

	// OnMessage 每則伺服器訊息（在讀取 goroutine 上呼叫）
	OnMessage func(protocol.ServerMessage)
	// OnState 狀態改變
	OnState func(State)
	// OnLost 重連失敗，應回到主選單
	OnLost func(error)
}

// Client 連到對戰服務的 WebSocket 用戶端
type Client struct {
	url    string
	opts   Options
	logger *slog.Logger

	interp   *Interpolator
	throttle *InputThrottle

	writeMu sync.Mutex // gorilla 同時只允許一個寫入者

	mu       sync.Mutex
	ws       *websocket.Conn
	state    State
	lastRoom string
	username string
	ended    bool // 收到 game_end 或 room_closed 後不再重連
	closed   bool
}

// New 建立用戶端
func New(url string, opts Options, logger *slog.Logger) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		url:      url,
		opts:     opts,
		logger:   logger,
		interp:   NewInterpolator(opts.BufferSize, opts.Delay),
		throttle: NewInputThrottle(opts.InputInterval),
		state:    StateIdle,
	}
}

// Connect 建立連線並啟動讀取 goroutine
func (c *Client) Connect(ctx context.Context) error {
	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(ctx, ws)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return ws, nil
}

func (c *Client) attach(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)
	go c.readLoop(ctx, ws)
}

// State 目前狀態
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room 最後一次建立或加入的房間碼
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRoom
}

// Username 伺服器指派的名稱
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Create 建立房間
func (c *Client) Create() error {
	return c.send(map[string]any{"type": protocol.TypeCreate})
}

// Join 加入房間；房間碼會被記住，重連時自動重新加入
func (c *Client) Join(code string) error {
	code = protocol.NormalizeRoomCode(code)
	c.mu.Lock()
	c.lastRoom = code
	c.ended = false
	c.mu.Unlock()
	return c.send(map[string]any{"type": protocol.TypeJoin, "room": code})
}

// SetInput 回報目前的操作；未改變或太頻繁時不送出
func (c *Client) SetInput(in game.Input, now time.Time) error {
	if !c.throttle.Update(in, now) {
		return nil
	}
	return c.send(map[string]any{"type": protocol.TypePaddleInput, "up": in.Up, "down": in.Down})
}

// Frame 內插後的畫面
func (c *Client) Frame(now time.Time) (game.Snapshot, bool) {
	return c.interp.Frame(now)
}

// Close 主動關閉，不會觸發重連
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.mu.Unlock()
	c.setState(StateClosed)

	if ws == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return ws.Close()
}

func (c *Client) send(msg any) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()
	if ws == nil || !connected {
		return ErrNotConnected
	}
	return c.writeTo(ws, msg)
}

func (c *Client) writeTo(ws *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			_ = ws.Close()
			c.handleDisconnect(ctx, err)
			return
		}

		msg, err := protocol.DecodeServer(data)
		if err != nil {
			c.logger.Warn("decode server message", "error", err)
			continue
		}
		c.observe(msg)
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

// observe 更新本地狀態：房間碼、內插緩衝與是否已結束
func (c *Client) observe(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case *protocol.RoomCreated:
		c.mu.Lock()
		c.lastRoom = m.RoomID
		c.username = m.Username
		c.ended = false
		c.mu.Unlock()
	case *protocol.StartGame:
		c.interp.Reset()
	case *protocol.GameUpdate:
		c.interp.Push(m.Snapshot(), time.Now())
	case *protocol.GameEnd, *protocol.RoomClosed:
		c.mu.Lock()
		c.ended = true
		c.mu.Unlock()
	}
}

func (c *Client) handleDisconnect(ctx context.Context, cause error) {
	c.mu.Lock()
	closed, ended, room := c.closed, c.ended, c.lastRoom
	c.ws = nil
	c.mu.Unlock()

	if closed {
		return
	}
	if ended || room == "" {
		// 沒有可以回去的對局
		c.setState(StateIdle)
		return
	}
	if websocket.IsCloseError(cause, websocket.ClosePolicyViolation, websocket.CloseMessageTooBig) {
		// 被伺服器判定濫用，重連也只會再被關閉
		c.setState(StateLost)
		if c.opts.OnLost != nil {
			c.opts.OnLost(cause)
		}
		return
	}

	c.logger.Info("connection lost, reconnecting", "room", room, "error", cause)
	c.setState(StateReconnecting)
	if err := c.reconnect(ctx, room); err != nil {
		c.setState(StateLost)
		if c.opts.OnLost != nil {
			c.opts.OnLost(err)
		}
	}
}

// reconnect 線性退避重連，成功後重新送出 join
func (c *Client) reconnect(ctx context.Context, room string) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.opts.Backoff):
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil
		}

		ws, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		// 先重新加入，成功寫出後才交給讀取 goroutine
		if err := c.writeTo(ws, map[string]any{"type": protocol.TypeJoin, "room": room}); err != nil {
			_ = ws.Close()
			lastErr = err
			continue
		}

		c.interp.Reset()
		c.throttle.Reset()
		c.attach(ctx, ws)
		c.logger.Info("reconnected", "room", room, "attempt", attempt)
		return nil
	}
	return fmt.Errorf("connection lost after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}
