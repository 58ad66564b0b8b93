package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-realtime-pong/internal/dispatch"
	"github.com/koopa0/system-design/14-realtime-pong/internal/limiter"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
)

// HubOptions 連線層設定
type HubOptions struct {
	MaxFrameBytes int64
	SendBuffer    int
}

// Hub WebSocket 連接中心：升級、限流並追蹤所有連線
type Hub struct {
	loop       *scheduler.Loop
	dispatcher *dispatch.Dispatcher
	upgrades   *limiter.KeyedWindow // 每個 IP 的升級次數
	upgrader   websocket.Upgrader
	opts       HubOptions
	logger     *slog.Logger

	mu      sync.Mutex
	conns   map[string]*Conn // memberID -> Conn
	closing bool
	wg      sync.WaitGroup
}

// NewHub 創建 Hub；upgrades 為 nil 時不限制升級次數
func NewHub(loop *scheduler.Loop, d *dispatch.Dispatcher, upgrades *limiter.KeyedWindow, opts HubOptions, logger *slog.Logger) *Hub {
	return &Hub{
		loop:       loop,
		dispatcher: d,
		upgrades:   upgrades,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		opts:   opts,
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// ServeWS 處理 WebSocket 連接
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if h.upgrades != nil && !h.upgrades.Allow(ip) {
		h.logger.Warn("upgrade rate exceeded", "ip", ip)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("升級 WebSocket 失敗", "ip", ip, "error", err)
		return
	}

	id := uuid.NewString()
	c := newConn(id, guestName(id), ws, h.opts.SendBuffer, h.logger)

	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"), time.Now().Add(closeWait))
		_ = ws.Close()
		return
	}
	if !h.loop.Post(func() { h.dispatcher.Connect(c) }) {
		h.unregister(c)
		_ = ws.Close()
		return
	}

	// 讀取上限放寬到兩倍，讓超長訊框由分派器記錄並以 1009 關閉；更大的由 gorilla 直接拒絕
	readLimit := h.opts.MaxFrameBytes * 2

	go c.writePump()
	go c.readPump(h.loop, h.dispatcher, readLimit, func() { h.unregister(c) })

	h.logger.Info("WebSocket 連接建立", "member_id", id, "name", c.Name(), "ip", ip)
}

func (h *Hub) register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c.ID()] = c
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID()]; ok {
		delete(h.conns, c.ID())
		h.wg.Done()
	}
}

// Count 目前連線數
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// StopAccepting 之後的升級請求一律返回 503
func (h *Hub) StopAccepting() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
}

// CloseAll 以指定關閉碼關閉所有連線，並等待讀取端結束或 ctx 到期
func (h *Hub) CloseAll(ctx context.Context, code int, reason string) error {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(code, reason)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PruneUpgrades 清除閒置 IP 的升級紀錄
func (h *Hub) PruneUpgrades() int {
	if h.upgrades == nil {
		return 0
	}
	return h.upgrades.Prune()
}

// guestName 由連線 ID 產生顯示名稱
func guestName(id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 4 {
		short = short[:4]
	}
	return "Guest-" + strings.ToUpper(short)
}

// clientIP 優先使用 X-Forwarded-For 的第一個位址
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, _ := strings.Cut(fwd, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
