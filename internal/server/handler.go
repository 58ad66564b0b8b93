package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/koopa0/system-design/14-realtime-pong/internal/matchlog"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
	"github.com/koopa0/system-design/14-realtime-pong/internal/room"
	"github.com/koopa0/system-design/14-realtime-pong/internal/scheduler"
	apperrors "github.com/koopa0/system-design/14-realtime-pong/pkg/errors"
)

const (
	defaultMatchLimit = 20
	maxMatchLimit     = 100
	qrSize            = 256
)

// Handler HTTP 請求處理器
//
// 房間狀態只能在事件迴圈上讀取，查詢一律經由 loop.Do
type Handler struct {
	loop      *scheduler.Loop
	registry  *room.Registry
	hub       *Hub
	store     matchlog.Store
	publicURL string
	logger    *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(loop *scheduler.Loop, registry *room.Registry, hub *Hub, store matchlog.Store, publicURL string, logger *slog.Logger) *Handler {
	return &Handler{
		loop:      loop,
		registry:  registry,
		hub:       hub,
		store:     store,
		publicURL: publicURL,
		logger:    logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.securityHeaders(h.loggerMiddleware(handler)))
	}

	// WebSocket 升級需要原始的 ResponseWriter（Hijacker），不經過日誌包裝
	mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))

	mux.HandleFunc("GET /api/v1/matches", wrap(h.listMatches))
	mux.HandleFunc("GET /api/v1/players/{name}/wins", wrap(h.playerWins))
	mux.HandleFunc("GET /api/v1/rooms/{code}/qr", wrap(h.roomQR))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// statsResponse /stats 回應
type statsResponse struct {
	room.Stats
	Connections int `json:"connections"`
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	var s room.Stats
	if err := h.loop.Do(r.Context(), func() { s = h.registry.Stats() }); err != nil {
		h.errorResponse(w, "服務不可用", http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, statsResponse{Stats: s, Connections: h.hub.Count()}, http.StatusOK)
}

// listMatches 最近的對局紀錄
func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultMatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.errorResponse(w, "limit 必須是正整數", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMatchLimit)
	}

	matches, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("讀取對局紀錄失敗", "error", err)
		h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"matches": matches,
		"count":   len(matches),
	}, http.StatusOK)
}

// playerWins 玩家勝場數
func (h *Handler) playerWins(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	wins, err := h.store.Wins(r.Context(), name)
	if err != nil {
		h.logger.Error("讀取勝場失敗", "player", name, "error", err)
		h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"player": name,
		"wins":   wins,
	}, http.StatusOK)
}

// roomQR 房間加入連結的 QR code（PNG）
func (h *Handler) roomQR(w http.ResponseWriter, r *http.Request) {
	code := protocol.NormalizeRoomCode(r.PathValue("code"))
	if !protocol.ValidRoomCode(code) {
		h.appErrorResponse(w, apperrors.ErrInvalidFormat, http.StatusBadRequest)
		return
	}

	var exists bool
	if err := h.loop.Do(r.Context(), func() { _, exists = h.registry.Get(code) }); err != nil {
		h.errorResponse(w, "服務不可用", http.StatusServiceUnavailable)
		return
	}
	if !exists {
		h.appErrorResponse(w, apperrors.ErrNotFound, http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(JoinURL(h.publicURL, code), qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error("產生 QR code 失敗", "room_id", code, "error", err)
		h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// JoinURL 房間的加入連結
func JoinURL(base, code string) string {
	return base + "/?room=" + url.QueryEscape(code)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

func (h *Handler) appErrorResponse(w http.ResponseWriter, err *apperrors.AppError, status int) {
	h.jsonResponse(w, map[string]any{
		"error": err.Message,
		"code":  err.Code,
	}, status)
}

// securityHeaders 基本安全標頭
func (h *Handler) securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next(w, r)
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
