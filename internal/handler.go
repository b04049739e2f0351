package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/koopa0/guessing-game/pkg/errors"
)

// 排行榜查詢上限
const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Handler HTTP 請求處理器
//
// 遊戲操作只走 WebSocket；HTTP 端點供維運查詢與連線升級。
type Handler struct {
	engine *Engine
	hub    *WebSocketHub
	board  LeaderboardReader
	logger *slog.Logger
}

// NewHandler 創建 HTTP 處理器，board 可為 nil
func NewHandler(engine *Engine, hub *WebSocketHub, board LeaderboardReader, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		hub:    hub,
		board:  board,
		logger: logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/sessions/{session_id}", wrap(h.getSession))
	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.leaderboard))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// WebSocket 升級需要原始 ResponseWriter（Hijacker），不經過 loggerMiddleware
	mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))

	return mux
}

// getSession 場次快照
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	snap, err := h.engine.Snapshot(sessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			h.errorResponse(w, "場次不存在", http.StatusNotFound)
			return
		}
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, snap, http.StatusOK)
}

// leaderboard 排行榜
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if h.board == nil {
		h.errorResponse(w, "排行榜未啟用", http.StatusServiceUnavailable)
		return
	}

	limit := defaultLeaderboardLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 || val > maxLeaderboardLimit {
			h.errorResponse(w, "limit 必須在 1-100 之間", http.StatusBadRequest)
			return
		}
		limit = val
	}

	entries, err := h.board.Top(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "查詢排行榜失敗", "error", err)
		if apperrors.IsUnavailable(err) {
			h.errorResponse(w, "排行榜暫時不可用", http.StatusServiceUnavailable)
			return
		}
		h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"entries": entries,
		"limit":   limit,
	}, http.StatusOK)
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
	stats := h.engine.Stats()
	stats["connections"] = h.hub.ConnectionCount()
	h.jsonResponse(w, stats, http.StatusOK)
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
