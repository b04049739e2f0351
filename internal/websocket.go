package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/koopa0/guessing-game/pkg/logger"
)

// 心跳與寫入期限
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // 必須小於 pongWait
)

// EventHandler 入站事件處理者（Dispatcher 實現）
type EventHandler interface {
	HandleMessage(ctx context.Context, connID string, raw []byte) error
	HandleDisconnect(ctx context.Context, connID string)
}

// WebSocketHub WebSocket 連接中心，實現 Transport
//
// Hub 模式設計：
//   - 每個連線在建立時獲得 UUID，作為引擎中的 connectionID
//   - 場次訂閱：map[sessionID]set(connectionID)，只發給該場次的連線
//   - 每個連線一個 readPump（依序處理入站訊息）與一個 writePump
//
// 並發安全：RWMutex
//   - 廣播與單播只取讀鎖，註冊、註銷、訂閱取寫鎖
//   - Send channel 只在寫鎖內關閉，持有讀鎖發送時不會遇到已關閉的 channel
type WebSocketHub struct {
	cfg      WebSocketConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  EventHandler

	connections map[string]*Connection         // connectionID -> Connection
	sessions    map[string]map[string]struct{} // sessionID -> connectionIDs
	mu          sync.RWMutex
	wg          sync.WaitGroup
	stopped     bool
}

// Connection WebSocket 連接
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *WebSocketHub

	limiter   *rate.Limiter
	sessions  map[string]struct{} // 已訂閱的場次，受 Hub.mu 保護
	closeOnce sync.Once           // 確保 channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(cfg WebSocketConfig, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]struct{}),
	}
}

// SetHandler 設定入站事件處理者，必須在 ServeWS 之前呼叫
func (hub *WebSocketHub) SetHandler(handler EventHandler) {
	hub.handler = handler
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, hub.cfg.SendBufferSize),
		Hub:      hub,
		limiter:  rate.NewLimiter(rate.Limit(hub.cfg.MessageRate), hub.cfg.Burst),
		sessions: make(map[string]struct{}),
	}

	if !hub.register(connection) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"connection_id", connection.ID,
		"remote_addr", r.RemoteAddr)
}

// register 註冊連接，Hub 已停止時返回 false
//
// wg 計數與 stopped 在同一把鎖內變更，Stop 的 Wait 不會漏掉剛註冊的連線。
func (hub *WebSocketHub) register(conn *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}

	hub.connections[conn.ID] = conn
	hub.wg.Add(1)
	return true
}

// unregister 取消註冊連接並退出所有訂閱的場次
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.connections[conn.ID]; !exists || actual != conn {
		return
	}
	delete(hub.connections, conn.ID)

	for sessionID := range conn.sessions {
		if members, exists := hub.sessions[sessionID]; exists {
			delete(members, conn.ID)
			if len(members) == 0 {
				delete(hub.sessions, sessionID)
			}
		}
	}
	conn.sessions = nil

	conn.closeOnce.Do(func() {
		close(conn.Send)
	})
}

// Subscribe 讓連線接收場次廣播
func (hub *WebSocketHub) Subscribe(connID, sessionID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, exists := hub.connections[connID]
	if !exists {
		return
	}

	if hub.sessions[sessionID] == nil {
		hub.sessions[sessionID] = make(map[string]struct{})
	}
	hub.sessions[sessionID][connID] = struct{}{}
	conn.sessions[sessionID] = struct{}{}
}

// Broadcast 廣播事件到場次
func (hub *WebSocketHub) Broadcast(sessionID, event string, payload any) {
	message, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for connID := range hub.sessions[sessionID] {
		if conn, exists := hub.connections[connID]; exists {
			hub.enqueue(conn, message, sessionID)
		}
	}
}

// Send 發送事件給單一連線
func (hub *WebSocketHub) Send(connID, event string, payload any) {
	message, err := json.Marshal(Event{Type: event, Data: payload})
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if conn, exists := hub.connections[connID]; exists {
		hub.enqueue(conn, message, "")
	}
}

// enqueue 非阻塞寫入，呼叫者持有讀鎖
func (hub *WebSocketHub) enqueue(conn *Connection, message []byte, sessionID string) {
	select {
	case conn.Send <- message:
	default:
		// 慢客戶端不拖累整個場次
		hub.logger.Warn("連接緩衝區滿，丟棄訊息",
			"connection_id", conn.ID,
			"session_id", sessionID)
	}
}

// Stop 關閉所有連接並等待斷線處理完成
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for _, conn := range hub.connections {
		conns = append(conns, conn)
	}
	hub.mu.Unlock()

	// 關閉底層連接，readPump 隨之退出並觸發斷線處理
	for _, conn := range conns {
		conn.Conn.Close()
	}

	hub.wg.Wait()

	hub.logger.Info("WebSocket Hub 已停止", "connections", len(conns))
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// SubscriberCount 獲取場次的訂閱連線數
func (hub *WebSocketHub) SubscriberCount(sessionID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.sessions[sessionID])
}

// readPump 讀取客戶端消息
//
// 心跳（讀取端）：pongWait 內沒有收到任何訊息（包括 Pong）就關閉連接。
// 入站訊息在此 goroutine 依序處理，保證同一連線一次只有一個事件。
// 超過速率限制的訊息直接丟棄。
func (c *Connection) readPump() {
	ctx := logger.WithConnectionID(context.Background(), c.ID)

	defer func() {
		c.Hub.wg.Done()
		c.Conn.Close()
	}()
	defer func() {
		c.Hub.unregister(c)
		if c.Hub.handler != nil {
			c.Hub.handler.HandleDisconnect(ctx, c.ID)
		}
		c.Hub.logger.Info("WebSocket 連接關閉", "connection_id", c.ID)
	}()

	if c.Hub.cfg.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Hub.cfg.MaxMessageSize)
	}

	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("讀取 WebSocket 失敗",
					"error", err,
					"connection_id", c.ID)
			}
			return
		}

		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			c.Hub.logger.Warn("超過速率限制，丟棄訊息", "connection_id", c.ID)
			continue
		}

		if c.Hub.handler == nil {
			continue
		}

		if err := c.Hub.handler.HandleMessage(ctx, c.ID, message); err != nil {
			c.Hub.logger.DebugContext(ctx, "訊息已忽略", "error", err)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳（發送端）：每 pingPeriod 發送 Ping，客戶端回覆 Pong 後 readPump 重置期限。
// Send 被關閉時送出 close frame 並結束。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.Hub.logger.Error("寫入訊息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
