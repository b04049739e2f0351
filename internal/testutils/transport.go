package testutils

import (
	"sync"

	"github.com/koopa0/guessing-game/internal"
)

// SentEvent 記錄的出站事件
type SentEvent struct {
	SessionID string // Broadcast 時設定
	ConnID    string // Send 時設定
	Event     string
	Payload   any
}

// RecordingTransport 記錄所有出站事件的 internal.Transport
type RecordingTransport struct {
	mu            sync.Mutex
	events        []SentEvent
	subscriptions map[string]map[string]struct{} // sessionID -> connIDs
}

var _ internal.Transport = (*RecordingTransport)(nil)

// NewRecordingTransport 創建記錄用傳輸
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{
		subscriptions: make(map[string]map[string]struct{}),
	}
}

// Subscribe 實現 internal.Transport
func (r *RecordingTransport) Subscribe(connID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscriptions[sessionID] == nil {
		r.subscriptions[sessionID] = make(map[string]struct{})
	}
	r.subscriptions[sessionID][connID] = struct{}{}
}

// Broadcast 實現 internal.Transport
func (r *RecordingTransport) Broadcast(sessionID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, SentEvent{SessionID: sessionID, Event: event, Payload: payload})
}

// Send 實現 internal.Transport
func (r *RecordingTransport) Send(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, SentEvent{ConnID: connID, Event: event, Payload: payload})
}

// Events 所有事件（副本）
func (r *RecordingTransport) Events() []SentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentEvent(nil), r.events...)
}

// Named 指定名稱的事件
func (r *RecordingTransport) Named(event string) []SentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []SentEvent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Last 指定名稱的最後一個事件
func (r *RecordingTransport) Last(event string) (SentEvent, bool) {
	named := r.Named(event)
	if len(named) == 0 {
		return SentEvent{}, false
	}
	return named[len(named)-1], true
}

// Subscribed 連線是否訂閱了場次
func (r *RecordingTransport) Subscribed(connID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscriptions[sessionID][connID]
	return ok
}

// Reset 清除已記錄的事件
func (r *RecordingTransport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
