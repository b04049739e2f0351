package internal

import (
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/koopa0/guessing-game/pkg/errors"
)

// SessionStore 場次儲存
//
// 鎖的層次：
//
//  1. mu（RWMutex）只保護 sessions / members 兩個 map，
//     查找、插入、刪除後立即釋放，從不在持有 mu 時等待場次鎖。
//  2. Session.mu 保護單一場次的所有欄位。
//
// 唯一同時持有兩把鎖的路徑是刪除：先場次鎖，再 mu。
// 其他路徑都不會反向取得，因此沒有死鎖。
type SessionStore struct {
	sessions map[string]*Session            // sessionID -> Session
	members  map[string]map[string]struct{} // connectionID -> sessionIDs
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewSessionStore 創建場次儲存
func NewSessionStore(logger *slog.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		members:  make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

// GetOrCreate 返回既有場次，不存在時建立等待中的空場次
//
// 同一 ID 在任何時刻最多只有一個可見的 Session 物件。
func (st *SessionStore) GetOrCreate(sessionID string) *Session {
	st.mu.RLock()
	s, exists := st.sessions[sessionID]
	st.mu.RUnlock()
	if exists {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// 雙重檢查：取得寫鎖前可能已被其他 goroutine 建立
	if s, exists := st.sessions[sessionID]; exists {
		return s
	}

	s = newSession(sessionID)
	st.sessions[sessionID] = s

	st.logger.Debug("場次已創建", "session_id", sessionID)

	return s
}

// WithSession 在場次鎖內執行 fn
//
// 場次不存在，或在查找與上鎖之間被並發刪除時，返回 ErrSessionNotFound。
func (st *SessionStore) WithSession(sessionID string, fn func(s *Session)) error {
	st.mu.RLock()
	s, exists := st.sessions[sessionID]
	st.mu.RUnlock()

	if !exists {
		return fmt.Errorf("場次 %q: %w", sessionID, apperrors.ErrSessionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return fmt.Errorf("場次 %q: %w", sessionID, apperrors.ErrSessionNotFound)
	}

	fn(s)
	return nil
}

// WithOrCreateSession 等同 GetOrCreate + WithSession
//
// 新建的場次在 fn 執行前是空的，可能被並發的 DeleteIfEmpty 移除；
// 此時重新建立，直到 fn 在一個存活的場次上執行為止。
func (st *SessionStore) WithOrCreateSession(sessionID string, fn func(s *Session)) {
	for {
		s := st.GetOrCreate(sessionID)

		s.mu.Lock()
		if s.deleted {
			s.mu.Unlock()
			continue
		}
		fn(s)
		s.mu.Unlock()
		return
	}
}

// DeleteIfEmpty 在場次鎖內確認沒有玩家後刪除場次，返回是否刪除
//
// 每次移除玩家後都必須呼叫，避免空場次無限累積。
func (st *SessionStore) DeleteIfEmpty(sessionID string) bool {
	st.mu.RLock()
	s, exists := st.sessions[sessionID]
	st.mu.RUnlock()

	if !exists {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted || len(s.Players) > 0 {
		return false
	}

	s.deleted = true
	s.stopTimer()

	st.mu.Lock()
	if st.sessions[sessionID] == s {
		delete(st.sessions, sessionID)
	}
	st.mu.Unlock()

	st.logger.Debug("場次已移除", "session_id", sessionID)

	return true
}

// Snapshot 返回場次快照
func (st *SessionStore) Snapshot(sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := st.WithSession(sessionID, func(s *Session) {
		snap = s.Snapshot()
	})
	return snap, err
}

// Track 記錄連線加入了場次
func (st *SessionStore) Track(connID, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.members[connID] == nil {
		st.members[connID] = make(map[string]struct{})
	}
	st.members[connID][sessionID] = struct{}{}
}

// Untrack 移除連線的所有場次紀錄，返回原本所屬的場次
func (st *SessionStore) Untrack(connID string) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	sessionIDs := make([]string, 0, len(st.members[connID]))
	for sessionID := range st.members[connID] {
		sessionIDs = append(sessionIDs, sessionID)
	}
	delete(st.members, connID)

	return sessionIDs
}

// Len 返回場次數量
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Stats 獲取統計資訊
func (st *SessionStore) Stats() map[string]any {
	st.mu.RLock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	statusCount := make(map[Status]int)
	totalSessions, totalPlayers := 0, 0

	// 逐一取場次鎖，不在持有 mu 時等待
	for _, s := range sessions {
		s.mu.Lock()
		if !s.deleted {
			totalSessions++
			statusCount[s.Status]++
			totalPlayers += len(s.Players)
		}
		s.mu.Unlock()
	}

	return map[string]any{
		"total_sessions": totalSessions,
		"total_players":  totalPlayers,
		"by_status":      statusCount,
	}
}

// Close 銷毀所有場次並取消計時器（進程關閉時使用）
func (st *SessionStore) Close() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.members = make(map[string]map[string]struct{})
	st.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.deleted = true
		s.stopTimer()
		s.mu.Unlock()
	}

	st.logger.Info("場次儲存已關閉", "sessions", len(sessions))
}
