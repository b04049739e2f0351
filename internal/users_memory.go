package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/koopa0/guessing-game/pkg/errors"
)

// MemoryUserStore 記憶體使用者儲存（postgres.enabled=false 時使用）
type MemoryUserStore struct {
	mu     sync.Mutex
	byName map[string]*User
	byID   map[int64]*User
	nextID int64
}

// NewMemoryUserStore 創建記憶體使用者儲存
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byName: make(map[string]*User),
		byID:   make(map[int64]*User),
	}
}

// UpsertUser 以 username 冪等地取得或建立使用者
func (s *MemoryUserStore) UpsertUser(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, exists := s.byName[username]; exists {
		return *u, nil
	}

	s.nextID++
	u := &User{ID: s.nextID, Username: username}
	s.byName[username] = u
	s.byID[u.ID] = u

	return *u, nil
}

// AddScore 加分
func (s *MemoryUserStore) AddScore(_ context.Context, userID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.byID[userID]
	if !exists {
		return fmt.Errorf("使用者 %d 加分: %w", userID, apperrors.ErrUserNotFound)
	}
	u.Score += int64(delta)
	return nil
}

// GetUser 依 username 查詢
func (s *MemoryUserStore) GetUser(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.byName[username]
	if !exists {
		return User{}, fmt.Errorf("查詢使用者 %q: %w", username, apperrors.ErrUserNotFound)
	}
	return *u, nil
}

// AllScores 所有使用者的分數
func (s *MemoryUserStore) AllScores(_ context.Context) ([]LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]LeaderboardEntry, 0, len(s.byID))
	for id := int64(1); id <= s.nextID; id++ {
		if u, ok := s.byID[id]; ok {
			entries = append(entries, LeaderboardEntry{Username: u.Username, Score: u.Score})
		}
	}
	return entries, nil
}

// Top 分數最高的使用者
func (s *MemoryUserStore) Top(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.Lock()
	entries := make([]LeaderboardEntry, 0, len(s.byName))
	for _, u := range s.byName {
		entries = append(entries, LeaderboardEntry{Username: u.Username, Score: u.Score})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
