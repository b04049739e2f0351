package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/koopa0/guessing-game/internal"
)

// MockUserStore internal.UserStore 的 mock
type MockUserStore struct {
	mock.Mock
}

// UpsertUser 實現 internal.UserStore
func (m *MockUserStore) UpsertUser(ctx context.Context, username string) (internal.User, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(internal.User), args.Error(1)
}

// MockScoreStore internal.ScoreStore 的 mock
type MockScoreStore struct {
	mock.Mock
}

// AddScore 實現 internal.ScoreStore
func (m *MockScoreStore) AddScore(ctx context.Context, userID int64, delta int) error {
	args := m.Called(ctx, userID, delta)
	return args.Error(0)
}

// MockLeaderboard internal.Leaderboard 的 mock
type MockLeaderboard struct {
	mock.Mock
}

// Incr 實現 internal.Leaderboard
func (m *MockLeaderboard) Incr(ctx context.Context, username string, delta int) error {
	args := m.Called(ctx, username, delta)
	return args.Error(0)
}

// MockResultPublisher internal.ResultPublisher 的 mock
type MockResultPublisher struct {
	mock.Mock
}

// PublishResult 實現 internal.ResultPublisher
func (m *MockResultPublisher) PublishResult(ctx context.Context, result internal.RoundResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}
