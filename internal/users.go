package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/guessing-game/pkg/errors"
)

// PostgresUserStore 使用者與分數儲存
//
// 同時實現 UserStore、ScoreStore 與 LeaderboardReader。
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore 創建 PostgreSQL 使用者儲存
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// UpsertUser 以 username 冪等地取得或建立使用者
//
// 衝突時只觸碰 username，既有分數不會被重置。
func (s *PostgresUserStore) UpsertUser(ctx context.Context, username string) (User, error) {
	const query = `
		INSERT INTO users (username) VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, username, score`

	var u User
	if err := s.pool.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.Score); err != nil {
		return User{}, fmt.Errorf("建立使用者 %q: %w", username, storeUnavailable(err))
	}
	return u, nil
}

// AddScore 原子性加分
func (s *PostgresUserStore) AddScore(ctx context.Context, userID int64, delta int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET score = score + $2 WHERE id = $1`, userID, delta)
	if err != nil {
		return fmt.Errorf("使用者 %d 加分: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("使用者 %d 加分: %w", userID, apperrors.ErrUserNotFound)
	}
	return nil
}

// GetUser 依 username 查詢
func (s *PostgresUserStore) GetUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, score FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("查詢使用者 %q: %w", username, apperrors.ErrUserNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("查詢使用者 %q: %w", username, err)
	}
	return u, nil
}

// Top 分數最高的使用者
func (s *PostgresUserStore) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, score FROM users ORDER BY score DESC, username ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("查詢排行: %w", storeUnavailable(err))
	}

	entries, err := pgx.CollectRows(rows, scanLeaderboardEntry)
	if err != nil {
		return nil, fmt.Errorf("讀取排行: %w", err)
	}
	return entries, nil
}

// AllScores 所有使用者的分數（重建排行榜使用）
func (s *PostgresUserStore) AllScores(ctx context.Context) ([]LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT username, score FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查詢所有分數: %w", storeUnavailable(err))
	}

	entries, err := pgx.CollectRows(rows, scanLeaderboardEntry)
	if err != nil {
		return nil, fmt.Errorf("讀取所有分數: %w", err)
	}
	return entries, nil
}

func scanLeaderboardEntry(row pgx.CollectableRow) (LeaderboardEntry, error) {
	var e LeaderboardEntry
	err := row.Scan(&e.Username, &e.Score)
	return e, err
}

// storeUnavailable 標記為依賴不可用，呼叫端可用 apperrors.IsUnavailable 判斷
func storeUnavailable(err error) error {
	return apperrors.Wrap(err, apperrors.ErrStoreUnavailable.Code, apperrors.ErrStoreUnavailable.Message)
}
