package internal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LeaderboardEntry 排行榜項目
type LeaderboardEntry struct {
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

// LeaderboardReader 排行榜讀取端
type LeaderboardReader interface {
	Top(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// ScoreSource 分數的真實來源，排行榜由它重建
type ScoreSource interface {
	AllScores(ctx context.Context) ([]LeaderboardEntry, error)
}

// rebuildBatchSize 每個 ZADD 指令帶的成員數
const rebuildBatchSize = 500

// RedisLeaderboard 以 Redis Sorted Set 實現的排行榜
//
// member 為 username，score 為累積分數。
// PostgreSQL 才是分數的真實來源，排行榜遺失時可由 users 資料表重建。
type RedisLeaderboard struct {
	client *redis.Client
	key    string
}

// NewRedisLeaderboard 創建 Redis 排行榜
func NewRedisLeaderboard(client *redis.Client, key string) *RedisLeaderboard {
	return &RedisLeaderboard{
		client: client,
		key:    key,
	}
}

// Incr 增加分數（ZINCRBY）
func (lb *RedisLeaderboard) Incr(ctx context.Context, username string, delta int) error {
	if err := lb.client.ZIncrBy(ctx, lb.key, float64(delta), username).Err(); err != nil {
		return fmt.Errorf("排行榜加分 %s: %w", username, err)
	}
	return nil
}

// Top 分數最高的使用者（ZREVRANGE WITHSCORES）
func (lb *RedisLeaderboard) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return []LeaderboardEntry{}, nil
	}

	results, err := lb.client.ZRevRangeWithScores(ctx, lb.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("讀取排行榜 %s: %w", lb.key, storeUnavailable(err))
	}

	entries := make([]LeaderboardEntry, 0, len(results))
	for _, z := range results {
		username, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{Username: username, Score: int64(z.Score)})
	}
	return entries, nil
}

// Rebuild 以既有分數覆寫排行榜（排行榜資料遺失後使用）
func (lb *RedisLeaderboard) Rebuild(ctx context.Context, entries []LeaderboardEntry) error {
	pipe := lb.client.TxPipeline()
	pipe.Del(ctx, lb.key)
	for start := 0; start < len(entries); start += rebuildBatchSize {
		end := min(start+rebuildBatchSize, len(entries))

		members := make([]redis.Z, 0, end-start)
		for _, e := range entries[start:end] {
			members = append(members, redis.Z{Score: float64(e.Score), Member: e.Username})
		}
		pipe.ZAdd(ctx, lb.key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("重建排行榜: %w", err)
	}
	return nil
}

// Warm 以真實來源的全部分數覆寫排行榜，返回寫入的使用者數
func (lb *RedisLeaderboard) Warm(ctx context.Context, source ScoreSource) (int, error) {
	entries, err := source.AllScores(ctx)
	if err != nil {
		return 0, fmt.Errorf("讀取分數來源: %w", err)
	}
	if err := lb.Rebuild(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
