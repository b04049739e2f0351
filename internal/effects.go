package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ScoreStore 分數儲存（持久化的使用者分數）
type ScoreStore interface {
	AddScore(ctx context.Context, userID int64, delta int) error
}

// Leaderboard 排行榜寫入端
type Leaderboard interface {
	Incr(ctx context.Context, username string, delta int) error
}

// ResultPublisher 回合結果發布（供其他服務訂閱）
type ResultPublisher interface {
	PublishResult(ctx context.Context, result RoundResult) error
}

// RoundResult 回合結果
type RoundResult struct {
	SessionID string    `json:"session_id"`
	Winner    string    `json:"winner,omitempty"` // 逾時結束時為空
	Answer    string    `json:"answer"`
	EndedAt   time.Time `json:"ended_at"`
}

// effectTask 佇列項目，score 與 result 擇一
type effectTask struct {
	score  *scoreUpdate
	result *RoundResult
}

type scoreUpdate struct {
	userID   int64
	username string
	delta    int
}

// EffectQueue 狀態轉換提交後的副作用佇列
//
// 架構：
//
//	Engine（釋放場次鎖後）→ tasks channel → worker → ScoreStore / Leaderboard / ResultPublisher
//
// 失敗只記錄日誌，遊戲狀態不會回滾；猜中的回合一定已經進入 ended。
// 緩衝區滿時改為同步執行（背壓），不額外產生 goroutine。
type EffectQueue struct {
	scores      ScoreStore
	leaderboard Leaderboard
	publisher   ResultPublisher
	logger      *slog.Logger
	timeout     time.Duration

	tasks  chan effectTask
	mu     sync.RWMutex // 保護 closed，避免向已關閉的 channel 發送
	closed bool
	wg     sync.WaitGroup
}

// EffectOption 副作用佇列選項
type EffectOption func(*EffectQueue)

// WithLeaderboard 設定排行榜
func WithLeaderboard(lb Leaderboard) EffectOption {
	return func(q *EffectQueue) {
		q.leaderboard = lb
	}
}

// WithResultPublisher 設定回合結果發布者
func WithResultPublisher(p ResultPublisher) EffectOption {
	return func(q *EffectQueue) {
		q.publisher = p
	}
}

// WithBufferSize 設定緩衝大小
func WithBufferSize(size int) EffectOption {
	return func(q *EffectQueue) {
		if size > 0 {
			q.tasks = make(chan effectTask, size)
		}
	}
}

// WithEffectTimeout 設定單次外部呼叫的逾時
func WithEffectTimeout(d time.Duration) EffectOption {
	return func(q *EffectQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewEffectQueue 創建並啟動副作用佇列
func NewEffectQueue(scores ScoreStore, logger *slog.Logger, opts ...EffectOption) *EffectQueue {
	q := &EffectQueue{
		scores:  scores,
		logger:  logger,
		timeout: 5 * time.Second,
		tasks:   make(chan effectTask, 256),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// AddScore 排入加分
func (q *EffectQueue) AddScore(userID int64, username string, delta int) {
	q.enqueue(effectTask{score: &scoreUpdate{userID: userID, username: username, delta: delta}})
}

// PublishResult 排入回合結果
func (q *EffectQueue) PublishResult(result RoundResult) {
	if q.publisher == nil {
		return
	}
	q.enqueue(effectTask{result: &result})
}

func (q *EffectQueue) enqueue(task effectTask) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("副作用佇列已關閉，丟棄任務")
		return
	}

	select {
	case q.tasks <- task:
	default:
		// 緩衝區滿，同步執行
		q.logger.Warn("副作用佇列已滿，改為同步處理")
		q.process(task)
	}
}

// worker 後台處理 goroutine
func (q *EffectQueue) worker() {
	defer q.wg.Done()

	for task := range q.tasks {
		q.process(task)
	}
}

func (q *EffectQueue) process(task effectTask) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	switch {
	case task.score != nil:
		q.applyScore(ctx, task.score)
	case task.result != nil:
		if err := q.publisher.PublishResult(ctx, *task.result); err != nil {
			q.logger.Error("發布回合結果失敗",
				"session_id", task.result.SessionID,
				"error", err)
		}
	}
}

func (q *EffectQueue) applyScore(ctx context.Context, u *scoreUpdate) {
	if err := q.scores.AddScore(ctx, u.userID, u.delta); err != nil {
		q.logger.Error("加分失敗",
			"user_id", u.userID,
			"delta", u.delta,
			"error", err)
		return
	}

	if q.leaderboard == nil {
		return
	}

	if err := q.leaderboard.Incr(ctx, u.username, u.delta); err != nil {
		// 排行榜只是快取，分數已持久化
		q.logger.Warn("更新排行榜失敗",
			"username", u.username,
			"error", err)
	}
}

// Shutdown 停止接收並處理完剩餘項目
func (q *EffectQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}
