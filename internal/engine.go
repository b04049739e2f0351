package internal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/koopa0/guessing-game/pkg/logger"
)

// 入站事件
const (
	EventJoinSession    = "join-session"
	EventCreateQuestion = "create-question"
	EventStartGame      = "start-game"
	EventMakeGuess      = "make-guess"
)

// 出站事件
const (
	EventSessionUpdate   = "session-update"
	EventQuestionCreated = "question-created"
	EventGameStarted     = "game-started"
	EventGameEnded       = "game-ended"
	EventWrongGuess      = "wrong-guess"
)

// User 使用者紀錄
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

// UserStore 使用者儲存，以 username 冪等
type UserStore interface {
	UpsertUser(ctx context.Context, username string) (User, error)
}

// Transport 出站傳輸
type Transport interface {
	// Subscribe 讓連線接收場次廣播
	Subscribe(connID, sessionID string)
	// Broadcast 發送給場次內所有訂閱的連線
	Broadcast(sessionID, event string, payload any)
	// Send 只發送給單一連線
	Send(connID, event string, payload any)
}

// QuestionPayload question-created / game-started 的內容
type QuestionPayload struct {
	Question string `json:"question"`
}

// GameEndedPayload game-ended 的內容，逾時結束時 Winner 為 null
type GameEndedPayload struct {
	Winner *string `json:"winner"`
	Answer string  `json:"answer"`
}

// WrongGuessPayload wrong-guess 的內容
type WrongGuessPayload struct {
	AttemptsLeft int `json:"attemptsLeft"`
}

// Engine 場次狀態機
//
// 每個處理函數：
//  1. 透過 SessionStore.WithSession 取得場次鎖
//  2. 套用狀態轉換，把要發出的事件記在區域變數
//  3. 釋放鎖後才廣播、發送、排入加分
//
// 找不到場次或動作不合法時靜默忽略，不回報錯誤給客戶端。
type Engine struct {
	store     *SessionStore
	users     UserStore
	transport Transport
	effects   *EffectQueue
	clock     Clock
	logger    *slog.Logger
}

// EngineOption 引擎選項
type EngineOption func(*Engine)

// WithClock 注入時鐘（測試使用手動時鐘）
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine 創建場次引擎
func NewEngine(store *SessionStore, users UserStore, transport Transport, effects *EffectQueue, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		users:     users,
		transport: transport,
		effects:   effects,
		clock:     SystemClock(),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Join 加入場次
//
// 使用者紀錄在取得任何場次鎖之前解析；失敗時記錄並放棄這次加入。
// 重複加入（即使回合進行中）會覆蓋該連線的玩家紀錄並重置猜測次數。
func (e *Engine) Join(ctx context.Context, connID, username, sessionID string) {
	ctx = logger.WithSessionID(ctx, sessionID)

	user, err := e.users.UpsertUser(ctx, username)
	if err != nil {
		e.logger.ErrorContext(ctx, "建立使用者失敗", "username", username, "error", err)
		return
	}

	var snap Snapshot
	e.store.WithOrCreateSession(sessionID, func(s *Session) {
		s.Players[connID] = &Player{
			ConnectionID: connID,
			UserID:       user.ID,
			Username:     username,
			Attempts:     InitialAttempts,
		}
		snap = s.Snapshot()
	})

	e.store.Track(connID, sessionID)
	e.transport.Subscribe(connID, sessionID)
	e.transport.Broadcast(sessionID, EventSessionUpdate, snap)

	e.logger.InfoContext(ctx, "玩家加入場次", "username", username, "players", len(snap.Players))
}

// SetQuestion 出題
//
// 無條件進入 ready，回合進行中也會覆蓋題目；進行中的計時器被取消。
// 空答案不會改變場次：ready 以後的狀態必須有答案。
func (e *Engine) SetQuestion(ctx context.Context, sessionID, question, answer string) {
	ctx = logger.WithSessionID(ctx, sessionID)

	if answer == "" {
		e.logger.DebugContext(ctx, "答案為空，忽略出題")
		return
	}

	err := e.store.WithSession(sessionID, func(s *Session) {
		s.Question = question
		s.Answer = normalize(answer)
		s.Status = StatusReady
		s.clearWinner()
		s.stopTimer()
	})
	if err != nil {
		e.logger.DebugContext(ctx, "忽略出題", "error", err)
		return
	}

	e.transport.Broadcast(sessionID, EventQuestionCreated, QuestionPayload{Question: question})

	e.logger.InfoContext(ctx, "題目已建立")
}

// StartRound 開始回合並排程逾時
//
// 尚未出題（waiting）時忽略。重新開局會取消舊計時器並遞增回合編號，
// 已觸發但尚在等鎖的舊計時器因編號不符而失效。
func (e *Engine) StartRound(ctx context.Context, sessionID string) {
	ctx = logger.WithSessionID(ctx, sessionID)

	var (
		started  bool
		question string
	)
	err := e.store.WithSession(sessionID, func(s *Session) {
		if s.Status == StatusWaiting {
			return
		}

		s.Status = StatusInProgress
		s.clearWinner()
		s.stopTimer()
		s.round++

		round := s.round
		s.timer = e.clock.AfterFunc(RoundDuration, func() {
			e.expireRound(sessionID, round)
		})

		started = true
		question = s.Question
	})
	if err != nil {
		e.logger.DebugContext(ctx, "忽略開局", "error", err)
		return
	}
	if !started {
		e.logger.DebugContext(ctx, "尚未出題，忽略開局")
		return
	}

	e.transport.Broadcast(sessionID, EventGameStarted, QuestionPayload{Question: question})

	e.logger.InfoContext(ctx, "回合開始", "duration", RoundDuration)
}

// expireRound 回合計時器回調
//
// 只有狀態仍是 in_progress 且回合編號相同時才結束回合；
// 先一步猜中的回合不會被覆蓋。
func (e *Engine) expireRound(sessionID string, round uint64) {
	ctx := logger.WithSessionID(context.Background(), sessionID)

	var (
		expired bool
		answer  string
	)
	err := e.store.WithSession(sessionID, func(s *Session) {
		if s.round != round || s.Status != StatusInProgress {
			return
		}

		s.Status = StatusEnded
		s.timer = nil
		expired = true
		answer = s.Answer
	})
	if err != nil || !expired {
		return
	}

	e.transport.Broadcast(sessionID, EventGameEnded, GameEndedPayload{Winner: nil, Answer: answer})
	e.effects.PublishResult(RoundResult{
		SessionID: sessionID,
		Answer:    answer,
		EndedAt:   e.clock.Now(),
	})

	e.logger.InfoContext(ctx, "回合逾時")
}

// Guess 猜測
//
// 以下情況不消耗次數、不回應：回合未進行、連線不在場次、次數用盡、已是勝者。
func (e *Engine) Guess(ctx context.Context, connID, sessionID, guess string) {
	ctx = logger.WithSessionID(ctx, sessionID)

	var (
		attempted    bool
		won          bool
		winner       Player
		answer       string
		attemptsLeft int
	)
	err := e.store.WithSession(sessionID, func(s *Session) {
		if s.Status != StatusInProgress {
			return
		}

		p, exists := s.Players[connID]
		if !exists || p.Attempts <= 0 || p.IsWinner {
			return
		}

		p.Attempts--
		attempted = true

		if normalize(guess) != s.Answer {
			attemptsLeft = p.Attempts
			return
		}

		s.Status = StatusEnded
		s.stopTimer()
		p.IsWinner = true

		won = true
		winner = *p
		answer = s.Answer
	})
	if err != nil {
		e.logger.DebugContext(ctx, "忽略猜測", "error", err)
		return
	}
	if !attempted {
		return
	}

	if !won {
		e.transport.Send(connID, EventWrongGuess, WrongGuessPayload{AttemptsLeft: attemptsLeft})
		return
	}

	name := winner.Username
	e.transport.Broadcast(sessionID, EventGameEnded, GameEndedPayload{Winner: &name, Answer: answer})
	e.effects.AddScore(winner.UserID, winner.Username, WinPoints)
	e.effects.PublishResult(RoundResult{
		SessionID: sessionID,
		Winner:    name,
		Answer:    answer,
		EndedAt:   e.clock.Now(),
	})

	e.logger.InfoContext(ctx, "回合有人猜中", "winner", name)
}

// Disconnect 連線關閉
//
// 從所屬的每個場次移除玩家；場次清空就刪除，否則廣播最新快照。
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	for _, sessionID := range e.store.Untrack(connID) {
		sctx := logger.WithSessionID(ctx, sessionID)

		var (
			removed bool
			empty   bool
			snap    Snapshot
		)
		err := e.store.WithSession(sessionID, func(s *Session) {
			if _, exists := s.Players[connID]; !exists {
				return
			}
			delete(s.Players, connID)
			removed = true
			empty = len(s.Players) == 0
			if !empty {
				snap = s.Snapshot()
			}
		})
		if err != nil || !removed {
			continue
		}

		if empty {
			if e.store.DeleteIfEmpty(sessionID) {
				e.logger.InfoContext(sctx, "最後一位玩家離開，場次已關閉")
			}
			continue
		}

		e.transport.Broadcast(sessionID, EventSessionUpdate, snap)
		e.logger.InfoContext(sctx, "玩家離開場次", "players", len(snap.Players))
	}
}

// Snapshot 返回場次快照
func (e *Engine) Snapshot(sessionID string) (Snapshot, error) {
	return e.store.Snapshot(sessionID)
}

// Stats 獲取統計資訊
func (e *Engine) Stats() map[string]any {
	return e.store.Stats()
}

// Close 銷毀所有場次並取消計時器
func (e *Engine) Close() {
	e.store.Close()
}

// normalize 比對前的正規化（不分大小寫）
func normalize(s string) string {
	return strings.ToLower(s)
}
