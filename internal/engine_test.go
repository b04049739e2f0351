package internal_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/guessing-game/internal"
	"github.com/koopa0/guessing-game/internal/testutils"
	apperrors "github.com/koopa0/guessing-game/pkg/errors"
	"github.com/koopa0/guessing-game/pkg/logger"
)

// engineFixture 引擎與其依賴
type engineFixture struct {
	engine    *internal.Engine
	store     *internal.SessionStore
	transport *testutils.RecordingTransport
	clock     *testutils.ManualClock
	users     *internal.MemoryUserStore
	effects   *internal.EffectQueue
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	log := logger.Discard()
	users := internal.NewMemoryUserStore()
	f := &engineFixture{
		store:     internal.NewSessionStore(log),
		transport: testutils.NewRecordingTransport(),
		clock:     testutils.NewManualClock(),
		users:     users,
		effects:   internal.NewEffectQueue(users, log),
	}
	f.engine = internal.NewEngine(f.store, users, f.transport, f.effects, log, internal.WithClock(f.clock))

	t.Cleanup(func() {
		f.engine.Close()
		f.effects.Shutdown()
	})

	return f
}

func (f *engineFixture) snapshot(t *testing.T, sessionID string) internal.Snapshot {
	t.Helper()
	snap, err := f.store.Snapshot(sessionID)
	require.NoError(t, err)
	return snap
}

// readyRound 兩位玩家加入並開始回合
func (f *engineFixture) readyRound(ctx context.Context, sessionID, question, answer string) {
	f.engine.Join(ctx, "conn-a", "alice", sessionID)
	f.engine.Join(ctx, "conn-b", "bob", sessionID)
	f.engine.SetQuestion(ctx, sessionID, question, answer)
	f.engine.StartRound(ctx, sessionID)
}

func gameEnded(t *testing.T, e testutils.SentEvent) internal.GameEndedPayload {
	t.Helper()
	payload, ok := e.Payload.(internal.GameEndedPayload)
	require.True(t, ok, "unexpected payload type %T", e.Payload)
	return payload
}

// TestEngine_ExampleRound 兩位玩家、一次猜錯、一次猜中
func TestEngine_ExampleRound(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.engine.Join(ctx, "A", "A", "s1")
	f.engine.Join(ctx, "B", "B", "s1")
	f.engine.SetQuestion(ctx, "s1", "2+2?", "4")
	f.engine.StartRound(ctx, "s1")

	started, ok := f.transport.Last(internal.EventGameStarted)
	require.True(t, ok)
	assert.Equal(t, internal.QuestionPayload{Question: "2+2?"}, started.Payload)

	f.engine.Guess(ctx, "B", "s1", "5")

	wrong, ok := f.transport.Last(internal.EventWrongGuess)
	require.True(t, ok)
	assert.Equal(t, "B", wrong.ConnID)
	assert.Empty(t, wrong.SessionID, "wrong-guess must not be broadcast")
	assert.Equal(t, internal.WrongGuessPayload{AttemptsLeft: 2}, wrong.Payload)

	f.engine.Guess(ctx, "B", "s1", "4")

	ended, ok := f.transport.Last(internal.EventGameEnded)
	require.True(t, ok)
	assert.Equal(t, "s1", ended.SessionID)
	payload := gameEnded(t, ended)
	require.NotNil(t, payload.Winner)
	assert.Equal(t, "B", *payload.Winner)
	assert.Equal(t, "4", payload.Answer)

	snap := f.snapshot(t, "s1")
	assert.Equal(t, internal.StatusEnded, snap.Status)
	assert.True(t, snap.Players["B"].IsWinner)
	assert.False(t, snap.Players["A"].IsWinner)
	assert.Zero(t, f.clock.Pending(), "round timer should be cancelled")

	// 等待副作用佇列送出加分
	f.effects.Shutdown()
	user, err := f.users.GetUser(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(internal.WinPoints), user.Score)
}

// TestEngine_Join 測試加入場次
func TestEngine_Join(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(ctx context.Context, f *engineFixture)
		validate func(t *testing.T, f *engineFixture)
	}{
		{
			name: "first join creates waiting session",
			setup: func(ctx context.Context, f *engineFixture) {
				f.engine.Join(ctx, "c1", "alice", "s1")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				assert.Equal(t, internal.StatusWaiting, snap.Status)
				assert.Empty(t, snap.Question)
				require.Len(t, snap.Players, 1)
				assert.Equal(t, "alice", snap.Players["c1"].Username)
				assert.Equal(t, internal.InitialAttempts, snap.Players["c1"].Attempts)
				assert.True(t, f.transport.Subscribed("c1", "s1"))

				update, ok := f.transport.Last(internal.EventSessionUpdate)
				require.True(t, ok)
				assert.Equal(t, "s1", update.SessionID)
				assert.Equal(t, snap, update.Payload)
			},
		},
		{
			name: "joining twice keeps one player",
			setup: func(ctx context.Context, f *engineFixture) {
				f.engine.Join(ctx, "c1", "alice", "s1")
				f.engine.Join(ctx, "c1", "alice", "s1")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				require.Len(t, snap.Players, 1)
				assert.Equal(t, internal.InitialAttempts, snap.Players["c1"].Attempts)
				assert.Len(t, f.transport.Named(internal.EventSessionUpdate), 2)
			},
		},
		{
			name: "rejoining mid round resets attempts",
			setup: func(ctx context.Context, f *engineFixture) {
				f.readyRound(ctx, "s1", "capital of France?", "Paris")
				f.engine.Guess(ctx, "conn-a", "s1", "Lyon")
				f.engine.Guess(ctx, "conn-a", "s1", "Nice")
				f.engine.Join(ctx, "conn-a", "alice", "s1")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				assert.Equal(t, internal.StatusInProgress, snap.Status)
				assert.Equal(t, internal.InitialAttempts, snap.Players["conn-a"].Attempts)
			},
		},
		{
			name: "same username on two connections shares the user id",
			setup: func(ctx context.Context, f *engineFixture) {
				f.engine.Join(ctx, "c1", "alice", "s1")
				f.engine.Join(ctx, "c2", "alice", "s1")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				require.Len(t, snap.Players, 2)
				assert.Equal(t, snap.Players["c1"].UserID, snap.Players["c2"].UserID)
			},
		},
		{
			name: "snapshot never exposes the answer",
			setup: func(ctx context.Context, f *engineFixture) {
				f.engine.Join(ctx, "c1", "alice", "s1")
				f.engine.SetQuestion(ctx, "s1", "secret?", "hidden")
				f.engine.Join(ctx, "c2", "bob", "s1")
			},
			validate: func(t *testing.T, f *engineFixture) {
				update, ok := f.transport.Last(internal.EventSessionUpdate)
				require.True(t, ok)
				snap := update.Payload.(internal.Snapshot)
				assert.Equal(t, internal.StatusReady, snap.Status)
				assert.Equal(t, "secret?", snap.Question)
				assert.NotContains(t, mustJSON(t, snap), "hidden")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			tt.setup(context.Background(), f)
			tt.validate(t, f)
		})
	}
}

// TestEngine_JoinUpsertFailure 使用者儲存失敗時放棄加入
func TestEngine_JoinUpsertFailure(t *testing.T) {
	log := logger.Discard()
	users := &testutils.MockUserStore{}
	users.On("UpsertUser", mock.Anything, "alice").
		Return(internal.User{}, apperrors.ErrStoreUnavailable)

	scores := &testutils.MockScoreStore{}
	effects := internal.NewEffectQueue(scores, log)
	defer effects.Shutdown()

	store := internal.NewSessionStore(log)
	transport := testutils.NewRecordingTransport()
	engine := internal.NewEngine(store, users, transport, effects, log)

	engine.Join(context.Background(), "c1", "alice", "s1")

	_, err := store.Snapshot("s1")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, transport.Events())
	assert.False(t, transport.Subscribed("c1", "s1"))
	users.AssertExpectations(t)
}

// TestEngine_SetQuestion 測試出題
func TestEngine_SetQuestion(t *testing.T) {
	t.Run("missing session is ignored", func(t *testing.T) {
		f := newEngineFixture(t)
		f.engine.SetQuestion(context.Background(), "nope", "q", "a")

		assert.Empty(t, f.transport.Events())
		assert.Zero(t, f.store.Len())
	})

	t.Run("broadcasts question only", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.engine.Join(ctx, "c1", "alice", "s1")
		f.engine.SetQuestion(ctx, "s1", "capital of France?", "Paris")

		created, ok := f.transport.Last(internal.EventQuestionCreated)
		require.True(t, ok)
		assert.Equal(t, internal.QuestionPayload{Question: "capital of France?"}, created.Payload)
		assert.NotContains(t, mustJSON(t, created.Payload), "Paris")
		assert.Equal(t, internal.StatusReady, f.snapshot(t, "s1").Status)
	})

	t.Run("empty answer leaves the session unchanged", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.engine.Join(ctx, "c1", "alice", "s1")
		f.transport.Reset()

		f.engine.SetQuestion(ctx, "s1", "q", "")
		f.engine.StartRound(ctx, "s1")
		f.engine.Guess(ctx, "c1", "s1", "")

		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusWaiting, snap.Status)
		assert.Empty(t, snap.Question)
		assert.False(t, snap.Players["c1"].IsWinner)
		assert.Empty(t, f.transport.Events())
	})

	t.Run("mid round replaces question and cancels timer", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "old?", "old")
		require.Equal(t, 1, f.clock.Pending())

		f.engine.SetQuestion(ctx, "s1", "new?", "new")

		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusReady, snap.Status)
		assert.Equal(t, "new?", snap.Question)
		assert.Zero(t, f.clock.Pending())

		// 舊計時器不會結束新題目
		f.clock.Advance(internal.RoundDuration)
		assert.Empty(t, f.transport.Named(internal.EventGameEnded))
	})

	t.Run("after a win clears the winner", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")
		f.engine.Guess(ctx, "conn-b", "s1", "a")
		require.True(t, f.snapshot(t, "s1").Players["conn-b"].IsWinner)

		f.engine.SetQuestion(ctx, "s1", "q2", "b")

		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusReady, snap.Status)
		for _, p := range snap.Players {
			assert.False(t, p.IsWinner)
		}
	})
}

// TestEngine_StartRound 測試開始回合
func TestEngine_StartRound(t *testing.T) {
	t.Run("missing session is ignored", func(t *testing.T) {
		f := newEngineFixture(t)
		f.engine.StartRound(context.Background(), "nope")

		assert.Empty(t, f.transport.Events())
		assert.Zero(t, f.clock.Pending())
	})

	t.Run("without question is ignored", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.engine.Join(ctx, "c1", "alice", "s1")
		f.engine.StartRound(ctx, "s1")

		assert.Equal(t, internal.StatusWaiting, f.snapshot(t, "s1").Status)
		assert.Empty(t, f.transport.Named(internal.EventGameStarted))
		assert.Zero(t, f.clock.Pending())
	})

	t.Run("restart cancels the previous timer", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")
		f.clock.Advance(30 * time.Second)

		f.engine.StartRound(ctx, "s1")
		assert.Equal(t, 1, f.clock.Pending())

		// 第一個回合原本的到期時間
		f.clock.Advance(30 * time.Second)
		assert.Equal(t, internal.StatusInProgress, f.snapshot(t, "s1").Status)

		f.clock.Advance(30 * time.Second)
		assert.Equal(t, internal.StatusEnded, f.snapshot(t, "s1").Status)
		assert.Len(t, f.transport.Named(internal.EventGameEnded), 1)
	})

	t.Run("stale timer that already fired is inert", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")

		// 第一回合的計時器已觸發，但回調在重新開局之後才執行
		stale := f.clock.Captured()
		require.Len(t, stale, 1)
		f.engine.StartRound(ctx, "s1")
		stale[0]()

		assert.Equal(t, internal.StatusInProgress, f.snapshot(t, "s1").Status)
		assert.Empty(t, f.transport.Named(internal.EventGameEnded))
	})

	t.Run("new round after end clears winner", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")
		f.engine.Guess(ctx, "conn-a", "s1", "a")
		f.engine.StartRound(ctx, "s1")

		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusInProgress, snap.Status)
		assert.False(t, snap.Players["conn-a"].IsWinner)
	})
}

// TestEngine_RoundTimeout 測試回合逾時
func TestEngine_RoundTimeout(t *testing.T) {
	t.Run("no correct guess ends with null winner", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "capital of France?", "Paris")
		f.engine.Guess(ctx, "conn-a", "s1", "Lyon")

		f.clock.Advance(internal.RoundDuration - time.Millisecond)
		assert.Equal(t, internal.StatusInProgress, f.snapshot(t, "s1").Status)

		f.clock.Advance(time.Millisecond)

		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusEnded, snap.Status)
		for _, p := range snap.Players {
			assert.False(t, p.IsWinner)
		}

		ended, ok := f.transport.Last(internal.EventGameEnded)
		require.True(t, ok)
		payload := gameEnded(t, ended)
		assert.Nil(t, payload.Winner)
		assert.Equal(t, "paris", payload.Answer)
		assert.Contains(t, mustJSON(t, payload), `"winner":null`)
	})

	t.Run("correct guess just before timeout wins", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")

		f.clock.Advance(59900 * time.Millisecond)
		f.engine.Guess(ctx, "conn-b", "s1", "a")
		f.clock.Advance(time.Second)

		ended := f.transport.Named(internal.EventGameEnded)
		require.Len(t, ended, 1)
		payload := gameEnded(t, ended[0])
		require.NotNil(t, payload.Winner)
		assert.Equal(t, "bob", *payload.Winner)
	})

	t.Run("timer firing after the win is a no-op", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")

		// 計時器已觸發，回調在猜中之後才取得場次鎖
		fired := f.clock.Captured()
		require.Len(t, fired, 1)
		f.engine.Guess(ctx, "conn-b", "s1", "A")
		fired[0]()

		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusEnded, snap.Status)
		assert.True(t, snap.Players["conn-b"].IsWinner)

		ended := f.transport.Named(internal.EventGameEnded)
		require.Len(t, ended, 1)
		require.NotNil(t, gameEnded(t, ended[0]).Winner)
	})

	t.Run("timer for a deleted session is a no-op", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")

		fired := f.clock.Captured()
		f.engine.Disconnect(ctx, "conn-a")
		f.engine.Disconnect(ctx, "conn-b")
		fired[0]()

		assert.Zero(t, f.store.Len())
		assert.Empty(t, f.transport.Named(internal.EventGameEnded))
	})
}

// TestEngine_RoundResultTime 回合結果的結束時間來自注入的時鐘
func TestEngine_RoundResultTime(t *testing.T) {
	tests := []struct {
		name     string
		play     func(ctx context.Context, engine *internal.Engine, clock *testutils.ManualClock)
		expected time.Time
		winner   string
	}{
		{
			name: "timeout",
			play: func(ctx context.Context, engine *internal.Engine, clock *testutils.ManualClock) {
				clock.Advance(internal.RoundDuration)
			},
			expected: testutils.ManualEpoch.Add(internal.RoundDuration),
		},
		{
			name: "win",
			play: func(ctx context.Context, engine *internal.Engine, clock *testutils.ManualClock) {
				clock.Advance(10 * time.Second)
				engine.Guess(ctx, "c1", "s1", "a")
			},
			expected: testutils.ManualEpoch.Add(10 * time.Second),
			winner:   "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				results []internal.RoundResult
				mu      sync.Mutex
			)
			publisher := &testutils.MockResultPublisher{}
			publisher.On("PublishResult", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					mu.Lock()
					defer mu.Unlock()
					results = append(results, args.Get(1).(internal.RoundResult))
				}).
				Return(nil)

			log := logger.Discard()
			users := internal.NewMemoryUserStore()
			clock := testutils.NewManualClock()
			effects := internal.NewEffectQueue(users, log, internal.WithResultPublisher(publisher))
			engine := internal.NewEngine(internal.NewSessionStore(log), users,
				testutils.NewRecordingTransport(), effects, log, internal.WithClock(clock))
			t.Cleanup(engine.Close)

			ctx := context.Background()
			engine.Join(ctx, "c1", "alice", "s1")
			engine.SetQuestion(ctx, "s1", "q", "a")
			engine.StartRound(ctx, "s1")
			tt.play(ctx, engine, clock)
			effects.Shutdown()

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, results, 1)
			assert.True(t, tt.expected.Equal(results[0].EndedAt), "ended at %v", results[0].EndedAt)
			assert.Equal(t, tt.winner, results[0].Winner)
		})
	}
}

// TestEngine_Guess 測試猜測
func TestEngine_Guess(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(ctx context.Context, f *engineFixture)
		validate func(t *testing.T, f *engineFixture)
	}{
		{
			name: "case insensitive match",
			setup: func(ctx context.Context, f *engineFixture) {
				f.readyRound(ctx, "s1", "capital of France?", "Paris")
				f.engine.Guess(ctx, "conn-a", "s1", "PARIS")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				assert.Equal(t, internal.StatusEnded, snap.Status)
				assert.True(t, snap.Players["conn-a"].IsWinner)
				assert.Equal(t, internal.InitialAttempts-1, snap.Players["conn-a"].Attempts)
			},
		},
		{
			name: "round not started is ignored",
			setup: func(ctx context.Context, f *engineFixture) {
				f.engine.Join(ctx, "c1", "alice", "s1")
				f.engine.SetQuestion(ctx, "s1", "q", "a")
				f.engine.Guess(ctx, "c1", "s1", "a")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				assert.Equal(t, internal.StatusReady, snap.Status)
				assert.Equal(t, internal.InitialAttempts, snap.Players["c1"].Attempts)
				assert.Empty(t, f.transport.Named(internal.EventGameEnded))
				assert.Empty(t, f.transport.Named(internal.EventWrongGuess))
			},
		},
		{
			name: "connection not in session is ignored",
			setup: func(ctx context.Context, f *engineFixture) {
				f.readyRound(ctx, "s1", "q", "a")
				f.engine.Guess(ctx, "stranger", "s1", "a")
			},
			validate: func(t *testing.T, f *engineFixture) {
				assert.Equal(t, internal.StatusInProgress, f.snapshot(t, "s1").Status)
				assert.Empty(t, f.transport.Named(internal.EventGameEnded))
				assert.Empty(t, f.transport.Named(internal.EventWrongGuess))
			},
		},
		{
			name: "missing session is ignored",
			setup: func(ctx context.Context, f *engineFixture) {
				f.engine.Guess(ctx, "c1", "nope", "a")
			},
			validate: func(t *testing.T, f *engineFixture) {
				assert.Empty(t, f.transport.Events())
				assert.Zero(t, f.store.Len())
			},
		},
		{
			name: "attempts run out then guesses are ignored",
			setup: func(ctx context.Context, f *engineFixture) {
				f.readyRound(ctx, "s1", "q", "a")
				for i := 0; i < internal.InitialAttempts+2; i++ {
					f.engine.Guess(ctx, "conn-a", "s1", "wrong")
				}
				// 次數用盡後即使猜對也不算
				f.engine.Guess(ctx, "conn-a", "s1", "a")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				assert.Equal(t, 0, snap.Players["conn-a"].Attempts)
				assert.Equal(t, internal.StatusInProgress, snap.Status)

				wrong := f.transport.Named(internal.EventWrongGuess)
				require.Len(t, wrong, internal.InitialAttempts)
				for i, e := range wrong {
					assert.Equal(t, internal.WrongGuessPayload{AttemptsLeft: internal.InitialAttempts - 1 - i}, e.Payload)
				}
			},
		},
		{
			name: "guess after the round ended is ignored",
			setup: func(ctx context.Context, f *engineFixture) {
				f.readyRound(ctx, "s1", "q", "a")
				f.engine.Guess(ctx, "conn-a", "s1", "a")
				f.engine.Guess(ctx, "conn-a", "s1", "a")
				f.engine.Guess(ctx, "conn-b", "s1", "a")
			},
			validate: func(t *testing.T, f *engineFixture) {
				snap := f.snapshot(t, "s1")
				assert.Equal(t, internal.InitialAttempts-1, snap.Players["conn-a"].Attempts)
				assert.Equal(t, internal.InitialAttempts, snap.Players["conn-b"].Attempts)
				assert.False(t, snap.Players["conn-b"].IsWinner)
				assert.Len(t, f.transport.Named(internal.EventGameEnded), 1)
			},
		},
		{
			name: "answer is not trimmed",
			setup: func(ctx context.Context, f *engineFixture) {
				f.readyRound(ctx, "s1", "q", "a")
				f.engine.Guess(ctx, "conn-a", "s1", " a ")
			},
			validate: func(t *testing.T, f *engineFixture) {
				assert.Equal(t, internal.StatusInProgress, f.snapshot(t, "s1").Status)
				assert.Len(t, f.transport.Named(internal.EventWrongGuess), 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			tt.setup(context.Background(), f)
			tt.validate(t, f)
		})
	}
}

// TestEngine_ScoreFailureKeepsState 加分失敗不回滾遊戲狀態
func TestEngine_ScoreFailureKeepsState(t *testing.T) {
	log := logger.Discard()
	users := internal.NewMemoryUserStore()

	scores := &testutils.MockScoreStore{}
	scores.On("AddScore", mock.Anything, mock.AnythingOfType("int64"), internal.WinPoints).
		Return(errors.New("connection refused")).Once()

	effects := internal.NewEffectQueue(scores, log)
	store := internal.NewSessionStore(log)
	transport := testutils.NewRecordingTransport()
	engine := internal.NewEngine(store, users, transport, effects, log, internal.WithClock(testutils.NewManualClock()))
	defer engine.Close()

	ctx := context.Background()
	engine.Join(ctx, "c1", "alice", "s1")
	engine.SetQuestion(ctx, "s1", "q", "a")
	engine.StartRound(ctx, "s1")
	engine.Guess(ctx, "c1", "s1", "a")

	effects.Shutdown()

	snap, err := store.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, internal.StatusEnded, snap.Status)
	assert.Len(t, transport.Named(internal.EventGameEnded), 1)
	scores.AssertExpectations(t)
}

// TestEngine_Disconnect 測試斷線
func TestEngine_Disconnect(t *testing.T) {
	t.Run("remaining players receive update", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.engine.Join(ctx, "c1", "alice", "s1")
		f.engine.Join(ctx, "c2", "bob", "s1")

		f.engine.Disconnect(ctx, "c1")

		snap := f.snapshot(t, "s1")
		require.Len(t, snap.Players, 1)
		assert.Contains(t, snap.Players, "c2")

		update, ok := f.transport.Last(internal.EventSessionUpdate)
		require.True(t, ok)
		assert.Equal(t, snap, update.Payload)
	})

	t.Run("last player removes the session", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.readyRound(ctx, "s1", "q", "a")

		f.engine.Disconnect(ctx, "conn-a")
		f.engine.Disconnect(ctx, "conn-b")

		_, err := f.store.Snapshot("s1")
		assert.True(t, apperrors.IsNotFound(err))
		assert.Zero(t, f.store.Len())
		assert.Zero(t, f.clock.Pending(), "timer of a deleted session must be cancelled")

		// 相同 ID 重新加入得到全新的場次
		f.engine.Join(ctx, "c3", "carol", "s1")
		snap := f.snapshot(t, "s1")
		assert.Equal(t, internal.StatusWaiting, snap.Status)
		assert.Empty(t, snap.Question)
		assert.Len(t, snap.Players, 1)

		f.engine.StartRound(ctx, "s1")
		assert.Equal(t, internal.StatusWaiting, f.snapshot(t, "s1").Status)
	})

	t.Run("connection in several sessions leaves all", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.engine.Join(ctx, "c1", "alice", "s1")
		f.engine.Join(ctx, "c1", "alice", "s2")
		f.engine.Join(ctx, "c2", "bob", "s2")

		f.engine.Disconnect(ctx, "c1")

		_, err := f.store.Snapshot("s1")
		assert.True(t, apperrors.IsNotFound(err))
		snap := f.snapshot(t, "s2")
		assert.Len(t, snap.Players, 1)
	})

	t.Run("unknown connection is a no-op", func(t *testing.T) {
		f := newEngineFixture(t)
		ctx := context.Background()
		f.engine.Join(ctx, "c1", "alice", "s1")
		f.transport.Reset()

		f.engine.Disconnect(ctx, "ghost")

		assert.Empty(t, f.transport.Events())
		assert.Len(t, f.snapshot(t, "s1").Players, 1)
	})
}
