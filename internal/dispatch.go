package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/koopa0/guessing-game/pkg/errors"
	"github.com/koopa0/guessing-game/pkg/logger"
)

// Event 事件封包，入站與出站共用
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// inboundEvent 入站事件，data 延遲解析
type inboundEvent struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// 入站請求結構
type joinSessionRequest struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type createQuestionRequest struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
}

type startGameRequest struct {
	SessionID string `json:"sessionId"`
}

type makeGuessRequest struct {
	SessionID string `json:"sessionId"`
	Guess     string `json:"guess"`
}

// Dispatcher 把連線事件轉交給引擎
//
// 傳輸層保證同一連線的訊息依序、一次一則送達；
// 不同連線可以並發呼叫。
type Dispatcher struct {
	engine *Engine
	logger *slog.Logger
}

// NewDispatcher 創建事件分派器
func NewDispatcher(engine *Engine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		logger: logger,
	}
}

// HandleMessage 解析並處理一則入站訊息
//
// 返回的錯誤只供傳輸層記錄，不會回傳給客戶端。
func (d *Dispatcher) HandleMessage(ctx context.Context, connID string, raw []byte) error {
	ctx = logger.WithConnectionID(ctx, connID)

	var in inboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return apperrors.ErrInvalidMessage.WithDetails(err.Error())
	}

	switch in.Type {
	case EventJoinSession:
		var req joinSessionRequest
		if err := decodeData(in, &req); err != nil {
			return err
		}
		if req.Username == "" || req.SessionID == "" {
			return missingField(in.Type, "username", "sessionId")
		}
		d.engine.Join(ctx, connID, req.Username, req.SessionID)

	case EventCreateQuestion:
		var req createQuestionRequest
		if err := decodeData(in, &req); err != nil {
			return err
		}
		if req.SessionID == "" || req.Answer == "" {
			return missingField(in.Type, "sessionId", "answer")
		}
		d.engine.SetQuestion(ctx, req.SessionID, req.Question, req.Answer)

	case EventStartGame:
		var req startGameRequest
		if err := decodeData(in, &req); err != nil {
			return err
		}
		if req.SessionID == "" {
			return missingField(in.Type, "sessionId")
		}
		d.engine.StartRound(ctx, req.SessionID)

	case EventMakeGuess:
		var req makeGuessRequest
		if err := decodeData(in, &req); err != nil {
			return err
		}
		if req.SessionID == "" || req.Guess == "" {
			return missingField(in.Type, "sessionId", "guess")
		}
		d.engine.Guess(ctx, connID, req.SessionID, req.Guess)

	default:
		return apperrors.ErrUnknownEvent.WithDetails(in.Type)
	}

	return nil
}

// HandleDisconnect 連線關閉
func (d *Dispatcher) HandleDisconnect(ctx context.Context, connID string) {
	d.engine.Disconnect(logger.WithConnectionID(ctx, connID), connID)
}

func decodeData(in inboundEvent, v any) error {
	if len(in.Data) == 0 {
		return missingField(in.Type, "data")
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("解析 %s: %w", in.Type,
			apperrors.ErrInvalidMessage.WithDetails(err.Error()))
	}
	return nil
}

func missingField(event string, fields ...string) error {
	return apperrors.ErrInvalidMessage.WithDetails(
		fmt.Sprintf("%s 需要欄位 %s", event, strings.Join(fields, ", ")))
}
