package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSResultPublisher 將回合結果發布到 NATS JetStream
//
// Subject：{prefix}.{sessionID}，同一場次的結果依序保存在同一個 subject。
// 下游（統計、成就系統）自行建立 consumer 訂閱。
type NATSResultPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATSResultPublisher 連接 NATS 並確保 Stream 存在
func NewNATSResultPublisher(cfg NATSConfig) (*NATSResultPublisher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("guessing-game"))
	if err != nil {
		return nil, fmt.Errorf("連接 NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("建立 JetStream 上下文: %w", err)
	}

	// AddStream：不存在則創建，已存在且設定相同時直接返回
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		Discard:   nats.DiscardOld,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("建立 Stream %s: %w", cfg.Stream, err)
	}

	return &NATSResultPublisher{
		conn:   conn,
		js:     js,
		prefix: cfg.SubjectPrefix,
	}, nil
}

// PublishResult 發布並等待 JetStream ACK
func (p *NATSResultPublisher) PublishResult(ctx context.Context, result RoundResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化回合結果: %w", err)
	}

	if _, err := p.js.Publish(p.Subject(result.SessionID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("發布回合結果: %w", err)
	}
	return nil
}

// Subject 場次對應的 subject
func (p *NATSResultPublisher) Subject(sessionID string) string {
	return p.prefix + "." + subjectToken(sessionID)
}

// Close 關閉連線
func (p *NATSResultPublisher) Close() {
	p.conn.Close()
}

// subjectToken 把場次 ID 轉成合法的 subject token（不含 . * > 與空白）
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
