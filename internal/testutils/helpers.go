// Package testutils 提供測試用的共用工具和輔助函數
//
// 包括：
//   - ManualClock：手動推進的回合計時器
//   - RecordingTransport：記錄出站事件
//   - testify/mock 實現的外部依賴
//   - 測試容器（PostgreSQL、Redis、NATS）
package testutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/guessing-game/internal"
)

// DefaultTestConfig 返回測試用的預設配置（不依賴外部服務）
func DefaultTestConfig() *internal.Config {
	cfg := internal.DefaultConfig()

	cfg.Server.Port = 18080
	cfg.Server.ShutdownTimeout = 5 * time.Second

	cfg.Postgres.Enabled = false
	cfg.Redis.Enabled = false
	cfg.NATS.Enabled = false

	// 測試時不觸發速率限制
	cfg.WebSocket.MessageRate = 1000
	cfg.WebSocket.Burst = 1000

	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	return cfg
}

// AssertEventually 等待條件成立
//
// 副作用佇列與 WebSocket 寫入都是非同步的，需要等待。
func AssertEventually(t testing.TB, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	require.Eventually(t, condition, timeout, 10*time.Millisecond, message)
}
