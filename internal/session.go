package internal

import (
	"sync"
	"time"
)

// 系統設計問題：
//   多個連線同時對同一場猜謎遊戲操作（加入、出題、開局、猜測、斷線），
//   加上回合計時器與猜測競爭結束回合，如何保證場次狀態一致？
//
// 核心挑戰：
//   1. 狀態機：waiting → ready → in_progress → ended
//   2. 計時器與猜測的競爭：先在鎖內結束回合的一方獲勝
//   3. 資源回收：最後一位玩家離開時刪除場次
//
// 設計方案：
//   ✅ 每個場次一把互斥鎖（不同場次互不阻塞）
//   ✅ 計時器回調重新進入場次鎖並檢查狀態與回合編號
//   ✅ 鎖內收集副作用，釋放鎖後才廣播

// Status 場次狀態
//
// 有限狀態機：
//
//	waiting → ready → in_progress → ended
//	            ↑__________|___________|   （重新出題）
//
// 不變式：Answer 只在 ready / in_progress / ended 時存在。
type Status string

const (
	StatusWaiting    Status = "waiting"     // 尚未出題
	StatusReady      Status = "ready"       // 已出題，回合未開始
	StatusInProgress Status = "in_progress" // 回合進行中，接受猜測
	StatusEnded      Status = "ended"       // 回合結束（有人猜中或逾時）
)

const (
	// RoundDuration 回合時長
	RoundDuration = 60 * time.Second

	// InitialAttempts 每位玩家每次加入的猜測次數
	InitialAttempts = 3

	// WinPoints 猜中者獲得的分數
	WinPoints = 10
)

// Player 連線在某場次中的參與紀錄
type Player struct {
	ConnectionID string `json:"-"`
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	Attempts     int    `json:"attempts"`
	IsWinner     bool   `json:"isWinner"`
}

// Session 一場猜謎遊戲
//
// 匯出欄位只能在 SessionStore.WithSession 的回調中讀寫。
type Session struct {
	ID       string
	Players  map[string]*Player // connectionID -> Player
	Question string
	Answer   string // 已轉小寫
	Status   Status

	mu      sync.Mutex
	deleted bool   // 已從 store 移除，持有舊指標的呼叫者必須視為不存在
	round   uint64 // 回合編號，舊回合的計時器據此失效
	timer   Timer
}

// Snapshot 場次快照（session-update 事件的內容）
//
// 答案永遠不在快照中。
type Snapshot struct {
	SessionID string            `json:"sessionId"`
	Status    Status            `json:"status"`
	Question  string            `json:"question,omitempty"`
	Players   map[string]Player `json:"players"`
}

// newSession 創建等待中的空場次
func newSession(id string) *Session {
	return &Session{
		ID:      id,
		Players: make(map[string]*Player),
		Status:  StatusWaiting,
	}
}

// Snapshot 複製目前狀態，呼叫者必須持有場次鎖
func (s *Session) Snapshot() Snapshot {
	players := make(map[string]Player, len(s.Players))
	for connID, p := range s.Players {
		players[connID] = *p
	}

	return Snapshot{
		SessionID: s.ID,
		Status:    s.Status,
		Question:  s.Question,
		Players:   players,
	}
}

// clearWinner 離開 ended 狀態時清除勝者標記（勝者只能存在於 ended）
func (s *Session) clearWinner() {
	for _, p := range s.Players {
		p.IsWinner = false
	}
}

// stopTimer 盡力取消回合計時器；已觸發的計時器由回合編號與狀態檢查失效
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
