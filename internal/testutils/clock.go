package testutils

import (
	"sort"
	"sync"
	"time"

	"github.com/koopa0/guessing-game/internal"
)

// ManualClock 手動推進的時鐘
//
// AfterFunc 只登記計時器；Advance 推進虛擬時間並在呼叫者 goroutine
// 依到期順序同步執行回調。回調執行時不持有 ManualClock 的鎖。
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Duration
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

// ManualEpoch 手動時鐘的起始時間
var ManualEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewManualClock 創建手動時鐘，時間從 ManualEpoch 開始
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now 實現 internal.Clock，返回起始時間加上已推進的虛擬時間
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ManualEpoch.Add(c.now)
}

// AfterFunc 實現 internal.Clock
func (c *ManualClock) AfterFunc(d time.Duration, f func()) internal.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTimer{
		clock:    c,
		deadline: c.now + d,
		seq:      c.seq,
		fn:       f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Stop 實現 internal.Timer
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance 推進時間並觸發到期的計時器
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	due := make([]*manualTimer, 0)
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case t.deadline <= c.now:
			t.fired = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})

	for _, t := range due {
		t.fn()
	}
}

// Fire 推進到最晚的到期時間，觸發所有未取消的計時器
func (c *ManualClock) Fire() {
	c.mu.Lock()
	var latest time.Duration
	for _, t := range c.timers {
		if !t.stopped && t.deadline > latest {
			latest = t.deadline
		}
	}
	d := latest - c.now
	c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.Advance(d)
}

// Captured 取出所有等待中的計時器回調（視為已觸發），不執行
//
// 用來重現「計時器已觸發，但在 Stop 之後才取得場次鎖」的競爭。
func (c *ManualClock) Captured() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fns := make([]func(), 0, len(c.timers))
	for _, t := range c.timers {
		if !t.stopped {
			t.fired = true
			fns = append(fns, t.fn)
		}
	}
	c.timers = nil
	return fns
}

// Pending 等待中的計時器數量
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}
