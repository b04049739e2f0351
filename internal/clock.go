package internal

import "time"

// Clock 排程回合計時器
//
// 正式環境使用 time.AfterFunc，測試注入可手動推進的時鐘，
// 不需要真的等待 60 秒。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 可取消的一次性計時器
type Timer interface {
	// Stop 取消計時器，已觸發或已取消時返回 false
	Stop() bool
}

type systemClock struct{}

// SystemClock 返回基於 time.AfterFunc 的時鐘
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
