// Package errors 提供遊戲服務的應用程式錯誤
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到（場次、玩家）
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入（訊息格式、欄位缺漏）
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnavailable 外部依賴不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼與訊息比對，讓 errors.Is(err, ErrSessionNotFound) 對包裝後的錯誤成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本，預定義錯誤不會被修改
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrSessionNotFound 場次不存在（或已被清理）
	ErrSessionNotFound = New(ErrCodeNotFound, "session not found")

	// ErrUserNotFound 使用者紀錄不存在
	ErrUserNotFound = New(ErrCodeNotFound, "user not found")

	// ErrInvalidMessage 無法解析的客戶端訊息
	ErrInvalidMessage = New(ErrCodeInvalidInput, "invalid message")

	// ErrUnknownEvent 未知的事件名稱
	ErrUnknownEvent = New(ErrCodeInvalidInput, "unknown event")

	// ErrStoreUnavailable 使用者/分數儲存不可用
	ErrStoreUnavailable = New(ErrCodeUnavailable, "store unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsUnavailable 檢查是否為依賴不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
