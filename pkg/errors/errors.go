// Package errors 提供房間伺服器的錯誤型別
//
// 分類：
//   - 容量不足（房間已滿、分區已滿）：回傳給呼叫端，不做任何部分修改
//   - 找不到資源（房間、舊 handle）
//   - 無效輸入（設定不合法）
//
// 封包層級的格式錯誤不經過這裡，只記錄日誌後丟棄。
package errors

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists 資源已存在
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeCapacity 容量不足
	ErrCodeCapacity = "CAPACITY_EXHAUSTED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
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
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 比對錯誤碼與訊息
//
// 預定義錯誤共用錯誤碼（例如 ErrRoomFull 與 ErrPartitionFull 都是
// CAPACITY_EXHAUSTED），所以同時比對 Message 才能區分。
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

// WithDetails 回傳附帶詳細資訊的副本
//
// 預定義錯誤是共用的，不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrStaleHandle handle 指向的房間或玩家已被回收
	ErrStaleHandle = New(ErrCodeNotFound, "stale handle")

	// ErrRoomExists 房間槽位已被佔用
	ErrRoomExists = New(ErrCodeAlreadyExists, "room already open")

	// ErrRoomFull 房間沒有空位
	ErrRoomFull = New(ErrCodeCapacity, "room full")

	// ErrPartitionFull 分區沒有可用的房間群組
	ErrPartitionFull = New(ErrCodeCapacity, "partition full")

	// ErrGroupFull 群組沒有可用的房間槽位
	ErrGroupFull = New(ErrCodeCapacity, "group full")

	// ErrInvalidConfig 設定不合法
	ErrInvalidConfig = New(ErrCodeInvalidInput, "invalid configuration")

	// ErrInvalidSlot 槽位超出範圍
	ErrInvalidSlot = New(ErrCodeInvalidInput, "invalid slot")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyExists 檢查是否為已存在錯誤
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsCapacity 檢查是否為容量不足錯誤
func IsCapacity(err error) bool {
	return hasCode(err, ErrCodeCapacity)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
