// Package errors 提供對戰服務的錯誤分類
//
// 錯誤依種類分成四組：
//   - Protocol：訊框格式錯誤、未知類型、欄位型別不符，回覆給發送者，連線保持
//   - Room：房間碼格式錯誤、房間不存在、房間已滿，以 error 訊息回覆
//   - Abuse：訊息速率或訊框大小超限，直接以特定 close code 關閉連線
//   - Internal：tick 或分派中的非預期錯誤，只記錄日誌
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeProtocol 訊框無法解析或欄位型別不符
	ErrCodeProtocol = "PROTOCOL_ERROR"
	// ErrCodeInvalidFormat 房間碼格式錯誤
	ErrCodeInvalidFormat = "INVALID_FORMAT"
	// ErrCodeNotFound 房間不存在
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeAlreadyInRoom 連線已在房間中
	ErrCodeAlreadyInRoom = "ALREADY_IN_ROOM"
	// ErrCodeNotInRoom 連線尚未加入房間
	ErrCodeNotInRoom = "NOT_IN_ROOM"
	// ErrCodeRateLimited 訊息速率超限
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeFrameTooLarge 訊框過大
	ErrCodeFrameTooLarge = "FRAME_TOO_LARGE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// Kind 錯誤種類
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindRoom     Kind = "room"
	KindAbuse    Kind = "abuse"
	KindInternal Kind = "internal"
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

// Is 實現 errors.Is，以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Kind 返回錯誤種類
func (e *AppError) Kind() Kind {
	switch e.Code {
	case ErrCodeInvalidFormat, ErrCodeNotFound, ErrCodeRoomFull, ErrCodeAlreadyInRoom, ErrCodeNotInRoom:
		return KindRoom
	case ErrCodeRateLimited, ErrCodeFrameTooLarge:
		return KindAbuse
	case ErrCodeProtocol:
		return KindProtocol
	default:
		return KindInternal
	}
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

// WithDetails 返回帶有詳細資訊的副本，預定義錯誤本身不被修改
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Protocol 建立協定錯誤
func Protocol(format string, args ...any) *AppError {
	return New(ErrCodeProtocol, fmt.Sprintf(format, args...))
}

// 預定義錯誤
var (
	ErrInvalidFormat = New(ErrCodeInvalidFormat, "room code must be 6 uppercase letters or digits")
	ErrNotFound      = New(ErrCodeNotFound, "room not found")
	ErrRoomFull      = New(ErrCodeRoomFull, "room is full")
	ErrAlreadyInRoom = New(ErrCodeAlreadyInRoom, "already in a room")
	ErrNotInRoom     = New(ErrCodeNotInRoom, "not in a room")
	ErrRateLimited   = New(ErrCodeRateLimited, "message rate exceeded")
	ErrFrameTooLarge = New(ErrCodeFrameTooLarge, "frame too large")
	ErrInternal      = New(ErrCodeInternal, "internal error")
)

// KindOf 分類任意錯誤；非 AppError 一律視為內部錯誤
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind()
	}
	return KindInternal
}

// CodeOf 返回錯誤碼
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為房間不存在錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsRoomFull 檢查是否為房間已滿錯誤
func IsRoomFull(err error) bool {
	return CodeOf(err) == ErrCodeRoomFull
}

// IsInvalidFormat 檢查是否為房間碼格式錯誤
func IsInvalidFormat(err error) bool {
	return CodeOf(err) == ErrCodeInvalidFormat
}
