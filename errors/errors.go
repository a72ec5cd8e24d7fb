package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 连接相关 20000-20999
	CodeConnectionFailed  = 20001
	CodeTransportTimeout  = 20002
	CodeHandshakeFailed   = 20003
	CodeNotConnected      = 20004
	CodeConnectionClosed  = 20005
	CodeReconnectExceeded = 20006

	// 认证相关 21000-21999
	CodeTokenInvalid = 21001
	CodeTokenExpired = 21002

	// 消息相关 22000-22999
	CodeSendFailed      = 22001
	CodeInvokeFailed    = 22002
	CodeMessageNotFound = 22003

	// 系统错误 50000-50999
	CodeInternalError = 50001
)

// ============== 预定义错误 ==============

// 连接相关
var (
	ErrConnectionFailed  = NewError(CodeConnectionFailed, "所有传输方式均连接失败")
	ErrTransportTimeout  = NewError(CodeTransportTimeout, "传输建连超时")
	ErrHandshakeFailed   = NewError(CodeHandshakeFailed, "注册握手失败")
	ErrNotConnected      = NewError(CodeNotConnected, "连接未就绪")
	ErrConnectionClosed  = NewError(CodeConnectionClosed, "连接已关闭")
	ErrReconnectExceeded = NewError(CodeReconnectExceeded, "重连次数已用尽")
)

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired = NewError(CodeTokenExpired, "Token 已过期")
)

// 消息相关
var (
	ErrSendFailed      = NewError(CodeSendFailed, "消息发送失败")
	ErrInvokeFailed    = NewError(CodeInvokeFailed, "远程调用失败")
	ErrMessageNotFound = NewError(CodeMessageNotFound, "消息不存在")
)

// 系统相关
var (
	ErrInternalError = NewError(CodeInternalError, "内部错误")
)
