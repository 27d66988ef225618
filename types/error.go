package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 对外暴露的错误码，出现在错误响应体的 code 字段
type ErrorCode string

// 请求与传输
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrClientClosed       ErrorCode = "CLIENT_CLOSED"
)

// 内容审核
const (
	ErrPolicyViolation   ErrorCode = "POLICY_VIOLATION"
	ErrPolicyUnavailable ErrorCode = "POLICY_UNAVAILABLE"
	ErrStreamDecode      ErrorCode = "STREAM_DECODE"
)

// StatusClientClosed 客户端在响应完成前断开（nginx 约定，非标准）
const StatusClientClosed = 499

var defaultStatus = map[ErrorCode]int{
	ErrInvalidRequest:     http.StatusBadRequest,
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrRateLimited:        http.StatusTooManyRequests,
	ErrPolicyViolation:    http.StatusForbidden,
	ErrClientClosed:       StatusClientClosed,
	ErrUpstreamError:      http.StatusBadGateway,
	ErrStreamDecode:       http.StatusBadGateway,
	ErrUpstreamTimeout:    http.StatusGatewayTimeout,
	ErrPolicyUnavailable:  http.StatusServiceUnavailable,
	ErrServiceUnavailable: http.StatusServiceUnavailable,
}

// StatusFor 错误码的默认 HTTP 状态，未知码为 500
func StatusFor(code ErrorCode) int {
	if s, ok := defaultStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error 带错误码的结构化错误。Message 面向客户端，Cause 只进日志
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// NewError 创建错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is 按错误码匹配，errors.Is(err, NewError(ErrRateLimited, "")) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Status 显式设置的状态，否则取错误码默认值
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return StatusFor(e.Code)
}

// WithCause 设置底层错误
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 覆盖默认状态（例如后端 4xx 原样返回）
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable 标记客户端可重试
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable err 链上是否有可重试的 *Error
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// GetErrorCode 取 err 链上第一个 *Error 的错误码
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
