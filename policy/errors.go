package policy

import (
	"errors"
	"fmt"
	"net/http"
)

// Violation 表示内容被策略拒绝。错误信息中不包含原文。
type Violation struct {
	Role          Role
	Category      string
	Action        Action
	Reason        Reason
	ReportID      string
	TransactionID string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation in %s: category=%s action=%s reason=%s",
		v.Role, v.Category, v.Action, v.Reason)
}

// IsViolation reports whether err is (or wraps) a *Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// AssessErrorKind 评估错误分类
type AssessErrorKind string

const (
	KindConnectivity AssessErrorKind = "connectivity"
	KindService      AssessErrorKind = "service"
	KindDecode       AssessErrorKind = "decode"
	KindInvalid      AssessErrorKind = "invalid"
	KindUnavailable  AssessErrorKind = "unavailable"
)

// AssessError 表示无法获得 Verdict。调用方必须按拒绝处理。
type AssessError struct {
	Kind       AssessErrorKind
	StatusCode int    // 仅 KindService
	Body       string // 仅 KindService，用于日志
	Err        error
}

func (e *AssessError) Error() string {
	switch {
	case e.Kind == KindService:
		return fmt.Sprintf("policy service error: status=%d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("policy %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("policy %s error", e.Kind)
	}
}

func (e *AssessError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed.
func (e *AssessError) Temporary() bool {
	switch e.Kind {
	case KindConnectivity:
		return true
	case KindService:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsTemporary 判断 err 是否为可重试的 *AssessError
func IsTemporary(err error) bool {
	var ae *AssessError
	return errors.As(err, &ae) && ae.Temporary()
}
