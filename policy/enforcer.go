package policy

import (
	"context"
	"strings"

	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"go.uber.org/zap"
)

// Observer 接收每一次裁决（不含被短路的空文本）
type Observer interface {
	ObserveDecision(ctx context.Context, f Fragment, v Verdict, d Decision)
}

// ObserverFunc 将函数适配为 Observer
type ObserverFunc func(ctx context.Context, f Fragment, v Verdict, d Decision)

// ObserveDecision implements Observer.
func (fn ObserverFunc) ObserveDecision(ctx context.Context, f Fragment, v Verdict, d Decision) {
	fn(ctx, f, v, d)
}

// Enforcer 是 Orchestrator 与 Relay 共用的检查入口
type Enforcer struct {
	assessor  Assessor
	mode      Mode
	logger    *zap.Logger
	observers []Observer
}

// EnforcerOption 配置 Enforcer
type EnforcerOption func(*Enforcer)

// WithObserver 注册裁决观察者（metrics、审计）
func WithObserver(o Observer) EnforcerOption {
	return func(e *Enforcer) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewEnforcer 创建 Enforcer
func NewEnforcer(assessor Assessor, mode Mode, logger *zap.Logger, opts ...EnforcerOption) *Enforcer {
	if mode == "" {
		mode = ModeStrict
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enforcer{
		assessor: assessor,
		mode:     mode,
		logger:   logger.With(zap.String("component", "enforcer")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode 返回当前裁决模式
func (e *Enforcer) Mode() Mode { return e.mode }

// Check 评估 f。返回 nil 表示可放行；*Violation 表示被拒绝；
// 其他错误表示无法评估，调用方必须按拒绝处理。
func (e *Enforcer) Check(ctx context.Context, f Fragment) error {
	if strings.TrimSpace(f.Text) == "" {
		return nil
	}

	requestID, _ := ctxkeys.RequestID(ctx)

	v, err := e.assessor.Assess(ctx, f)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("assessment failed, rejecting",
				zap.String("role", string(f.Role)),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
		return err
	}

	d := Decide(v, e.mode)
	for _, o := range e.observers {
		o.ObserveDecision(ctx, f, v, d)
	}

	if d.Allowed {
		e.logger.Debug("fragment allowed",
			zap.String("role", string(f.Role)),
			zap.String("category", v.Category),
			zap.String("request_id", requestID),
		)
		return nil
	}

	e.logger.Warn("policy violation",
		zap.String("role", string(f.Role)),
		zap.String("category", v.Category),
		zap.String("action", string(v.Action)),
		zap.String("reason", string(d.Reason)),
		zap.String("report_id", v.ReportID),
		zap.String("request_id", requestID),
	)
	return &Violation{
		Role:          f.Role,
		Category:      v.Category,
		Action:        v.Action,
		Reason:        d.Reason,
		ReportID:      v.ReportID,
		TransactionID: v.TransactionID,
	}
}
