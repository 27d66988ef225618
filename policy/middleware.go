package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/guardproxy/internal/circuitbreaker"
	"github.com/BaSui01/guardproxy/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Middleware 包装 Assessor
type Middleware func(Assessor) Assessor

// Chain 依次应用 middlewares，第一个位于最外层
func Chain(a Assessor, middlewares ...Middleware) Assessor {
	for i := len(middlewares) - 1; i >= 0; i-- {
		a = middlewares[i](a)
	}
	return a
}

// WithRetry 对临时性错误（连接失败、5xx、429）按策略重试
func WithRetry(r *retry.Retryer) Middleware {
	return func(next Assessor) Assessor {
		if r == nil || r.MaxRetries() == 0 {
			return next
		}
		return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
			return retry.Do(ctx, r, func(ctx context.Context) (Verdict, error) {
				return next.Assess(ctx, f)
			})
		})
	}
}

// WithBreaker 在 oracle 持续失败时快速失败。熔断打开返回 KindUnavailable。
func WithBreaker(b *circuitbreaker.Breaker) Middleware {
	return func(next Assessor) Assessor {
		if b == nil {
			return next
		}
		return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
			v, err := circuitbreaker.Call(ctx, b, func(ctx context.Context) (Verdict, error) {
				return next.Assess(ctx, f)
			})
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
				return Verdict{}, &AssessError{Kind: KindUnavailable, Err: err}
			}
			return v, err
		})
	}
}

// BreakerFailure 判断错误是否应计入熔断失败。本地错误不计入。
func BreakerFailure(err error) bool {
	var ae *AssessError
	if errors.As(err, &ae) {
		return ae.Kind != KindInvalid
	}
	return true
}

// WithLimit 限制同时进行中的评估数量
func WithLimit(n int64) Middleware {
	return func(next Assessor) Assessor {
		if n <= 0 {
			return next
		}
		sem := semaphore.NewWeighted(n)
		return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return Verdict{}, fmt.Errorf("acquire assessment slot: %w", err)
			}
			defer sem.Release(1)
			return next.Assess(ctx, f)
		})
	}
}

// WithTracing 为每次评估创建 span，不记录文本内容
func WithTracing(tracer trace.Tracer) Middleware {
	return func(next Assessor) Assessor {
		if tracer == nil {
			return next
		}
		return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
			ctx, span := tracer.Start(ctx, "policy.assess",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("policy.role", string(f.Role)),
					attribute.String("llm.model", f.Model),
					attribute.Int("policy.text_length", len(f.Text)),
				))
			defer span.End()

			v, err := next.Assess(ctx, f)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return v, err
			}
			span.SetAttributes(
				attribute.String("policy.category", v.Category),
				attribute.String("policy.action", string(v.Action)),
				attribute.String("policy.report_id", v.ReportID),
			)
			return v, nil
		})
	}
}

// AssessmentRecorder 记录评估耗时与结果
type AssessmentRecorder interface {
	RecordAssessment(role, outcome string, duration time.Duration)
}

// WithMetrics 记录每次评估。outcome 为 "ok" 或 AssessError.Kind。
func WithMetrics(rec AssessmentRecorder) Middleware {
	return func(next Assessor) Assessor {
		if rec == nil {
			return next
		}
		return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
			start := time.Now()
			v, err := next.Assess(ctx, f)
			rec.RecordAssessment(string(f.Role), outcomeOf(ctx, err), time.Since(start))
			return v, err
		})
	}
}

func outcomeOf(ctx context.Context, err error) string {
	if err == nil {
		return "ok"
	}
	if ctx.Err() != nil {
		return "canceled"
	}
	var ae *AssessError
	if errors.As(err, &ae) {
		return string(ae.Kind)
	}
	return "error"
}
