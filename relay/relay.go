package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"github.com/BaSui01/guardproxy/policy"
	"go.uber.org/zap"
)

// State 是 Relay 的状态
type State int

const (
	StateActive State = iota
	StateBlocked
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBlocked:
		return "blocked"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Checker 对单个 Fragment 做出放行或拒绝，*policy.Enforcer 满足该接口
type Checker interface {
	Check(ctx context.Context, f policy.Fragment) error
}

// Recorder 记录流式中继指标
type Recorder interface {
	RecordStreamChunk()
	RecordStreamOutcome(outcome string)
}

// 流结束原因
const (
	OutcomeCompleted     = "completed"
	OutcomeBlocked       = "blocked"
	OutcomeDecodeError   = "decode_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomePolicyError   = "policy_error"
	OutcomeCanceled      = "canceled"
)

// Option 配置 Relay
type Option func(*Relay)

// WithModel 设置送检时的模型名
func WithModel(model string) Option {
	return func(r *Relay) { r.model = model }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(rec Recorder) Option {
	return func(r *Relay) { r.recorder = rec }
}

// Relay 是内容审核流式中继。一个 Relay 对应一次后端调用，独占其 Source。
// Next 不可并发调用；State、Released 与 Close 可以在任意 goroutine 调用。
type Relay struct {
	src      Source
	decode   Decoder
	checker  Checker
	model    string
	logger   *zap.Logger
	recorder Recorder

	mu       sync.Mutex
	state    State
	err      error
	units    int
	released int
	stop     context.CancelFunc // 取消当前 Next 中的读取与评估

	closeOnce sync.Once
	closeErr  error
}

// New 创建 Relay
func New(src Source, decode Decoder, checker Checker, opts ...Option) *Relay {
	r := &Relay{
		src:     src,
		decode:  decode,
		checker: checker,
		logger:  zap.NewNop(),
		state:   StateActive,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "relay"))
	return r
}

// Next 返回下一个已通过审核的单元，字节与后端原样一致。
// io.EOF 表示流正常结束；*policy.Violation 表示被阻断；其他错误表示异常关闭。
func (r *Relay) Next(ctx context.Context) ([]byte, error) {
	if err := r.terminal(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.stop = nil
		r.mu.Unlock()
		cancel()
	}()

	raw, err := r.src.Next(ctx)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, r.finish(ctx, StateClosed, io.EOF, OutcomeCompleted)
		case ctx.Err() != nil:
			return nil, r.finish(ctx, StateClosed, ctx.Err(), OutcomeCanceled)
		default:
			return nil, r.finish(ctx, StateClosed, &UpstreamError{Err: err}, OutcomeUpstreamError)
		}
	}

	r.mu.Lock()
	index := r.units
	r.units++
	r.mu.Unlock()

	record, err := r.decode(raw)
	if err != nil {
		return nil, r.finish(ctx, StateClosed, &DecodeError{Index: index, Err: err}, OutcomeDecodeError)
	}

	if text, ok := record.AssessableText(); ok && strings.TrimSpace(text) != "" {
		err := r.checker.Check(ctx, policy.Fragment{Text: text, Role: policy.RoleResponse, Model: r.model})
		if err != nil {
			switch {
			case policy.IsViolation(err):
				return nil, r.finish(ctx, StateBlocked, err, OutcomeBlocked)
			case ctx.Err() != nil:
				return nil, r.finish(ctx, StateClosed, ctx.Err(), OutcomeCanceled)
			default:
				return nil, r.finish(ctx, StateClosed, err, OutcomePolicyError)
			}
		}
	}

	r.mu.Lock()
	if r.state != StateActive {
		// Close 在评估期间被调用
		err := r.err
		r.mu.Unlock()
		return nil, err
	}
	r.released++
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordStreamChunk()
	}
	return raw, nil
}

// State 返回当前状态
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err 返回终止原因；Active 时为 nil
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Released 返回已释放的单元数
func (r *Relay) Released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Close 关闭 Relay 与底层 Source，并中断进行中的读取与评估。可重复调用。
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.stop != nil {
		r.stop()
	}
	if r.state == StateActive {
		r.state = StateClosed
		r.err = ErrClosed
		r.mu.Unlock()
		r.record(OutcomeCanceled)
	} else {
		r.mu.Unlock()
	}
	return r.closeSource()
}

func (r *Relay) terminal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateActive {
		return nil
	}
	return r.err
}

// finish 进入终止状态并关闭 Source。若已处于终止状态，返回已有结果。
func (r *Relay) finish(ctx context.Context, state State, err error, outcome string) error {
	r.mu.Lock()
	if r.state != StateActive {
		existing := r.err
		r.mu.Unlock()
		return existing
	}
	r.state = state
	r.err = err
	released := r.released
	r.mu.Unlock()

	_ = r.closeSource()
	r.record(outcome)

	if outcome != OutcomeCompleted {
		requestID, _ := ctxkeys.RequestID(ctx)
		r.logger.Info("stream terminated",
			zap.String("state", state.String()),
			zap.String("outcome", outcome),
			zap.Int("released", released),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
	return err
}

func (r *Relay) closeSource() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.src.Close()
	})
	return r.closeErr
}

func (r *Relay) record(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordStreamOutcome(outcome)
	}
}
