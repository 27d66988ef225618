package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/guardproxy/api"
	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"github.com/BaSui01/guardproxy/policy"
	"github.com/BaSui01/guardproxy/relay"
	"github.com/BaSui01/guardproxy/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 后端路径
const (
	PathGenerate   = "/api/generate"
	PathChat       = "/api/chat"
	PathEmbeddings = "/api/embeddings"
)

// Backend 是 Orchestrator 需要的后端能力，由 *ollama.Client 实现
type Backend interface {
	Forward(ctx context.Context, path string, body []byte) ([]byte, error)
	Stream(ctx context.Context, path string, body []byte) (relay.Source, error)
}

// Config 编排参数
type Config struct {
	// PrefetchDepth 流式读取的预取深度，0 表示不预取
	PrefetchDepth int
	// PromptConcurrency 单个请求内并发评估的输入片段上限
	PromptConcurrency int
}

// DefaultConfig 返回默认编排参数
func DefaultConfig() Config {
	return Config{
		PrefetchDepth:     0,
		PromptConcurrency: 4,
	}
}

// Result 是一次编排的结果，Body 与 Stream 只有一个非空。
// Stream 非空时调用方必须 Close。
type Result struct {
	Body   []byte
	Stream *relay.Relay
}

// Option 配置 Orchestrator
type Option func(*Orchestrator)

// WithRelayRecorder 设置流式中继的指标记录器
func WithRelayRecorder(rec relay.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// Orchestrator 按端点执行输入评估、后端调用与输出评估
type Orchestrator struct {
	backend  Backend
	checker  relay.Checker
	cfg      Config
	logger   *zap.Logger
	base     *zap.Logger
	recorder relay.Recorder
}

// New 创建 Orchestrator。checker 通常是 *policy.Enforcer。
func New(backend Backend, checker relay.Checker, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PromptConcurrency <= 0 {
		cfg.PromptConcurrency = 1
	}
	if cfg.PrefetchDepth < 0 {
		cfg.PrefetchDepth = 0
	}
	o := &Orchestrator{
		backend: backend,
		checker: checker,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "orchestrator")),
		base:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// =============================================================================
// 🎯 端点
// =============================================================================

// Generate 处理 /api/generate
func (o *Orchestrator) Generate(ctx context.Context, req *api.GenerateRequest) (*Result, error) {
	if err := validateModel(req.Model); err != nil {
		return nil, err
	}
	ctx = ctxkeys.WithModel(ctx, req.Model)

	if err := o.checkPrompts(ctx, req.Model, req.InputTexts()...); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode backend request").WithCause(err)
	}

	if req.Streaming() {
		return o.stream(ctx, PathGenerate, req.Model, body, decodeGenerate)
	}
	return o.unary(ctx, PathGenerate, req.Model, body, decodeGenerate)
}

// Chat 处理 /api/chat
func (o *Orchestrator) Chat(ctx context.Context, req *api.ChatRequest) (*Result, error) {
	if err := validateModel(req.Model); err != nil {
		return nil, err
	}
	ctx = ctxkeys.WithModel(ctx, req.Model)

	if err := o.checkPrompts(ctx, req.Model, req.InputTexts()...); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode backend request").WithCause(err)
	}

	if req.Streaming() {
		return o.stream(ctx, PathChat, req.Model, body, decodeChat)
	}
	return o.unary(ctx, PathChat, req.Model, body, decodeChat)
}

// Embeddings 处理 /api/embeddings。向量输出不含可评估文本。
func (o *Orchestrator) Embeddings(ctx context.Context, req *api.EmbeddingsRequest) ([]byte, error) {
	if err := validateModel(req.Model); err != nil {
		return nil, err
	}
	ctx = ctxkeys.WithModel(ctx, req.Model)

	if err := o.checkPrompts(ctx, req.Model, req.Prompt); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to encode backend request").WithCause(err)
	}
	return o.backend.Forward(ctx, PathEmbeddings, body)
}

// =============================================================================
// 🔧 内部流程
// =============================================================================

// checkPrompts 以 prompt 角色评估所有输入片段。空白片段跳过。
func (o *Orchestrator) checkPrompts(ctx context.Context, model string, texts ...string) error {
	fragments := make([]policy.Fragment, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		fragments = append(fragments, policy.Fragment{Text: t, Role: policy.RolePrompt, Model: model})
	}

	switch len(fragments) {
	case 0:
		return nil
	case 1:
		return o.checker.Check(ctx, fragments[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PromptConcurrency)
	for _, f := range fragments {
		g.Go(func() error {
			return o.checker.Check(gctx, f)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) unary(ctx context.Context, path, model string, body []byte, decode relay.Decoder) (*Result, error) {
	out, err := o.backend.Forward(ctx, path, body)
	if err != nil {
		return nil, err
	}

	record, err := decode(out)
	if err != nil {
		return nil, &relay.DecodeError{Index: 0, Err: err}
	}
	if text, ok := record.AssessableText(); ok {
		if err := o.checker.Check(ctx, policy.Fragment{Text: text, Role: policy.RoleResponse, Model: model}); err != nil {
			return nil, err
		}
	}

	o.logger.Debug("unary response released",
		zap.String("path", path),
		zap.String("model", model),
		zap.Int("bytes", len(out)),
	)
	return &Result{Body: out}, nil
}

func (o *Orchestrator) stream(ctx context.Context, path, model string, body []byte, decode relay.Decoder) (*Result, error) {
	src, err := o.backend.Stream(ctx, path, body)
	if err != nil {
		return nil, err
	}
	if o.cfg.PrefetchDepth > 0 {
		src = relay.Prefetch(ctx, src, o.cfg.PrefetchDepth)
	}

	opts := []relay.Option{relay.WithModel(model), relay.WithLogger(o.base)}
	if o.recorder != nil {
		opts = append(opts, relay.WithRecorder(o.recorder))
	}
	return &Result{Stream: relay.New(src, decode, o.checker, opts...)}, nil
}

func validateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return types.NewError(types.ErrInvalidRequest, "model is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

func decodeGenerate(raw []byte) (relay.Assessable, error) {
	var r api.GenerateResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	return r, nil
}

func decodeChat(raw []byte) (relay.Assessable, error) {
	var r api.ChatResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return r, nil
}
