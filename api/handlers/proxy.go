package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/guardproxy/api"
	"github.com/BaSui01/guardproxy/gateway"
	"go.uber.org/zap"
)

// =============================================================================
// 🛡️ 受审核端点 Handler
// =============================================================================

// Orchestrator 是受审核端点依赖的编排能力，由 *gateway.Orchestrator 实现
type Orchestrator interface {
	Generate(ctx context.Context, req *api.GenerateRequest) (*gateway.Result, error)
	Chat(ctx context.Context, req *api.ChatRequest) (*gateway.Result, error)
	Embeddings(ctx context.Context, req *api.EmbeddingsRequest) ([]byte, error)
}

// ProxyHandler 处理 /api/generate、/api/chat 与 /api/embeddings
type ProxyHandler struct {
	orch   Orchestrator
	logger *zap.Logger
}

// NewProxyHandler 创建受审核端点处理器
func NewProxyHandler(orch Orchestrator, logger *zap.Logger) *ProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "proxy_handler")),
	}
}

// respond 写出编排结果：流式结果逐行转发，非流式结果原样返回
func (h *ProxyHandler) respond(w http.ResponseWriter, r *http.Request, res *gateway.Result, err error) {
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if res.Stream != nil {
		StreamRelay(w, r, res.Stream, h.logger)
		return
	}
	WriteRaw(w, http.StatusOK, res.Body)
}
