package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// =============================================================================
// 🔁 透传端点 Handler
// =============================================================================

// PassthroughPaths 不做内容评估、直接转发的后端端点
var PassthroughPaths = map[string]string{
	"/api/tags":    http.MethodGet,
	"/api/version": http.MethodGet,
	"/api/show":    http.MethodPost,
	"/api/create":  http.MethodPost,
	"/api/copy":    http.MethodPost,
	"/api/delete":  http.MethodDelete,
	"/api/pull":    http.MethodPost,
	"/api/push":    http.MethodPost,
}

// Passthrougher 原样转发请求，由 *ollama.Client 实现
type Passthrougher interface {
	Passthrough(ctx context.Context, method, path string, body []byte) (*http.Response, error)
}

// PassthroughHandler 处理模型管理类端点。这些端点不产生生成内容。
type PassthroughHandler struct {
	backend Passthrougher
	logger  *zap.Logger
}

// NewPassthroughHandler 创建透传处理器
func NewPassthroughHandler(backend Passthrougher, logger *zap.Logger) *PassthroughHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PassthroughHandler{
		backend: backend,
		logger:  logger.With(zap.String("component", "passthrough_handler")),
	}
}

// ServeHTTP 转发请求并流式复制响应（/api/pull 等会持续输出进度）
func (h *PassthroughHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp, err := h.backend.Passthrough(r.Context(), r.Method, r.URL.Path, body)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(&flushWriter{w: w, rc: http.NewResponseController(w)}, resp.Body); err != nil &&
		!errors.Is(err, context.Canceled) {
		h.logger.Warn("passthrough copy interrupted",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

// flushWriter 每次写入后刷新
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
