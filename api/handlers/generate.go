package handlers

import (
	"net/http"

	"github.com/BaSui01/guardproxy/api"
)

// HandleGenerate 处理 /api/generate
// @Summary 文本生成
// @Description 评估 prompt 与 system 后转发到后端，流式输出逐块审核
// @Tags 生成
// @Accept json
// @Produce json,application/x-ndjson
// @Param request body api.GenerateRequest true "生成请求"
// @Success 200 {object} api.GenerateResponse "生成结果"
// @Failure 400 {object} api.ErrorResponse "无效请求"
// @Failure 403 {object} api.ErrorResponse "违反内容策略"
// @Failure 503 {object} api.ErrorResponse "安全扫描服务不可用"
// @Router /api/generate [post]
func (h *ProxyHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.orch.Generate(r.Context(), &req)
	h.respond(w, r, res, err)
}
