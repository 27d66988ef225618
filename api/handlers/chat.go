package handlers

import (
	"net/http"

	"github.com/BaSui01/guardproxy/api"
)

// HandleChat 处理 /api/chat
// @Summary 对话
// @Description 逐条评估消息后转发到后端，流式输出逐块审核
// @Tags 对话
// @Accept json
// @Produce json,application/x-ndjson
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {object} api.ChatResponse "对话结果"
// @Failure 400 {object} api.ErrorResponse "无效请求"
// @Failure 403 {object} api.ErrorResponse "违反内容策略"
// @Failure 503 {object} api.ErrorResponse "安全扫描服务不可用"
// @Router /api/chat [post]
func (h *ProxyHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.orch.Chat(r.Context(), &req)
	h.respond(w, r, res, err)
}
