package handlers

import (
	"net/http"

	"github.com/BaSui01/guardproxy/api"
)

// HandleEmbeddings 处理 /api/embeddings
// @Summary 向量
// @Description 评估 prompt 后转发到后端
// @Tags 向量
// @Accept json
// @Produce json
// @Param request body api.EmbeddingsRequest true "向量请求"
// @Success 200 {object} api.EmbeddingsResponse "向量"
// @Failure 403 {object} api.ErrorResponse "违反内容策略"
// @Router /api/embeddings [post]
func (h *ProxyHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req api.EmbeddingsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	body, err := h.orch.Embeddings(r.Context(), &req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteRaw(w, http.StatusOK, body)
}
