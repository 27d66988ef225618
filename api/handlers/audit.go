package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/guardproxy/internal/audit"
	"github.com/BaSui01/guardproxy/policy"
	"github.com/BaSui01/guardproxy/types"
	"go.uber.org/zap"
)

// ViolationLister 查询审计记录，由 *audit.GormRecorder 实现
type ViolationLister interface {
	Recent(ctx context.Context, q audit.Query) ([]audit.ViolationRecord, error)
}

// AuditHandler 处理 /admin/violations
type AuditHandler struct {
	store  ViolationLister
	logger *zap.Logger
}

// NewAuditHandler 创建审计查询处理器
func NewAuditHandler(store ViolationLister, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{store: store, logger: logger.With(zap.String("component", "audit_handler"))}
}

// HandleList 按 request_id、role、since（RFC3339）与 limit 过滤
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{RequestID: r.URL.Query().Get("request_id")}

	if role := r.URL.Query().Get("role"); role != "" {
		q.Role = policy.Role(role)
		if !q.Role.Valid() {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "role must be prompt or response"), h.logger)
			return
		}
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "since must be RFC3339").WithCause(err), h.logger)
			return
		}
		q.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "limit must be a positive integer"), h.logger)
			return
		}
		q.Limit = n
	}

	records, err := h.store.Recent(r.Context(), q)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"violations": records})
}
