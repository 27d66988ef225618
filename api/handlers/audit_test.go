package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/guardproxy/internal/audit"
	"github.com/BaSui01/guardproxy/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLister struct {
	got     audit.Query
	records []audit.ViolationRecord
}

func (s *stubLister) Recent(_ context.Context, q audit.Query) ([]audit.ViolationRecord, error) {
	s.got = q
	return s.records, nil
}

func TestAuditHandler_HandleList(t *testing.T) {
	store := &stubLister{records: []audit.ViolationRecord{{ID: 1, RequestID: "r1", Role: "prompt", Category: "malicious"}}}
	h := NewAuditHandler(store, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet,
		"/admin/violations?request_id=r1&role=prompt&limit=5&since=2026-01-01T00:00:00Z", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", store.got.RequestID)
	assert.Equal(t, policy.RolePrompt, store.got.Role)
	assert.Equal(t, 5, store.got.Limit)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), store.got.Since)

	var body struct {
		Violations []audit.ViolationRecord `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Violations, 1)
	assert.Equal(t, "malicious", body.Violations[0].Category)
}

func TestAuditHandler_InvalidQuery(t *testing.T) {
	h := NewAuditHandler(&stubLister{}, zap.NewNop())

	for _, q := range []string{"role=system", "limit=-1", "limit=abc", "since=yesterday"} {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/admin/violations?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}
