package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"github.com/BaSui01/guardproxy/ollama"
	"github.com/BaSui01/guardproxy/policy"
	"github.com/BaSui01/guardproxy/relay"
	"github.com/BaSui01/guardproxy/types"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
	}{
		{
			name:           "violation",
			err:            &policy.Violation{Role: policy.RolePrompt, Category: "malicious", Action: policy.ActionBlock},
			expectedStatus: http.StatusForbidden,
			expectedCode:   types.ErrPolicyViolation,
		},
		{
			name:           "wrapped violation",
			err:            fmt.Errorf("check: %w", &policy.Violation{Role: policy.RoleResponse}),
			expectedStatus: http.StatusForbidden,
			expectedCode:   types.ErrPolicyViolation,
		},
		{
			name:           "policy service error",
			err:            &policy.AssessError{Kind: policy.KindService, StatusCode: 500},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   types.ErrPolicyUnavailable,
		},
		{
			name:           "breaker open",
			err:            &policy.AssessError{Kind: policy.KindUnavailable},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   types.ErrPolicyUnavailable,
		},
		{
			name:           "decode error",
			err:            &relay.DecodeError{Index: 3, Err: errors.New("bad json")},
			expectedStatus: http.StatusBadGateway,
			expectedCode:   types.ErrStreamDecode,
		},
		{
			name:           "backend 4xx preserved",
			err:            &ollama.APIError{StatusCode: 404, Message: "model not found"},
			expectedStatus: http.StatusNotFound,
			expectedCode:   types.ErrUpstreamError,
		},
		{
			name:           "backend 5xx",
			err:            &ollama.APIError{StatusCode: 503, Message: "loading"},
			expectedStatus: http.StatusBadGateway,
			expectedCode:   types.ErrUpstreamError,
		},
		{
			name:           "backend timeout",
			err:            &url.Error{Op: "Post", URL: "http://backend", Err: context.DeadlineExceeded},
			expectedStatus: http.StatusGatewayTimeout,
			expectedCode:   types.ErrUpstreamTimeout,
		},
		{
			name:           "backend unreachable",
			err:            &url.Error{Op: "Post", URL: "http://backend", Err: errors.New("connection refused")},
			expectedStatus: http.StatusBadGateway,
			expectedCode:   types.ErrUpstreamError,
		},
		{
			name:           "upstream stream error",
			err:            &relay.UpstreamError{Err: errors.New("unexpected EOF")},
			expectedStatus: http.StatusBadGateway,
			expectedCode:   types.ErrUpstreamError,
		},
		{
			name:           "client closed",
			err:            context.Canceled,
			expectedStatus: StatusClientClosedRequest,
			expectedCode:   types.ErrClientClosed,
		},
		{
			name:           "typed error keeps code",
			err:            types.NewError(types.ErrInvalidRequest, "model is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   types.ErrInvalidRequest,
		},
		{
			name:           "unknown",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.ErrInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAPIError(tt.err)
			assert.Equal(t, tt.expectedStatus, got.HTTPStatus)
			assert.Equal(t, tt.expectedCode, got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}

	assert.Nil(t, ToAPIError(nil))
}

func TestToAPIError_DoesNotMutateCallerError(t *testing.T) {
	shared := types.NewError(types.ErrRateLimited, "slow down")

	got := ToAPIError(fmt.Errorf("wrapped: %w", shared))
	assert.Equal(t, http.StatusTooManyRequests, got.HTTPStatus)
	assert.Equal(t, types.ErrRateLimited, got.Code)
	assert.Zero(t, shared.HTTPStatus)
	assert.NotSame(t, shared, got)

	explicit := types.NewError(types.ErrUpstreamError, "bad gateway").WithHTTPStatus(http.StatusNotFound)
	assert.Same(t, explicit, ToAPIError(explicit))
}

func TestWriteError_ViolationBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "abc"))
	w := httptest.NewRecorder()

	WriteError(w, r, &policy.Violation{
		Role:     policy.RoleResponse,
		Category: "dlp",
		Action:   policy.ActionBlock,
		ReportID: "R1",
	}, zap.NewNop())

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{
		"error": "response blocked by content policy",
		"code": "POLICY_VIOLATION",
		"role": "response",
		"category": "dlp",
		"action": "block",
		"request_id": "abc"
	}`, w.Body.String())
}
