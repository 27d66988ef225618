package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/BaSui01/guardproxy/api"
	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"github.com/BaSui01/guardproxy/ollama"
	"github.com/BaSui01/guardproxy/policy"
	"github.com/BaSui01/guardproxy/relay"
	"github.com/BaSui01/guardproxy/types"
	"go.uber.org/zap"
)

// StatusClientClosedRequest 客户端在响应完成前断开（非标准状态码，仅用于日志与指标）
const StatusClientClosedRequest = types.StatusClientClosed

// =============================================================================
// 🔄 领域错误 → types.Error
// =============================================================================

// ToAPIError 将领域错误转换为带 HTTP 状态码的 *types.Error
func ToAPIError(err error) *types.Error {
	if err == nil {
		return nil
	}

	var te *types.Error
	if errors.As(err, &te) {
		if te.HTTPStatus != 0 {
			return te
		}
		// 调用方的错误可能被共享，补状态码时写副本
		out := *te
		out.HTTPStatus = te.Status()
		return &out
	}

	var violation *policy.Violation
	if errors.As(err, &violation) {
		msg := "prompt blocked by content policy"
		if violation.Role == policy.RoleResponse {
			msg = "response blocked by content policy"
		}
		return types.NewError(types.ErrPolicyViolation, msg).
			WithCause(err).
			WithHTTPStatus(http.StatusForbidden)
	}

	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrClientClosed, "client closed request").
			WithCause(err).
			WithHTTPStatus(StatusClientClosedRequest)
	}

	var assessErr *policy.AssessError
	if errors.As(err, &assessErr) {
		return types.NewError(types.ErrPolicyUnavailable, "content policy service unavailable").
			WithCause(err).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}

	var decodeErr *relay.DecodeError
	if errors.As(err, &decodeErr) {
		return types.NewError(types.ErrStreamDecode, "backend returned an undecodable response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}

	var backendErr *ollama.APIError
	if errors.As(err, &backendErr) {
		status := backendErr.StatusCode
		if status < 400 || status > 499 {
			status = http.StatusBadGateway
		}
		return types.NewError(types.ErrUpstreamError, backendErr.Message).
			WithCause(err).
			WithHTTPStatus(status).
			WithRetryable(status >= 500)
	}

	if ollama.IsTimeout(err) {
		return types.NewError(types.ErrUpstreamTimeout, "backend timed out").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true)
	}

	var upstreamErr *relay.UpstreamError
	var urlErr *url.Error
	if errors.As(err, &upstreamErr) || errors.As(err, &urlErr) {
		return types.NewError(types.ErrUpstreamError, "backend unavailable").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}

	return types.NewError(types.ErrInternalError, "internal error").
		WithCause(err).
		WithHTTPStatus(http.StatusInternalServerError)
}

// =============================================================================
// 📤 错误响应
// =============================================================================

// ErrorBody 构造 Ollama 兼容的错误响应体，违规时附带 role/category/action。
// 被拒绝的文本从不出现在响应中。
func ErrorBody(r *http.Request, err error) (int, api.ErrorResponse) {
	apiErr := ToAPIError(err)
	body := api.ErrorResponse{
		Error: apiErr.Message,
		Code:  string(apiErr.Code),
	}
	if r != nil {
		body.RequestID, _ = ctxkeys.RequestID(r.Context())
	}

	var violation *policy.Violation
	if errors.As(err, &violation) {
		body.Role = string(violation.Role)
		body.Category = violation.Category
		body.Action = string(violation.Action)
	}
	return apiErr.HTTPStatus, body
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status, body := ErrorBody(r, err)
	logError(logger, status, body, err)
	WriteJSON(w, status, body)
}

func logError(logger *zap.Logger, status int, body api.ErrorResponse, err error) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("code", body.Code),
		zap.Int("status", status),
		zap.String("request_id", body.RequestID),
	}
	switch {
	case status >= 500:
		logger.Error("API error", append(fields, zap.Error(err))...)
	case body.Code == string(types.ErrPolicyViolation):
		// 违规已由 Enforcer 记录
		logger.Debug("API error", fields...)
	default:
		logger.Info("API error", append(fields, zap.Error(err))...)
	}
}
