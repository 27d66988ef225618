package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	appUserKey   contextKey = "app_user"
	modelKey     contextKey = "model"
)

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAppUser 设置调用方身份（覆盖安全扫描请求中的 app_user）
func WithAppUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, appUserKey, user)
}

// AppUser 获取调用方身份
func AppUser(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(appUserKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithModel 设置当前请求的模型名
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// Model 获取当前请求的模型名
func Model(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(modelKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
