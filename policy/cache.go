package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/guardproxy/internal/ctxkeys"
)

// VerdictStore 是 Verdict 缓存的存储接口，internal/cache.Store 满足该接口
type VerdictStore interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CacheConfig Verdict 缓存配置
type CacheConfig struct {
	TTL         time.Duration
	ProfileName string
	// AppUser 请求上下文未携带调用方身份时的默认 app_user
	AppUser   string
	KeyPrefix string
}

// WithCache 缓存 oracle 返回的 Verdict。只缓存成功的评估，
// 错误从不缓存。存储故障时直接调用下游。
// 扫描请求携带 app_user，键按调用方隔离，一个用户的结果不会复用给另一个用户。
func WithCache(store VerdictStore, cfg CacheConfig, logger *zap.Logger) Middleware {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "verdict:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "verdict_cache"))

	return func(next Assessor) Assessor {
		if store == nil {
			return next
		}
		return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
			user := cfg.AppUser
			if u, ok := ctxkeys.AppUser(ctx); ok {
				user = u
			}
			key := cacheKey(cfg.KeyPrefix, cfg.ProfileName, user, f)

			var cached Verdict
			if err := store.GetJSON(ctx, key, &cached); err == nil && cached.Action != "" {
				return cached, nil
			}

			v, err := next.Assess(ctx, f)
			if err != nil {
				return v, err
			}
			if err := store.SetJSON(ctx, key, v, cfg.TTL); err != nil {
				logger.Debug("verdict cache write failed", zap.Error(err))
			}
			return v, nil
		})
	}
}

func cacheKey(prefix, profile, appUser string, f Fragment) string {
	h := sha256.New()
	for _, part := range []string{profile, appUser, string(f.Role), f.Model, f.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}
