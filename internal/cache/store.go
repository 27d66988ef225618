package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/guardproxy/config"
	"github.com/BaSui01/guardproxy/internal/tlsutil"
)

var (
	// ErrMiss 键不存在或已过期
	ErrMiss = errors.New("cache miss")
	// ErrClosed Store 已关闭
	ErrClosed = errors.New("verdict cache is closed")
)

// Options Redis 连接参数
type Options struct {
	Addr         string
	Password     string
	DB           int
	TLS          bool
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	// SetJSON 的 ttl 为 0 时使用
	DefaultTTL time.Duration
}

// OptionsFrom 从配置构造连接参数
func OptionsFrom(c config.CacheConfig) Options {
	return Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		TLS:          c.TLSEnabled,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DefaultTTL:   c.TTL,
	}
}

// Store 以 JSON 存取 Verdict 的 Redis 客户端，满足 policy.VerdictStore
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	closed atomic.Bool
	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

// Connect 建立连接并 PING 一次，失败时返回错误（调用方可降级为无缓存）
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 10 * time.Minute
	}

	ro := &redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		// 缓存只是优化，失败立即回落到安全扫描
		MaxRetries: 1,
	}
	if opts.TLS {
		ro.TLSConfig = tlsutil.Hardened()
	}
	rdb := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	s := &Store{rdb: rdb, ttl: opts.DefaultTTL, logger: logger.With(zap.String("component", "verdict_cache"))}
	s.logger.Info("verdict cache connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return s, nil
}

// GetJSON 读取并解码 key
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.misses.Add(1)
		return ErrMiss
	case err != nil:
		s.misses.Add(1)
		s.errs.Add(1)
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// 损坏的条目按未命中处理，下一次写入覆盖
		s.misses.Add(1)
		return fmt.Errorf("decode cached value: %w", err)
	}
	s.hits.Add(1)
	return nil
}

// SetJSON 编码 value 并写入，ttl 为 0 时使用 DefaultTTL
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.errs.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping 就绪探测
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭连接池，可重复调用
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	st := s.Stats()
	s.logger.Info("closing verdict cache",
		zap.Uint64("hits", st.Hits),
		zap.Uint64("misses", st.Misses),
		zap.Uint64("errors", st.Errors),
	)
	return s.rdb.Close()
}

// Stats 进程内累计计数
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// HitRate 命中率，无查询时为 0
func (s Stats) HitRate() float64 {
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}

// Stats 返回当前计数
func (s *Store) Stats() Stats {
	return Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Errors: s.errs.Load()}
}
