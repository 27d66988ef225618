package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/guardproxy/api/handlers"
	"github.com/BaSui01/guardproxy/config"
	"github.com/BaSui01/guardproxy/gateway"
	"github.com/BaSui01/guardproxy/internal/audit"
	"github.com/BaSui01/guardproxy/internal/cache"
	"github.com/BaSui01/guardproxy/internal/circuitbreaker"
	"github.com/BaSui01/guardproxy/internal/database"
	"github.com/BaSui01/guardproxy/internal/metrics"
	"github.com/BaSui01/guardproxy/internal/retry"
	"github.com/BaSui01/guardproxy/internal/server"
	"github.com/BaSui01/guardproxy/internal/telemetry"
	"github.com/BaSui01/guardproxy/ollama"
	"github.com/BaSui01/guardproxy/policy"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 GuardProxy 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 指标命名空间，测试中用于隔离默认 registry
	metricsNamespace string

	// 服务器管理器
	proxyEndpoint   *server.Endpoint
	metricsEndpoint *server.Endpoint

	// 依赖
	telemetry *telemetry.Providers
	collector *metrics.Collector
	backend   *ollama.Client
	cache     *cache.Store
	store     *database.Store
	recorder  *audit.GormRecorder
	breaker   *circuitbreaker.Breaker

	handler http.Handler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:              cfg,
		logger:           logger,
		metricsNamespace: "guardproxy",
		telemetry:        otelProviders,
	}
}

// 无需认证的路径
var publicPaths = []string{"/", "/health", "/healthz", "/ready", "/version", "/metrics"}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并启动所有监听
func (s *Server) Start() error {
	if err := s.build(); err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.String("addr", s.proxyEndpoint.BoundAddr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("ollama", s.cfg.Ollama.BaseURL),
		zap.String("decision_mode", s.cfg.Security.DecisionMode),
	)
	return nil
}

// build 构造依赖图与路由，不监听端口
func (s *Server) build() error {
	s.collector = metrics.NewCollector(s.metricsNamespace, s.logger)

	s.backend = ollama.NewClient(ollama.Config{
		BaseURL:        s.cfg.Ollama.BaseURL,
		RequestTimeout: s.cfg.Ollama.RequestTimeout,
		ConnectTimeout: s.cfg.Ollama.ConnectTimeout,
		MaxLineBytes:   s.cfg.Ollama.MaxLineBytes,
	}, s.logger, s.collector)

	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}
	if err := s.initAudit(); err != nil {
		return fmt.Errorf("failed to init audit store: %w", err)
	}

	enforcer, err := s.initEnforcer()
	if err != nil {
		return fmt.Errorf("failed to init policy enforcer: %w", err)
	}

	orch := gateway.New(s.backend, enforcer, gateway.Config{
		PrefetchDepth:     s.cfg.Relay.PrefetchDepth,
		PromptConcurrency: s.cfg.Gateway.PromptConcurrency,
	}, s.logger, gateway.WithRelayRecorder(s.collector))

	s.handler = s.routes(orch)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initCache 连接 Redis。缓存只是优化，连接失败时降级为不缓存。
func (s *Server) initCache() error {
	if !s.cfg.Cache.Enabled {
		return nil
	}
	m, err := cache.Connect(context.Background(), cache.OptionsFrom(s.cfg.Cache), s.logger)
	if err != nil {
		s.logger.Warn("Verdict cache unavailable, continuing without cache", zap.Error(err))
		return nil
	}
	s.cache = m
	s.collector.RegisterCacheStats(func() (uint64, uint64) {
		st := m.Stats()
		return st.Hits, st.Misses
	})
	return nil
}

// initAudit 打开审计数据库。显式启用审计时连接失败即启动失败。
func (s *Server) initAudit() error {
	if !s.cfg.Audit.Enabled {
		return nil
	}
	store, err := database.Connect(s.cfg.Database, s.logger, database.WithProbeInterval(30*time.Second))
	if err != nil {
		return err
	}
	if s.cfg.Audit.AutoMigrate {
		if err := audit.Migrate(store.DB()); err != nil {
			_ = store.Close()
			return err
		}
	}

	s.store = store
	s.recorder = audit.NewGormRecorder(store.DB(), s.cfg.Audit.WriteTimeout, s.logger)
	s.collector.RegisterDBStats(store.Driver(), store.Stats)
	return nil
}

// initEnforcer 构造评估链：Cache → Metrics → Tracing → Limit → Breaker → Retry → HTTPClient
func (s *Server) initEnforcer() (*policy.Enforcer, error) {
	sec := s.cfg.Security
	mode, err := policy.ParseMode(sec.DecisionMode)
	if err != nil {
		return nil, err
	}

	client := policy.NewHTTPClient(policy.ClientConfig{
		BaseURL:     sec.BaseURL,
		APIKey:      sec.APIKey,
		ProfileName: sec.ProfileName,
		AppName:     sec.AppName,
		AppUser:     sec.AppUser,
		Timeout:     sec.Timeout,
	}, s.logger)

	var chain []policy.Middleware
	if s.cache != nil {
		chain = append(chain, policy.WithCache(s.cache, policy.CacheConfig{
			TTL:         s.cfg.Cache.TTL,
			ProfileName: client.ProfileName(),
			AppUser:     s.cfg.Security.AppUser,
			KeyPrefix:   s.cfg.Cache.KeyPrefix,
		}, s.logger))
	}
	chain = append(chain,
		policy.WithMetrics(s.collector),
		policy.WithTracing(s.telemetry.Tracer("guardproxy/policy")),
		policy.WithLimit(int64(sec.MaxConcurrent)),
	)

	if sec.Breaker.Enabled {
		s.breaker = circuitbreaker.New(&circuitbreaker.Config{
			Threshold:        sec.Breaker.Threshold,
			ResetTimeout:     sec.Breaker.ResetTimeout,
			HalfOpenMaxCalls: sec.Breaker.HalfOpenMaxCalls,
			IsFailure:        policy.BreakerFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				s.collector.RecordBreakerState(int(to))
			},
		}, s.logger)
		chain = append(chain, policy.WithBreaker(s.breaker))
	}

	if sec.MaxRetries > 0 {
		r := retry.New(&retry.Policy{
			MaxRetries:   sec.MaxRetries,
			InitialDelay: sec.RetryInitialDelay,
			MaxDelay:     sec.RetryMaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
			Retryable:    policy.IsTemporary,
		}, s.logger)
		chain = append(chain, policy.WithRetry(r))
	}

	opts := []policy.EnforcerOption{policy.WithObserver(s.collector)}
	if s.recorder != nil {
		opts = append(opts, policy.WithObserver(s.recorder))
	}

	s.logger.Info("Policy enforcer initialized",
		zap.String("mode", string(mode)),
		zap.String("profile", sec.ProfileName),
		zap.Bool("cache", s.cache != nil),
		zap.Bool("breaker", s.breaker != nil),
		zap.Int("max_retries", sec.MaxRetries),
		zap.Bool("audit", s.recorder != nil),
	)
	return policy.NewEnforcer(policy.Chain(client, chain...), mode, s.logger, opts...), nil
}

// =============================================================================
// 🌐 路由
// =============================================================================

// routes 注册所有端点并套上中间件链
func (s *Server) routes(orch handlers.Orchestrator) http.Handler {
	mux := http.NewServeMux()
	known := []string{"/", "/health", "/healthz", "/ready", "/version"}

	// 健康检查
	health := handlers.NewHealthHandler(s.logger)
	health.AddProbe(handlers.Probe{Name: "ollama", Check: s.backend.Ping})
	if s.cache != nil {
		// 缓存失效只多一次安全扫描
		health.AddProbe(handlers.Probe{Name: "redis", Check: s.cache.Ping, Optional: true})
	}
	if s.store != nil {
		health.AddProbe(handlers.Probe{Name: "database", Check: s.store.Ping, Optional: true})
	}
	if s.breaker != nil {
		health.AddProbe(handlers.BreakerProbe("policy_breaker", func() string {
			return s.breaker.State().String()
		}))
	}
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	// Ollama 客户端用 GET / 探测服务
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Ollama is running"))
	})

	// 受审核端点
	proxy := handlers.NewProxyHandler(orch, s.logger)
	mux.HandleFunc("POST "+gateway.PathGenerate, proxy.HandleGenerate)
	mux.HandleFunc("POST "+gateway.PathChat, proxy.HandleChat)
	mux.HandleFunc("POST "+gateway.PathEmbeddings, proxy.HandleEmbeddings)
	known = append(known, gateway.PathGenerate, gateway.PathChat, gateway.PathEmbeddings)

	// 模型管理透传
	passthrough := handlers.NewPassthroughHandler(s.backend, s.logger)
	for path, method := range handlers.PassthroughPaths {
		mux.Handle(method+" "+path, passthrough)
		known = append(known, path)
	}

	authEnabled := len(s.cfg.Server.APIKeys) > 0 || s.cfg.Server.JWT.Enabled()

	// 审计查询，需要认证
	if s.recorder != nil {
		if authEnabled {
			mux.HandleFunc("GET /admin/violations", handlers.NewAuditHandler(s.recorder, s.logger).HandleList)
			known = append(known, "/admin/violations")
		} else {
			s.logger.Warn("audit query endpoint disabled: no api_keys or jwt configured")
		}
	}

	// 未配置独立 metrics 端口时挂在主端口
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
		known = append(known, "/metrics")
	}

	// 中间件链
	var (
		rateLimit Middleware
		auth      Middleware
	)
	if s.cfg.Server.RateLimitRPS > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		rateLimit = RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger)
	}
	switch {
	case s.cfg.Server.JWT.Enabled():
		auth = JWTAuth(s.cfg.Server.JWT, publicPaths, s.logger)
	case len(s.cfg.Server.APIKeys) > 0:
		auth = APIKeyAuth(s.cfg.Server.APIKeys, publicPaths, s.cfg.Server.AllowQueryAPIKey, s.logger)
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector, known),
		OTelTracing(s.telemetry.Tracer("guardproxy/http")),
		rateLimit,
		auth,
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	sc := s.cfg.Server
	opts := server.DefaultOptions()
	opts.Addr = sc.Addr()
	opts.ReadTimeout = sc.ReadTimeout
	opts.WriteTimeout = sc.WriteTimeout
	opts.IdleTimeout = sc.IdleTimeout
	opts.DrainTimeout = sc.ShutdownTimeout
	opts.CertFile, opts.KeyFile = sc.TLSCertFile, sc.TLSKeyFile

	s.proxyEndpoint = server.New("proxy", s.handler, opts, s.logger)
	return s.proxyEndpoint.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsEndpoint = server.New("metrics", mux, server.Options{
		Addr:              s.cfg.Server.MetricsAddr(),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		DrainTimeout:      s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsEndpoint.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.proxyEndpoint != nil {
		server.AwaitStop(context.Background(), s.logger, s.proxyEndpoint, s.metricsEndpoint)
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务：先停止接收请求，再释放下游连接
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()
	var errs []error

	if s.proxyEndpoint != nil {
		if err := s.proxyEndpoint.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.metricsEndpoint != nil {
		if err := s.metricsEndpoint.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.telemetry != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.telemetry.Shutdown(tctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		cancel()
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
