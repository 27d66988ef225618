// =============================================================================
// 📦 GuardProxy 默认配置
// =============================================================================
// 提供所有配置项的合理默认值。安全扫描凭据没有默认值，必须显式配置。
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Ollama:    DefaultOllamaConfig(),
		Security:  DefaultSecurityConfig(),
		Relay:     DefaultRelayConfig(),
		Gateway:   DefaultGatewayConfig(),
		Cache:     DefaultCacheConfig(),
		Database:  DefaultDatabaseConfig(),
		Audit:     DefaultAuditConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            11435,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    0,
		RateLimitBurst:  20,
	}
}

// DefaultOllamaConfig 返回默认后端配置
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:        "http://localhost:11434",
		RequestTimeout: 5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
		MaxLineBytes:   4 << 20,
	}
}

// DefaultSecurityConfig 返回默认安全扫描配置
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		Timeout:           10 * time.Second,
		DecisionMode:      "strict",
		MaxConcurrent:     32,
		MaxRetries:        0,
		RetryInitialDelay: 200 * time.Millisecond,
		RetryMaxDelay:     2 * time.Second,
		Breaker: BreakerConfig{
			Enabled:          true,
			Threshold:        5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// DefaultRelayConfig 返回默认流式转发配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{PrefetchDepth: 0}
}

// DefaultGatewayConfig 返回默认编排配置
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{PromptConcurrency: 4}
}

// DefaultCacheConfig 返回默认 Redis 配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		KeyPrefix:    "guardproxy:verdict:",
		TTL:          10 * time.Minute,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置。Driver 为空：默认不连接数据库。
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "guardproxy",
		Name:            "guardproxy",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:      false,
		WriteTimeout: 3 * time.Second,
		AutoMigrate:  true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "guardproxy",
		SampleRate:   0.1,
	}
}
