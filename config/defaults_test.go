package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, OllamaConfig{}, cfg.Ollama)
	assert.NotEqual(t, GatewayConfig{}, cfg.Gateway)
	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, AuditConfig{}, cfg.Audit)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 11435, cfg.Port)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Zero(t, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.AllowQueryAPIKey)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Empty(t, cfg.APIKeys)
	assert.Empty(t, cfg.JWT.Secret)
}

func TestDefaultOllamaConfig(t *testing.T) {
	cfg := DefaultOllamaConfig()
	assert.Equal(t, "http://localhost:11434", cfg.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 4<<20, cfg.MaxLineBytes)
}

func TestDefaultSecurityConfig(t *testing.T) {
	cfg := DefaultSecurityConfig()
	assert.Empty(t, cfg.BaseURL, "credentials have no default")
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "strict", cfg.DecisionMode)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 32, cfg.MaxConcurrent)
	assert.Zero(t, cfg.MaxRetries)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
}

func TestDefaultRelayAndGatewayConfig(t *testing.T) {
	assert.Zero(t, DefaultRelayConfig().PrefetchDepth)
	assert.Equal(t, 4, DefaultGatewayConfig().PromptConcurrency)
}

func TestDefaultCacheConfig(t *testing.T) {
	cfg := DefaultCacheConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "guardproxy:verdict:", cfg.KeyPrefix)
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.Equal(t, 10, cfg.PoolSize)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Empty(t, cfg.Driver, "no database unless configured")
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "guardproxy", cfg.Name)
	assert.Equal(t, 20, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.True(t, cfg.AutoMigrate)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "guardproxy", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
