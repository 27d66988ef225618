// =============================================================================
// 📦 GuardProxy 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GUARDPROXY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 GuardProxy 的完整配置结构
type Config struct {
	// Server 代理监听配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Ollama 后端配置
	Ollama OllamaConfig `yaml:"ollama" env:"OLLAMA"`

	// Security 安全扫描服务配置
	Security SecurityConfig `yaml:"security" env:"SECURITY"`

	// Relay 流式转发配置
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Gateway 请求编排配置
	Gateway GatewayConfig `yaml:"gateway" env:"GATEWAY"`

	// Cache Verdict 缓存（Redis）
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Database 审计数据库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Audit 审计记录
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// 监听主机
	Host string `yaml:"host" env:"HOST"`
	// HTTP 端口
	Port int `yaml:"port" env:"PORT"`
	// Metrics 端口，0 表示不启动独立的 metrics 监听
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时；0 表示不限（流式响应）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// TLS 证书
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 每个客户端 IP 的限流，RPS <= 0 表示关闭
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 客户端 API Key，为空表示不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许 ?api_key= 查询参数
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 认证配置（HS256 / RS256），Secret 与 PublicKey 都为空时不启用
type JWTConfig struct {
	// HS256 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的 iss，为空不校验
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的 aud，为空不校验
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// OllamaConfig 后端配置
type OllamaConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 非流式请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 建连超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// 流式响应单行最大字节数
	MaxLineBytes int `yaml:"max_line_bytes" env:"MAX_LINE_BYTES"`
}

// SecurityConfig 安全扫描服务配置
type SecurityConfig struct {
	// 扫描服务基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// x-pan-token
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// AI Profile
	ProfileName string `yaml:"profile_name" env:"PROFILE_NAME"`
	AppName     string `yaml:"app_name" env:"APP_NAME"`
	AppUser     string `yaml:"app_user" env:"APP_USER"`
	// 单次扫描超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 裁决模式: strict, action_only
	DecisionMode string `yaml:"decision_mode" env:"DECISION_MODE"`
	// 同时进行的扫描上限
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	// 最大重试延迟
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	// 熔断
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连续失败次数阈值
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
	// Open -> HalfOpen 等待时间
	ResetTimeout time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	// 半开状态允许的试探数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// RelayConfig 流式转发配置
type RelayConfig struct {
	// 预读深度，0 表示不预读
	PrefetchDepth int `yaml:"prefetch_depth" env:"PREFETCH_DEPTH"`
}

// GatewayConfig 编排配置
type GatewayConfig struct {
	// 多条 prompt 并发评估的上限
	PromptConcurrency int `yaml:"prompt_concurrency" env:"PROMPT_CONCURRENCY"`
}

// CacheConfig Redis Verdict 缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// Verdict 缓存时长
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空表示不连接数据库
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 连接最大空闲时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// AuditConfig 审计配置，依赖 Database
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 单条记录写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 启动时用 GORM AutoMigrate 建表；关闭后需先执行 guardproxy migrate up
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 使用明文 gRPC 连接 collector
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 部署环境
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GUARDPROXY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量 → 校验器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	stages := []struct {
		name string
		run  func(*Config) error
	}{
		{"file", l.overlayFile},
		{"env", l.overlayEnv},
		{"validation", l.runValidators},
	}
	for _, st := range stages {
		if err := st.run(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", st.name, err)
		}
	}
	return cfg, nil
}

// overlayFile 用 YAML 覆盖默认值。未指定路径时跳过，显式指定的文件必须存在。
func (l *Loader) overlayFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	raw, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) runValidators(cfg *Config) error {
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

// envBinding 一个可由环境变量覆盖的叶子字段
type envBinding struct {
	key   string
	field reflect.Value
}

// overlayEnv 按 PREFIX_SECTION_FIELD 覆盖叶子字段，空值视为未设置
func (l *Loader) overlayEnv(cfg *Config) error {
	for _, b := range envBindings(reflect.ValueOf(cfg).Elem(), l.envPrefix, nil) {
		raw, ok := os.LookupEnv(b.key)
		if !ok || raw == "" {
			continue
		}
		if err := decodeEnv(b.field, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", b.key, raw, err)
		}
	}
	return nil
}

// envBindings 展开带 env 标签的字段；嵌套结构体继续向下展开
func envBindings(v reflect.Value, prefix string, out []envBinding) []envBinding {
	for i := 0; i < v.NumField(); i++ {
		tag := v.Type().Field(i).Tag.Get("env")
		f := v.Field(i)
		if tag == "" || tag == "-" || !f.CanSet() {
			continue
		}
		key := prefix + "_" + tag
		if f.Kind() == reflect.Struct {
			out = envBindings(f, key, out)
			continue
		}
		out = append(out, envBinding{key: key, field: f})
	}
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeEnv 把字符串写入字段。[]string 按逗号切分并丢弃空项；不支持的类型忽略。
func decodeEnv(f reflect.Value, raw string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err == nil {
			f.SetInt(int64(d))
		}
		return err
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Float32, reflect.Float64:
		x, err := strconv.ParseFloat(raw, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetFloat(x)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return nil
		}
		items := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' })
		vals := items[:0]
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				vals = append(vals, it)
			}
		}
		f.Set(reflect.ValueOf(vals))
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// 与最初的 YAML 配置兼容的校验信息
var (
	ErrServerHost      = errors.New("Server host cannot be empty")
	ErrOllamaBaseURL   = errors.New("Ollama base URL cannot be empty")
	ErrSecurityCreds   = errors.New("Security credentials missing")
	ErrAIProfileFields = errors.New("AI Profile settings missing")
)

// Validate 验证配置，返回所有问题的合并错误
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, ErrServerHost)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("invalid server port"))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("invalid metrics port"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}

	if strings.TrimSpace(c.Ollama.BaseURL) == "" {
		errs = append(errs, ErrOllamaBaseURL)
	}

	if c.Security.BaseURL == "" || c.Security.APIKey == "" {
		errs = append(errs, ErrSecurityCreds)
	}
	if c.Security.ProfileName == "" || c.Security.AppName == "" || c.Security.AppUser == "" {
		errs = append(errs, ErrAIProfileFields)
	}
	switch c.Security.DecisionMode {
	case "strict", "action_only":
	default:
		errs = append(errs, fmt.Errorf("invalid decision_mode %q (supported: strict, action_only)", c.Security.DecisionMode))
	}
	if c.Security.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("security.max_concurrent must be positive"))
	}
	if c.Security.MaxRetries < 0 {
		errs = append(errs, errors.New("security.max_retries must not be negative"))
	}
	if c.Security.Breaker.Enabled && c.Security.Breaker.Threshold <= 0 {
		errs = append(errs, errors.New("security.breaker.threshold must be positive"))
	}

	if c.Relay.PrefetchDepth < 0 {
		errs = append(errs, errors.New("relay.prefetch_depth must not be negative"))
	}
	if c.Gateway.PromptConcurrency <= 0 {
		errs = append(errs, errors.New("gateway.prompt_concurrency must be positive"))
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, errors.New("cache.addr is required when cache is enabled"))
	}

	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q (supported: postgres, mysql, sqlite)", c.Database.Driver))
	}
	if c.Audit.Enabled && c.Database.Driver == "" {
		errs = append(errs, errors.New("audit requires database.driver"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Enabled 是否配置了任一验签密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// Addr 返回代理监听地址
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MetricsAddr 返回 metrics 监听地址，与主服务共用 host
func (s ServerConfig) MetricsAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.MetricsPort))
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
