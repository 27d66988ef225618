// Package ollama 是生成后端（Ollama）的 HTTP 客户端。
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/guardproxy/internal/tlsutil"
	"github.com/BaSui01/guardproxy/relay"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// Config 后端客户端配置
type Config struct {
	BaseURL string
	// RequestTimeout 非流式请求的总超时
	RequestTimeout time.Duration
	// ConnectTimeout 建立连接的超时
	ConnectTimeout time.Duration
	// MaxLineBytes 流式响应单行的最大长度
	MaxLineBytes int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:11434",
		RequestTimeout: 5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
		MaxLineBytes:   4 << 20,
	}
}

// Recorder 记录后端调用
type Recorder interface {
	RecordBackendRequest(path string, status int, duration time.Duration)
}

// APIError 表示后端返回了非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Client 是后端 HTTP 客户端，可并发使用
type Client struct {
	cfg      Config
	http     *http.Client
	logger   *zap.Logger
	recorder Recorder
}

// NewClient 创建后端客户端。rec 可以为 nil。
func NewClient(cfg Config, logger *zap.Logger, rec Recorder) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = def.MaxLineBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: tlsutil.Transport(cfg.ConnectTimeout)},
		logger:   logger.With(zap.String("component", "ollama_client")),
		recorder: rec,
	}
}

// BaseURL 返回后端地址
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Forward POST body 到 path 并返回完整响应体
func (c *Client) Forward(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.roundTrip(ctx, http.MethodPost, path, body)
}

// Get 请求 path 并返回完整响应体
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.roundTrip(ctx, http.MethodGet, path, nil)
}

// Ping 检查后端可达
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Get(ctx, "/api/version")
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	return data, nil
}

// Stream POST body 到 path，返回按 NDJSON 行切分的 Source。
// 流的生命周期绑定 ctx；Close 释放连接。
func (c *Client) Stream(ctx context.Context, path string, body []byte) (relay.Source, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return newLineSource(resp.Body, c.cfg.MaxLineBytes), nil
}

// Passthrough 原样转发请求并返回后端响应，调用方负责关闭 Body。
// 非 2xx 响应同样返回，不转换为 APIError。
func (c *Client) Passthrough(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(path, 0, start)
		return nil, err
	}
	c.record(path, resp.StatusCode, start)
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.Passthrough(ctx, method, path, body)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		c.logger.Info("backend returned error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) record(path string, status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.RecordBackendRequest(path, status, time.Since(start))
	}
}

// readErrorMessage 读取 {"error": "..."}，否则返回原始文本
func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return http.StatusText(http.StatusBadGateway)
	}
	return msg
}

// IsTimeout 判断后端错误是否为超时
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
