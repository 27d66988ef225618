package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"github.com/BaSui01/guardproxy/internal/tlsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	scanPath       = "/v1/scan/sync/request"
	tokenHeader    = "x-pan-token"
	maxErrorBody   = 4 << 10
	defaultTimeout = 10 * time.Second
)

// Assessor 评估单个 Fragment。实现必须可并发使用。
type Assessor interface {
	Assess(ctx context.Context, f Fragment) (Verdict, error)
}

// AssessorFunc 将函数适配为 Assessor
type AssessorFunc func(ctx context.Context, f Fragment) (Verdict, error)

// Assess implements Assessor.
func (fn AssessorFunc) Assess(ctx context.Context, f Fragment) (Verdict, error) {
	return fn(ctx, f)
}

// ClientConfig 安全扫描服务客户端配置
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	ProfileName string
	AppName     string
	AppUser     string
	Timeout     time.Duration
}

// HTTPClient 调用同步扫描接口。自身从不重试。
type HTTPClient struct {
	cfg    ClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient 创建安全扫描客户端
func NewHTTPClient(cfg ClientConfig, logger *zap.Logger) *HTTPClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		cfg:    cfg,
		client: tlsutil.Client(cfg.Timeout),
		logger: logger.With(zap.String("component", "policy_client")),
	}
}

// ProfileName 返回配置的 AI profile 名称
func (c *HTTPClient) ProfileName() string { return c.cfg.ProfileName }

// Assess implements Assessor.
func (c *HTTPClient) Assess(ctx context.Context, f Fragment) (Verdict, error) {
	content, err := c.content(f)
	if err != nil {
		return Verdict{}, err
	}

	appUser := c.cfg.AppUser
	if u, ok := ctxkeys.AppUser(ctx); ok {
		appUser = u
	}

	body := scanRequest{
		TrID:      uuid.NewString(),
		AIProfile: aiProfile{ProfileName: c.cfg.ProfileName},
		Metadata: scanMetadata{
			AppName: c.cfg.AppName,
			AppUser: appUser,
			AIModel: f.Model,
		},
		Contents: []scanContent{content},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Verdict{}, &AssessError{Kind: KindInvalid, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+scanPath, bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, &AssessError{Kind: KindInvalid, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(tokenHeader, c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, &AssessError{Kind: KindConnectivity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("scan request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("tr_id", body.TrID),
			zap.String("body", string(errBody)),
		)
		return Verdict{}, &AssessError{
			Kind:       KindService,
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	var sr scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Verdict{}, &AssessError{Kind: KindDecode, Err: err}
	}
	if sr.Action == "" || sr.Category == "" {
		return Verdict{}, &AssessError{Kind: KindDecode, Err: errors.New("scan response missing category or action")}
	}

	trID := sr.TrID
	if trID == "" {
		trID = body.TrID
	}
	return Verdict{
		Category:      sr.Category,
		Action:        Action(sr.Action),
		ReportID:      sr.ReportID,
		ScanID:        sr.ScanID,
		TransactionID: trID,
		Findings:      sr.findings(),
	}, nil
}

func (c *HTTPClient) content(f Fragment) (scanContent, error) {
	text := f.Text
	switch f.Role {
	case RolePrompt:
		return scanContent{Prompt: &text}, nil
	case RoleResponse:
		return scanContent{Response: &text}, nil
	default:
		c.logger.DPanic("fragment with unknown role", zap.String("role", string(f.Role)))
		return scanContent{}, &AssessError{Kind: KindInvalid, Err: fmt.Errorf("unknown fragment role %q", f.Role)}
	}
}
