package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 存活与就绪
// =============================================================================

// 就绪状态
const (
	StateReady    = "ready"
	StateDegraded = "degraded"
	StateNotReady = "not_ready"
)

// Probe 一个依赖的就绪探测。Optional 的失败只让状态降级，不影响 200
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// ProbeResult 单个探测结果
type ProbeResult struct {
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
	Took     string `json:"took"`
}

// Report /ready 的响应体
type Report struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Probes    map[string]ProbeResult `json:"probes,omitempty"`
}

// HealthHandler 提供 /health、/ready 与 /version
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	probes []Probe
}

// NewHealthHandler 创建处理器，每次 /ready 的探测总时长不超过 5s
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// AddProbe 注册探测
func (h *HealthHandler) AddProbe(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

// HandleHealth 存活探针，进程能响应即 200
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, Report{Status: "alive", Timestamp: time.Now().UTC()})
}

// HandleReady 并发执行所有探测；任一必需探测失败返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := append([]Probe(nil), h.probes...)
	h.mu.RUnlock()

	report := h.run(r.Context(), probes)
	code := http.StatusOK
	if report.Status == StateNotReady {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}

func (h *HealthHandler) run(ctx context.Context, probes []Probe) Report {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]ProbeResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			start := time.Now()
			err := p.Check(ctx)
			results[i] = ProbeResult{OK: err == nil, Optional: p.Optional, Took: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StateReady, Timestamp: time.Now().UTC(), Probes: make(map[string]ProbeResult, len(probes))}
	for i, p := range probes {
		res := results[i]
		report.Probes[p.Name] = res
		if res.OK {
			continue
		}
		h.logger.Warn("readiness probe failed",
			zap.String("probe", p.Name),
			zap.Bool("optional", p.Optional),
			zap.String("error", res.Error),
		)
		switch {
		case !p.Optional:
			report.Status = StateNotReady
		case report.Status == StateReady:
			report.Status = StateDegraded
		}
	}
	return report
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	body := map[string]string{"version": version, "build_time": buildTime, "git_commit": gitCommit}
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, body)
	}
}

// BreakerProbe 熔断器打开时失败。安全扫描不可用时受审核请求全部被拒绝，所以必需
func BreakerProbe(name string, state func() string) Probe {
	return Probe{Name: name, Check: func(context.Context) error {
		if s := state(); s == "open" {
			return fmt.Errorf("circuit breaker is %s", s)
		}
		return nil
	}}
}
