package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/guardproxy/policy"
)

// =============================================================================
// 🦙 FakeBackend：Ollama 兼容的假后端
// =============================================================================

// RecordedRequest 记录一次后端请求
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

type cannedResponse struct {
	status int
	body   string
}

// FakeBackend 基于 httptest 的 Ollama 兼容后端。
// 请求体中 stream 未设置或为 true 且配置了流时输出 NDJSON，否则返回单个响应。
type FakeBackend struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []RecordedRequest
	streams   map[string][]string
	responses map[string]cannedResponse
}

// NewFakeBackend 创建并启动假后端，测试结束时自动关闭
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	b := &FakeBackend{
		streams:   make(map[string][]string),
		responses: make(map[string]cannedResponse),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

// WithStream 设置 path 的流式输出行
func (b *FakeBackend) WithStream(path string, lines ...string) *FakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[path] = lines
	return b
}

// WithResponse 设置 path 的单个响应
func (b *FakeBackend) WithResponse(path string, status int, body string) *FakeBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[path] = cannedResponse{status: status, body: body}
	return b
}

// Requests 返回收到的全部请求
func (b *FakeBackend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// RequestCount 返回 path 收到的请求数
func (b *FakeBackend) RequestCount(path string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (b *FakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.requests = append(b.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	lines, hasStream := b.streams[r.URL.Path]
	canned, hasResponse := b.responses[r.URL.Path]
	b.mu.Unlock()

	if hasStream && wantsStream(body) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		return
	}

	if hasResponse {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(canned.status)
		_, _ = io.WriteString(w, canned.body)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `{"error":"not found"}`)
}

func wantsStream(body []byte) bool {
	var req struct {
		Stream *bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	return req.Stream == nil || *req.Stream
}

// =============================================================================
// 🛡️ FakeOracle：安全扫描服务
// =============================================================================

// ScanRecord 记录一次扫描请求的关键字段
type ScanRecord struct {
	APIKey      string
	ProfileName string
	AppName     string
	AppUser     string
	Model       string
	Prompt      string
	Response    string
}

// FakeOracle 基于 httptest 的同步扫描服务。按文本匹配 Verdict，默认 benign/allow。
type FakeOracle struct {
	*httptest.Server

	mu       sync.Mutex
	verdicts map[string]policy.Verdict
	status   int
	scans    []ScanRecord
	seq      atomic.Int64
}

// NewFakeOracle 创建并启动假扫描服务，测试结束时自动关闭
func NewFakeOracle(t *testing.T) *FakeOracle {
	t.Helper()
	o := &FakeOracle{
		verdicts: make(map[string]policy.Verdict),
		status:   http.StatusOK,
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Server.Close)
	return o
}

// WithVerdict 设置文本对应的 Verdict
func (o *FakeOracle) WithVerdict(text string, v policy.Verdict) *FakeOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts[text] = v
	return o
}

// WithStatus 让所有扫描返回指定状态码（用于模拟服务故障）
func (o *FakeOracle) WithStatus(status int) *FakeOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
	return o
}

// Scans 返回收到的全部扫描请求
func (o *FakeOracle) Scans() []ScanRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScanRecord, len(o.scans))
	copy(out, o.scans)
	return out
}

func (o *FakeOracle) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/scan/sync/request" {
		http.NotFound(w, r)
		return
	}

	var req struct {
		TrID      string `json:"tr_id"`
		AIProfile struct {
			ProfileName string `json:"profile_name"`
		} `json:"ai_profile"`
		Metadata struct {
			AppName string `json:"app_name"`
			AppUser string `json:"app_user"`
			AIModel string `json:"ai_model"`
		} `json:"metadata"`
		Contents []struct {
			Prompt   string `json:"prompt"`
			Response string `json:"response"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Contents) != 1 {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	rec := ScanRecord{
		APIKey:      r.Header.Get("x-pan-token"),
		ProfileName: req.AIProfile.ProfileName,
		AppName:     req.Metadata.AppName,
		AppUser:     req.Metadata.AppUser,
		Model:       req.Metadata.AIModel,
		Prompt:      req.Contents[0].Prompt,
		Response:    req.Contents[0].Response,
	}
	text := rec.Prompt
	if text == "" {
		text = rec.Response
	}

	o.mu.Lock()
	o.scans = append(o.scans, rec)
	status := o.status
	v, ok := o.verdicts[text]
	o.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "scan service failure", status)
		return
	}
	if !ok {
		v = policy.Verdict{Category: policy.CategoryBenign, Action: policy.ActionAllow}
	}

	n := o.seq.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"report_id":    fmt.Sprintf("R%08d", n),
		"scan_id":      fmt.Sprintf("scan-%d", n),
		"tr_id":        req.TrID,
		"profile_name": req.AIProfile.ProfileName,
		"category":     v.Category,
		"action":       v.Action,
	})
}
