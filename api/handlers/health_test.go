package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func pass(name string) Probe {
	return Probe{Name: name, Check: func(context.Context) error { return nil }}
}

func fail(name, msg string, optional bool) Probe {
	return Probe{Name: name, Optional: optional, Check: func(context.Context) error { return errors.New(msg) }}
}

func ready(t *testing.T, h *HealthHandler) (int, Report) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var rep Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
	return w.Code, rep
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(nil)
	h.AddProbe(fail("ollama", "down", false))

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	// 存活探针不跑依赖探测
	assert.Equal(t, http.StatusOK, w.Code)
	var rep Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
	assert.Equal(t, "alive", rep.Status)
	assert.Empty(t, rep.Probes)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name     string
		probes   []Probe
		wantCode int
		want     string
	}{
		{"no probes", nil, http.StatusOK, StateReady},
		{"all passing", []Probe{pass("ollama"), pass("database"), BreakerProbe("policy_breaker", func() string { return "closed" })}, http.StatusOK, StateReady},
		{"required failing", []Probe{pass("ollama"), fail("database", "connection refused", false)}, http.StatusServiceUnavailable, StateNotReady},
		{"optional failing degrades", []Probe{pass("ollama"), fail("redis", "i/o timeout", true)}, http.StatusOK, StateDegraded},
		{"required wins over optional", []Probe{fail("redis", "x", true), fail("ollama", "y", false)}, http.StatusServiceUnavailable, StateNotReady},
		{"breaker open", []Probe{BreakerProbe("policy_breaker", func() string { return "open" })}, http.StatusServiceUnavailable, StateNotReady},
		{"breaker half open", []Probe{BreakerProbe("policy_breaker", func() string { return "half_open" })}, http.StatusOK, StateReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zaptest.NewLogger(t))
			for _, p := range tt.probes {
				h.AddProbe(p)
			}
			code, rep := ready(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.want, rep.Status)
			assert.Len(t, rep.Probes, len(tt.probes))
		})
	}
}

func TestHealthHandler_ProbeResultFields(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))
	h.AddProbe(fail("redis", "redis down", true))
	h.AddProbe(pass("ollama"))

	_, rep := ready(t, h)
	redis := rep.Probes["redis"]
	assert.False(t, redis.OK)
	assert.True(t, redis.Optional)
	assert.Equal(t, "redis down", redis.Error)
	assert.NotEmpty(t, redis.Took)
	assert.True(t, rep.Probes["ollama"].OK)
}

func TestHealthHandler_ProbesRunConcurrently(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))
	var inFlight, peak atomic.Int32
	slow := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	h.AddProbe(Probe{Name: "a", Check: slow})
	h.AddProbe(Probe{Name: "b", Check: slow})
	h.AddProbe(Probe{Name: "c", Check: slow})

	code, _ := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int32(3), peak.Load())
}

func TestHealthHandler_ProbeTimeout(t *testing.T) {
	h := NewHealthHandler(zaptest.NewLogger(t))
	h.timeout = 20 * time.Millisecond
	h.AddProbe(Probe{Name: "ollama", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	code, rep := ready(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, rep.Probes["ollama"].Error, "deadline exceeded")
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil).HandleVersion("1.2.3", "2026-01-01", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"1.2.3","build_time":"2026-01-01","git_commit":"abc123"}`, w.Body.String())
}
