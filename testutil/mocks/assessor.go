// MockAssessor 是 policy.Assessor 的测试模拟实现。
//
// 支持按文本配置 Verdict、错误注入、延迟与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/guardproxy/policy"
)

// 常用 Verdict
var (
	Benign     = policy.Verdict{Category: policy.CategoryBenign, Action: policy.ActionAllow}
	Malicious  = policy.Verdict{Category: "malicious", Action: policy.ActionBlock}
	Suspicious = policy.Verdict{Category: "suspicious", Action: policy.ActionAllow}
)

// --- MockAssessor 结构 ---

// MockAssessor 是 policy.Assessor 的模拟实现
type MockAssessor struct {
	mu sync.Mutex

	verdicts       map[string]policy.Verdict
	defaultVerdict policy.Verdict
	err            error
	delay          time.Duration
	assessFunc     func(ctx context.Context, f policy.Fragment) (policy.Verdict, error)

	calls    []policy.Fragment
	inFlight int
	peak     int
}

// NewMockAssessor 创建默认返回 Benign 的 MockAssessor
func NewMockAssessor() *MockAssessor {
	return &MockAssessor{
		verdicts:       make(map[string]policy.Verdict),
		defaultVerdict: Benign,
	}
}

// --- Builder 方法 ---

// WithVerdict 为指定文本设置 Verdict
func (m *MockAssessor) WithVerdict(text string, v policy.Verdict) *MockAssessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[text] = v
	return m
}

// WithDefault 设置未匹配文本的 Verdict
func (m *MockAssessor) WithDefault(v policy.Verdict) *MockAssessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultVerdict = v
	return m
}

// WithError 设置返回错误
func (m *MockAssessor) WithError(err error) *MockAssessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置每次评估的延迟（遵守 context 取消）
func (m *MockAssessor) WithDelay(d time.Duration) *MockAssessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithAssessFunc 设置自定义评估函数，优先于其他配置
func (m *MockAssessor) WithAssessFunc(fn func(ctx context.Context, f policy.Fragment) (policy.Verdict, error)) *MockAssessor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessFunc = fn
	return m
}

// --- policy.Assessor 实现 ---

// Assess implements policy.Assessor.
func (m *MockAssessor) Assess(ctx context.Context, f policy.Fragment) (policy.Verdict, error) {
	m.mu.Lock()
	m.calls = append(m.calls, f)
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	delay, fn, err := m.delay, m.assessFunc, m.err
	v, ok := m.verdicts[f.Text]
	if !ok {
		v = m.defaultVerdict
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return policy.Verdict{}, ctx.Err()
		case <-timer.C:
		}
	}

	if fn != nil {
		return fn(ctx, f)
	}
	if err != nil {
		return policy.Verdict{}, err
	}
	return v, nil
}

// --- 调用记录 ---

// Calls 返回所有评估过的 Fragment
func (m *MockAssessor) Calls() []policy.Fragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]policy.Fragment, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockAssessor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// PeakConcurrency 返回观察到的最大并发评估数
func (m *MockAssessor) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}
