package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/guardproxy/internal/circuitbreaker"
	"github.com/BaSui01/guardproxy/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

var benign = Verdict{Category: "benign", Action: ActionAllow}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Assessor) Assessor {
			return AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
				order = append(order, name)
				return next.Assess(ctx, f)
			})
		}
	}

	a := Chain(fixedAssessor(benign, nil, nil), tag("outer"), tag("inner"))
	_, err := a.Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestWithRetry_RetriesTemporaryOnly(t *testing.T) {
	r := retry.New(&retry.Policy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Retryable:    IsTemporary,
	}, zap.NewNop())

	var calls atomic.Int32
	flaky := AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
		if calls.Add(1) < 3 {
			return Verdict{}, &AssessError{Kind: KindService, StatusCode: 503}
		}
		return benign, nil
	})
	v, err := Chain(flaky, WithRetry(r)).Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
	require.NoError(t, err)
	assert.Equal(t, benign, v)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	permanent := fixedAssessor(Verdict{}, &AssessError{Kind: KindDecode}, &calls)
	_, err = Chain(permanent, WithRetry(r)).Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_ZeroRetriesIsPassThrough(t *testing.T) {
	var calls atomic.Int32
	a := Chain(fixedAssessor(Verdict{}, &AssessError{Kind: KindConnectivity}, &calls), WithRetry(retry.New(nil, nil)))
	_, err := a.Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithBreaker_OpenFailsClosed(t *testing.T) {
	b := circuitbreaker.New(&circuitbreaker.Config{
		Threshold:    2,
		ResetTimeout: time.Hour,
		IsFailure:    BreakerFailure,
	}, zap.NewNop())

	var calls atomic.Int32
	a := Chain(fixedAssessor(Verdict{}, &AssessError{Kind: KindConnectivity}, &calls), WithBreaker(b))
	ctx := context.Background()
	f := Fragment{Text: "x", Role: RolePrompt}

	_, _ = a.Assess(ctx, f)
	_, _ = a.Assess(ctx, f)
	_, err := a.Assess(ctx, f)

	var ae *AssessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindUnavailable, ae.Kind)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, b.State())
}

func TestBreakerFailure(t *testing.T) {
	assert.False(t, BreakerFailure(&AssessError{Kind: KindInvalid}))
	assert.True(t, BreakerFailure(&AssessError{Kind: KindService, StatusCode: 500}))
	assert.True(t, BreakerFailure(context.DeadlineExceeded))
}

func TestWithLimit_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return benign, nil
	})

	a := Chain(slow, WithLimit(2))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWithLimit_CancelledWhileWaiting(t *testing.T) {
	block := make(chan struct{})
	a := Chain(AssessorFunc(func(ctx context.Context, f Fragment) (Verdict, error) {
		<-block
		return benign, nil
	}), WithLimit(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Assess(ctx, Fragment{Text: "y", Role: RolePrompt})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	<-done
}

func TestWithTracing_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	a := Chain(fixedAssessor(Verdict{Category: "malicious", Action: ActionBlock}, nil, nil), WithTracing(tp.Tracer("test")))
	_, err := a.Assess(context.Background(), Fragment{Text: "secret text", Role: RoleResponse, Model: "m"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "policy.assess", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "response", attrs["policy.role"])
	assert.Equal(t, "malicious", attrs["policy.category"])
	assert.Equal(t, "block", attrs["policy.action"])
	for _, v := range attrs {
		assert.NotContains(t, v, "secret")
	}
}

type recordedAssessment struct {
	role, outcome string
}

type fakeAssessmentRecorder struct {
	mu      sync.Mutex
	records []recordedAssessment
}

func (r *fakeAssessmentRecorder) RecordAssessment(role, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedAssessment{role, outcome})
}

func TestWithMetrics_Outcomes(t *testing.T) {
	rec := &fakeAssessmentRecorder{}

	ok := Chain(fixedAssessor(benign, nil, nil), WithMetrics(rec))
	failing := Chain(fixedAssessor(Verdict{}, &AssessError{Kind: KindDecode}, nil), WithMetrics(rec))

	_, _ = ok.Assess(context.Background(), Fragment{Text: "x", Role: RolePrompt})
	_, _ = failing.Assess(context.Background(), Fragment{Text: "x", Role: RoleResponse})

	assert.Equal(t, []recordedAssessment{
		{"prompt", "ok"},
		{"response", "decode"},
	}, rec.records)
}
