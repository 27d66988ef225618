package ollama

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type backendCall struct {
	path   string
	status int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []backendCall
}

func (r *fakeRecorder) RecordBackendRequest(path string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, backendCall{path, status})
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rec := &fakeRecorder{}
	return NewClient(Config{BaseURL: srv.URL + "/"}, zap.NewNop(), rec), rec
}

func TestClient_Forward(t *testing.T) {
	client, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"model":"m","prompt":"hi"}`, string(body))
		_, _ = io.WriteString(w, `{"response":"hello","done":true}`)
	}))

	out, err := client.Forward(context.Background(), "/api/generate", []byte(`{"model":"m","prompt":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"hello","done":true}`, string(out))
	assert.Equal(t, []backendCall{{"/api/generate", 200}}, rec.calls)
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"ollama json error", http.StatusNotFound, `{"error":"model 'x' not found"}`, "model 'x' not found"},
		{"plain text", http.StatusInternalServerError, "boom\n", "boom"},
		{"empty body", http.StatusBadGateway, "", "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := client.Get(context.Background(), "/api/tags")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestClient_StreamSplitsLines(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, "{\"response\":\"a\"}\n\n{\"response\":\"b\"}\n{\"done\":true}")
	}))

	src, err := client.Stream(context.Background(), "/api/generate", []byte(`{}`))
	require.NoError(t, err)
	defer src.Close()

	var lines []string
	for {
		b, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		lines = append(lines, string(b))
	}
	assert.Equal(t, []string{`{"response":"a"}`, `{"response":"b"}`, `{"done":true}`}, lines)
}

func TestClient_StreamErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid options"}`)
	}))

	_, err := client.Stream(context.Background(), "/api/chat", []byte(`{}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_StreamLineTooLong(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 1024)+"\n")
	}))
	t.Cleanup(srv.Close)
	client := NewClient(Config{BaseURL: srv.URL, MaxLineBytes: 128}, zap.NewNop(), nil)

	src, err := client.Stream(context.Background(), "/api/generate", nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestClient_StreamCloseStopsReading(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{\"response\":\"a\"}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	src, err := client.Stream(context.Background(), "/api/generate", nil)
	require.NoError(t, err)

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"response":"a"}`, string(first))

	done := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestClient_StreamCancelledContext(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	src, err := client.Stream(ctx, "/api/generate", nil)
	require.NoError(t, err)
	defer src.Close()

	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_PassthroughKeepsErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	resp, err := client.Passthrough(context.Background(), http.MethodDelete, "/api/delete", []byte(`{"model":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &fakeRecorder{}
	client := NewClient(Config{BaseURL: url}, zap.NewNop(), rec)
	err := client.Ping(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Equal(t, []backendCall{{"/api/version", 0}}, rec.calls)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("nope")))

	dialTimeout := &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}
	assert.True(t, IsTimeout(&url.Error{Op: "Post", URL: "http://ollama:11434/api/generate", Err: dialTimeout}))
	assert.False(t, IsTimeout(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))
}

func TestIsTimeout_SlowBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 20 * time.Millisecond}
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}
