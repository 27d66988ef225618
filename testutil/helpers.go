package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContext 返回 30s 超时的上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertEventuallyTrue 每 5ms 轮询一次 cond，直到为真或超时
func AssertEventuallyTrue(t *testing.T, cond func() bool, within time.Duration) {
	t.Helper()
	assert.Eventually(t, cond, within, 5*time.Millisecond)
}

// MustJSON 序列化 v，失败时 panic；用于构造 NDJSON 行
func MustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// SplitNDJSON 返回响应体的非空行
func SplitNDJSON(body []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64<<10), 8<<20)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}

// DecodeNDJSON 把每个非空行解码为 T
func DecodeNDJSON[T any](t *testing.T, body []byte) []T {
	t.Helper()
	lines := SplitNDJSON(body)
	out := make([]T, 0, len(lines))
	for i, line := range lines {
		var v T
		require.NoErrorf(t, json.Unmarshal([]byte(line), &v), "line %d: %s", i, line)
		out = append(out, v)
	}
	return out
}
