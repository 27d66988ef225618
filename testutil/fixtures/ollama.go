// Package fixtures 提供 Ollama 流式响应样例。
package fixtures

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/guardproxy/api"
)

// FixedTime 样例使用的固定时间戳
var FixedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)

// GenerateChunk 返回一行 /api/generate 流式单元
func GenerateChunk(model, text string, done bool) string {
	resp := api.GenerateResponse{
		Model:     model,
		CreatedAt: FixedTime,
		Response:  text,
		Done:      done,
	}
	if done {
		resp.DoneReason = "stop"
		resp.EvalCount = 42
	}
	return mustLine(resp)
}

// GenerateStream 返回每个 piece 一行、最后一行 done 的 /api/generate 流
func GenerateStream(model string, pieces ...string) []string {
	lines := make([]string, 0, len(pieces)+1)
	for _, p := range pieces {
		lines = append(lines, GenerateChunk(model, p, false))
	}
	return append(lines, GenerateChunk(model, "", true))
}

// ChatChunk 返回一行 /api/chat 流式单元
func ChatChunk(model, content string, done bool) string {
	resp := api.ChatResponse{
		Model:     model,
		CreatedAt: FixedTime,
		Message:   api.Message{Role: "assistant", Content: content},
		Done:      done,
	}
	if done {
		resp.DoneReason = "stop"
	}
	return mustLine(resp)
}

// ChatStream 返回每个 piece 一行、最后一行 done 的 /api/chat 流
func ChatStream(model string, pieces ...string) []string {
	lines := make([]string, 0, len(pieces)+1)
	for _, p := range pieces {
		lines = append(lines, ChatChunk(model, p, false))
	}
	return append(lines, ChatChunk(model, "", true))
}

// GenerateBody 返回非流式 /api/generate 响应体
func GenerateBody(model, text string) string {
	return GenerateChunk(model, text, true)
}

// ChatBody 返回非流式 /api/chat 响应体
func ChatBody(model, content string) string {
	return mustLine(api.ChatResponse{
		Model:      model,
		CreatedAt:  FixedTime,
		Message:    api.Message{Role: "assistant", Content: content},
		Done:       true,
		DoneReason: "stop",
	})
}

func mustLine(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
