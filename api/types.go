package api

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// 文本生成 /api/generate
// =============================================================================

// GenerateRequest 是 /api/generate 的请求体
type GenerateRequest struct {
	Model    string          `json:"model"`
	Prompt   string          `json:"prompt"`
	Suffix   string          `json:"suffix,omitempty"`
	System   string          `json:"system,omitempty"`
	Template string          `json:"template,omitempty"`
	Context  []int           `json:"context,omitempty"`
	Images   []string        `json:"images,omitempty"`
	Stream   *bool           `json:"stream,omitempty"`
	Raw      bool            `json:"raw,omitempty"`
	Think    json.RawMessage `json:"think,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`

	// Extra 保存未识别的字段；转发时只写回 forwardableExtra 中的控制参数
	Extra map[string]json.RawMessage `json:"-"`
}

// InputTexts 返回会送入模型的全部文本输入
func (r *GenerateRequest) InputTexts() []string {
	return []string{r.System, r.Template, r.Prompt, r.Suffix}
}

// Streaming 返回是否流式响应。未设置时与 Ollama 一致，默认流式。
func (r *GenerateRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *GenerateRequest) UnmarshalJSON(data []byte) error {
	type plain GenerateRequest
	return unmarshalWithExtra(data, (*plain)(r), &r.Extra)
}

// MarshalJSON implements json.Marshaler.
func (r GenerateRequest) MarshalJSON() ([]byte, error) {
	type plain GenerateRequest
	return marshalWithExtra((plain)(r), r.Extra)
}

// GenerateResponse 是 /api/generate 的响应体或一个流式单元
type GenerateResponse struct {
	Model      string `json:"model"`
	CreatedAt  string `json:"created_at"`
	Response   string `json:"response"`
	Thinking   string `json:"thinking,omitempty"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Context    []int  `json:"context,omitempty"`

	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// AssessableText 返回生成的文本，包括推理过程
func (r GenerateResponse) AssessableText() (string, bool) {
	text := joinText(r.Response, r.Thinking)
	return text, text != ""
}

// =============================================================================
// 对话 /api/chat
// =============================================================================

// Message 是一条对话消息
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ToolCall 是模型发起的一次工具调用
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction 工具名与参数
type ToolCallFunction struct {
	Index     int             `json:"index,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Text 返回消息中所有模型可读的文本：正文、推理过程与工具调用
func (m Message) Text() string {
	parts := []string{m.Content, m.Thinking}
	for _, tc := range m.ToolCalls {
		parts = append(parts, tc.Function.Name, rawText(tc.Function.Arguments))
	}
	return joinText(parts...)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	return unmarshalWithExtra(data, (*plain)(m), &m.Extra)
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return marshalWithExtra((plain)(m), m.Extra)
}

// ChatRequest 是 /api/chat 的请求体
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Tools    json.RawMessage `json:"tools,omitempty"`
	Stream   *bool           `json:"stream,omitempty"`
	Think    json.RawMessage `json:"think,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// InputTexts 返回每条消息的文本，以及工具定义（名称与描述同样进入上下文）
func (r *ChatRequest) InputTexts() []string {
	texts := make([]string, 0, len(r.Messages)+1)
	for _, m := range r.Messages {
		texts = append(texts, m.Text())
	}
	return append(texts, rawText(r.Tools))
}

// Streaming 返回是否流式响应，默认流式
func (r *ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type plain ChatRequest
	return unmarshalWithExtra(data, (*plain)(r), &r.Extra)
}

// MarshalJSON implements json.Marshaler.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type plain ChatRequest
	return marshalWithExtra((plain)(r), r.Extra)
}

// ChatResponse 是 /api/chat 的响应体或一个流式单元
type ChatResponse struct {
	Model      string  `json:"model"`
	CreatedAt  string  `json:"created_at"`
	Message    Message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`

	TotalDuration int64 `json:"total_duration,omitempty"`
	EvalCount     int   `json:"eval_count,omitempty"`
}

// AssessableText 返回助手消息的文本，包括推理过程与工具调用
func (r ChatResponse) AssessableText() (string, bool) {
	text := r.Message.Text()
	return text, text != ""
}

// joinText 以换行拼接非空片段
func joinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p)
	}
	return b.String()
}

// rawText 把 JSON 值转成可评估文本；字符串取其内容，null 和空容器视为无文本
func rawText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "[]", "{}", `""`:
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return trimmed
}

// =============================================================================
// 向量 /api/embeddings
// =============================================================================

// EmbeddingsRequest 是 /api/embeddings 的请求体
type EmbeddingsRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *EmbeddingsRequest) UnmarshalJSON(data []byte) error {
	type plain EmbeddingsRequest
	return unmarshalWithExtra(data, (*plain)(r), &r.Extra)
}

// MarshalJSON implements json.Marshaler.
func (r EmbeddingsRequest) MarshalJSON() ([]byte, error) {
	type plain EmbeddingsRequest
	return marshalWithExtra((plain)(r), r.Extra)
}

// EmbeddingsResponse 是 /api/embeddings 的响应体
type EmbeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// =============================================================================
// 错误
// =============================================================================

// ErrorResponse 是 Ollama 兼容的错误响应体。
// 代理自身产生的错误会附加 code 等字段；后端错误只有 error。
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Role      string `json:"role,omitempty"`
	Category  string `json:"category,omitempty"`
	Action    string `json:"action,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Done 仅出现在流式响应的终止行
	Done bool `json:"done,omitempty"`
}
