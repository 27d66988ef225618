// Package api 定义 guardproxy 对外暴露的 Ollama 兼容 HTTP API 的数据类型。
//
// # API Overview
//
// 被审核的端点：
//   - POST /api/generate    文本生成（默认流式，NDJSON）
//   - POST /api/chat        对话（默认流式，NDJSON）
//   - POST /api/embeddings  向量（仅审核输入）
//
// 透传端点：/api/tags、/api/version（GET），/api/show、/api/create、
// /api/copy、/api/pull、/api/push（POST），/api/delete（DELETE）。
//
// # Unknown fields
//
// 请求中未识别的字段保存在 Extra 中。转发给后端时只写回不携带文本的控制参数
// （keep_alive、truncate 等，见 ForwardableExtra），其余字段丢弃，
// 保证模型看到的每段文本都经过评估。
//
// # Errors
//
// 错误响应与 Ollama 保持兼容：{"error": "..."}，并附加 code、role、
// category、action、request_id 字段。
package api
