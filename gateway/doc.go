// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package gateway 编排一次受审核的后端调用。

Orchestrator 针对 /api/generate、/api/chat 与 /api/embeddings：

 1. 提取输入片段，以 prompt 角色评估（对话消息并发评估，任何违规或
    错误都会取消其余评估并在调用后端之前拒绝请求）。
 2. 调用后端。
 3. 流式请求：用 relay.Relay 包装后端流并返回，由调用方逐块拉取。
 4. 非流式请求：读取完整响应，评估输出片段，通过后原样返回。
*/
package gateway
