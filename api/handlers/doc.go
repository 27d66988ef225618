// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 GuardProxy HTTP API 的请求处理器实现。

# 概述

handlers 包实现 Ollama 兼容端点的请求处理、错误映射与 NDJSON 流式输出。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ProxyHandler      : /api/generate、/api/chat、/api/embeddings，经 Orchestrator 审核
  - PassthroughHandler: /api/tags、/api/show、/api/pull 等模型管理端点，原样透传
  - HealthHandler     : /health、/healthz、/ready、/version
  - AuditHandler      : /admin/violations，查询策略拒绝记录
  - ResponseWriter    : 包装 http.ResponseWriter 以捕获状态码，支持 Flush/Unwrap
  - Probe             : /ready 的依赖探测，Optional 失败只降级（BreakerProbe）

# 错误映射

ToAPIError 把领域错误转换为 *types.Error：违规 403、安全扫描不可用 503、
流解码失败 502、后端 4xx 原样、后端 5xx 502、超时 504。错误响应体与 Ollama
一致（{"error": ...}），并附加 code、role、category、action 与 request_id。
被拒绝的文本从不回显。

# 流式输出

StreamRelay 在第一个单元放行时才提交响应头；流中途终止时写出一行
done:true 的错误对象。
*/
package handlers
