// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package main 提供 GuardProxy 可执行入口。

# 概述

guardproxy 监听 Ollama 兼容端口，对 /api/generate、/api/chat、
/api/embeddings 的 prompt 与模型输出逐块做策略评估，模型管理类
端点原样透传。

# 核心类型

  - Server     : 构造依赖图（Ollama 客户端、策略评估链、缓存、审计库）并管理主端口与 metrics 端口
  - Middleware : HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate（审计库 schema）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTelTracing、RateLimiter（基于 IP）、认证（JWT 优先，其次 API Key）
  - 评估链：Cache → Metrics → Tracing → Limit → Breaker → Retry → HTTP
  - 优雅关闭：信号 → 关闭 HTTP → 关闭 Metrics → 释放 Redis、数据库与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
