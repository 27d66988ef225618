// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package types 提供 guardproxy 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包。目前只承载结构化错误体系：
Error / ErrorCode，含 HTTP 状态码、Retryable 标记与底层 Cause。

# 主要能力

  - 统一错误码：策略违规、策略服务不可用、上游错误、流解码错误等
  - 链式构建：NewError(code, msg).WithCause(err).WithHTTPStatus(403)
  - 错误解包：实现 Unwrap，可与 errors.Is / errors.As 配合使用
*/
package types
