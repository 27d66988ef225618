// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、安全评估、
裁决、流式中继、后端调用、Verdict 缓存与审计数据库。

# 概述

Collector 使用 promauto 注册指标，按 namespace 隔离。它同时实现了
policy.AssessmentRecorder、policy.Observer、relay.Recorder 与
ollama.Recorder，由 cmd/guardproxy 注入各组件。

指标标签从不包含请求文本。
*/
package metrics
