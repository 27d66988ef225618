// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

// Package config 提供 GuardProxy 的配置加载与校验。
//
// 配置来源优先级为：默认值 → YAML 文件 → 环境变量（前缀 GUARDPROXY_，
// 按结构体 env 标签逐层拼接，例如 GUARDPROXY_SECURITY_API_KEY）。
// Validate 汇总所有问题后一次性返回。
package config
