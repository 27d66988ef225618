// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package cache 提供基于 Redis 的 Verdict 缓存存储。

Store 封装 go-redis 客户端，以 JSON 存取安全扫描的 Verdict，满足
policy.VerdictStore，由 policy.WithCache 装饰器使用。Connect 时 PING
一次，失败由调用方决定降级为无缓存。

未命中返回 ErrMiss，关闭后所有操作返回 ErrClosed。上层把任何缓存
错误都当作未命中，直接调用安全扫描服务。Stats 的命中、未命中计数
由 Prometheus collector 采集。
*/
package cache
