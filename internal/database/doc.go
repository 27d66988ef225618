// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package database 打开审计存储使用的 GORM 连接。

Connect 按 config.DatabaseConfig 选择方言（postgres、mysql、sqlite），
用 LimitsFor 推导连接池限额后返回 Store。Store 提供 Ping（就绪检查）、
Stats（Prometheus 采集）与可选的后台探活。RetryTx 在锁冲突等瞬时
错误上按指数退避重试事务，internal/audit 的写入走这条路径。

sqlite 使用纯 Go 实现（glebarez/sqlite），不依赖 cgo。
*/
package database
