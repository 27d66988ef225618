// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package migration 管理审计库（gp_policy_violations）的 schema 版本。

各方言的 SQL 迁移文件通过 embed 内嵌，由 golang-migrate 执行，
版本记录在 gp_schema_migrations 表。服务启动时默认用 GORM
AutoMigrate 建表；关闭 audit.auto_migrate 后，由运维通过
`guardproxy migrate up` 显式管理 schema。

sqlite 方言使用 golang-migrate 的 sqlite3 驱动（需要 cgo），
服务进程本身的 sqlite 连接走纯 Go 实现，二者互不影响。
*/
package migration
