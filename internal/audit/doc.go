// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package audit 把策略拒绝记录持久化到关系数据库。

GormRecorder 实现 policy.Observer，只记录 Allowed == false 的裁决。
记录中只有关联信息（request_id、role、category、action、reason、
report_id、tr_id、model），从不包含被评估的文本。写入失败只记日志，
不影响裁决结果。
*/
package audit
