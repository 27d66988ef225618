// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package policy 实现内容安全策略的评估与裁决。

# 概述

所有安全判断都来自外部安全扫描服务（oracle）。本包负责三件事：
调用 oracle 获得 Verdict（HTTPClient）、用唯一的共享裁决函数 Decide
解释 Verdict、以及由 Enforcer 串起空文本短路、评估、裁决与观察者通知。

# 裁决规则

  - Action == block 为一票否决，无论 Category 为何
  - ModeStrict（默认）：仅 Category == "benign" 放行
  - ModeActionOnly：信任 oracle 的 allow

任何评估错误都按拒绝处理（fail closed），错误类型为 *AssessError。

# 装饰器

Assessor 可以用 Chain 组合：WithCache、WithMetrics、WithTracing、
WithLimit（x/sync/semaphore）、WithBreaker、WithRetry。
*/
package policy
