// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
Package relay 实现内容审核流式中继（Moderated Relay）。

# 概述

Relay 把后端的流式响应转换为一串已通过审核、可以安全转发的单元。
它是拉取式迭代器：调用方每次调用 Next 得到下一个可释放的单元。

# 状态机

	Active ──EOF──────────────▶ Closed
	Active ──读取/解码/评估错误─▶ Closed(err)
	Active ──违规─────────────▶ Blocked(*policy.Violation)

终止状态是粘性的：进入终止状态后，每次 Next 都返回同一个结果。

# 不变式

  - 单元在其 Verdict 确定且非阻断之前绝不释放
  - 严格按后端到达顺序释放，不重排、不跳过
  - Blocked 之后不再释放任何字节，后端流被关闭而不是读完
  - 空白文本不送检，视为无害

Prefetch 可在评估当前单元时预读后端，不改变释放顺序。
*/
package relay
