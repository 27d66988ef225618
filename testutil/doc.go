/*
Package testutil 提供 guardproxy 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext，测试结束时自动取消
  - 异步断言: AssertEventuallyTrue
  - NDJSON: MustJSON / SplitNDJSON / DecodeNDJSON
  - 假后端: NewFakeBackend（httptest 实现的 Ollama 兼容后端）与
    NewFakeOracle（安全扫描服务）

# 子包

  - testutil/mocks: MockAssessor（policy.Assessor）、SliceSource（relay.Source）
  - testutil/fixtures: Ollama 流式响应样例（GenerateStream、ChatStream 等）
*/
package testutil
