// Copyright (c) GuardProxy Authors.
// Licensed under the MIT License.

/*
包 server 管理监听端点的生命周期：代理端口与可选的独立 metrics 端口。

Endpoint 包装一个 net/http.Server。Start 非阻塞，Stop 幂等并在
DrainTimeout 内等待进行中的流。Options.CertFile/KeyFile 都设置时
以 HTTPS 监听，证书由 internal/tlsutil 按修改时间热加载。
AwaitStop 等待系统信号、端点异常退出或 ctx 结束。

WriteTimeout 默认为 0，写超时会在 NDJSON 流中途切断连接。
*/
package server
