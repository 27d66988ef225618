package relay

import (
	"context"
	"errors"
	"fmt"
)

// Source 是后端流式响应的单元序列，一个单元对应一行 NDJSON。
// Next 在流结束时返回 io.EOF。Close 可与 Next 并发调用，用于中断阻塞的读取。
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Assessable 由可提取审核文本的响应记录实现。
// ok 为 false 表示该单元没有可审核文本。
type Assessable interface {
	AssessableText() (text string, ok bool)
}

// Decoder 把一个原始单元解码为端点对应的记录类型
type Decoder func(raw []byte) (Assessable, error)

// DecodeError 表示后端单元无法解码。不是策略违规。
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode stream unit %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UpstreamError 表示读取后端流失败
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "read backend stream: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ErrClosed 表示 Relay 或 Source 已被关闭
var ErrClosed = errors.New("relay closed")
