package mocks

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrSourceClosed 在 SliceSource 关闭后读取时返回
var ErrSourceClosed = errors.New("mock source closed")

// SliceSource 按顺序返回预设的单元，实现 relay.Source
type SliceSource struct {
	mu     sync.Mutex
	units  [][]byte
	pos    int
	err    error
	hang   bool
	delay  func(i int) time.Duration
	reads  int
	closed bool
	done   chan struct{}
}

// NewSliceSource 创建 SliceSource，读完后返回 io.EOF
func NewSliceSource(units ...[]byte) *SliceSource {
	return &SliceSource{units: units, err: io.EOF, done: make(chan struct{})}
}

// NewLineSource 以字符串构造 SliceSource
func NewLineSource(lines ...string) *SliceSource {
	units := make([][]byte, len(lines))
	for i, l := range lines {
		units[i] = []byte(l)
	}
	return NewSliceSource(units...)
}

// WithError 设置读完后返回的错误
func (s *SliceSource) WithError(err error) *SliceSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// WithHang 读完后阻塞，直到 context 取消或 Close
func (s *SliceSource) WithHang() *SliceSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hang = true
	return s
}

// WithDelay 设置第 i 个单元的读取延迟
func (s *SliceSource) WithDelay(fn func(i int) time.Duration) *SliceSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = fn
	return s
}

// Next implements relay.Source.
func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	i := s.pos
	var d time.Duration
	if s.delay != nil {
		d = s.delay(i)
	}
	s.mu.Unlock()

	if d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.done:
			timer.Stop()
			return nil, ErrSourceClosed
		case <-timer.C:
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSourceClosed
	}
	if s.pos < len(s.units) {
		u := s.units[s.pos]
		s.pos++
		s.reads++
		s.mu.Unlock()
		return u, nil
	}
	hang, err := s.hang, s.err
	s.mu.Unlock()

	if hang {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrSourceClosed
		}
	}
	return nil, err
}

// Close implements relay.Source.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Closed 返回是否已关闭
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reads 返回成功读出的单元数
func (s *SliceSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
