package ollama

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
)

// lineSource 把 NDJSON 响应体切分为行，每行一个单元
type lineSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	closeErr  error
}

func newLineSource(body io.ReadCloser, maxLine int) *lineSource {
	initial := 64 << 10
	if maxLine < initial {
		initial = maxLine
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initial), maxLine)
	return &lineSource{body: body, scanner: scanner}
}

// Next 返回下一个非空行的副本。读取受请求 context 约束。
func (s *lineSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
}

// Close 关闭响应体，未读完的部分不再读取
func (s *lineSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
