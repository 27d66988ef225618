package relay

import (
	"context"
	"sync"
)

type fetched struct {
	raw []byte
	err error
}

// prefetchSource 在后台预读最多 depth 个单元
type prefetchSource struct {
	src    Source
	ch     chan fetched
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Prefetch 在调用方评估当前单元时预读后端。depth <= 0 时原样返回 src。
// 读取协程在 Close 时退出，Close 会等待它结束。
func Prefetch(ctx context.Context, src Source, depth int) Source {
	if depth <= 0 {
		return src
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &prefetchSource{
		src:    src,
		ch:     make(chan fetched, depth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *prefetchSource) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.ch)

	for {
		raw, err := p.src.Next(ctx)
		select {
		case p.ch <- fetched{raw: raw, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next implements Source.
func (p *prefetchSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-p.ch:
		if !ok {
			return nil, ErrClosed
		}
		return f.raw, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Source.
func (p *prefetchSource) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.closeErr = p.src.Close()
		<-p.done
	})
	return p.closeErr
}
