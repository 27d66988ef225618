package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/guardproxy/internal/tlsutil"
)

// =============================================================================
// ⚙️ 监听参数
// =============================================================================

// Options 单个监听端点的参数
type Options struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	// 0 表示不限；NDJSON 流可能持续数分钟
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	// 优雅关闭时等待进行中请求的上限
	DrainTimeout time.Duration
	// 两者都设置时以 HTTPS 监听
	CertFile string
	KeyFile  string
}

// DefaultOptions 代理端口的默认参数
func DefaultOptions() Options {
	return Options{
		Addr:              ":11435",
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		DrainTimeout:      30 * time.Second,
	}
}

// Secure 是否以 HTTPS 监听
func (o Options) Secure() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

// =============================================================================
// 🌐 Endpoint
// =============================================================================

type state int

const (
	stateIdle state = iota
	stateServing
	stateStopped
)

// Endpoint 一个 http.Server 及其监听器。Start 非阻塞，Stop 幂等。
type Endpoint struct {
	name   string
	opts   Options
	srv    *http.Server
	logger *zap.Logger
	failed chan error

	mu    sync.RWMutex
	ln    net.Listener
	state state
}

// New 创建端点，name 出现在日志里（"proxy"、"metrics"）
func New(name string, h http.Handler, opts Options, logger *zap.Logger) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("endpoint", name))
	return &Endpoint{
		name: name,
		opts: opts,
		srv: &http.Server{
			Handler:           h,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
			MaxHeaderBytes:    opts.MaxHeaderBytes,
			ErrorLog:          zap.NewStdLog(logger.Named("http")),
		},
		logger: logger,
		failed: make(chan error, 1),
	}
}

// Name 端点名
func (e *Endpoint) Name() string { return e.name }

// Start 绑定端口并在后台开始服务
func (e *Endpoint) Start() error {
	var tlsCfg *tls.Config
	if e.opts.Secure() {
		var err error
		if tlsCfg, err = tlsutil.ServerConfig(e.opts.CertFile, e.opts.KeyFile); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateServing:
		return fmt.Errorf("%s endpoint already started", e.name)
	case stateStopped:
		return fmt.Errorf("%s endpoint is closed", e.name)
	}

	ln, err := net.Listen("tcp", e.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.opts.Addr, err)
	}
	e.ln, e.state = ln, stateServing

	scheme := "http"
	if tlsCfg != nil {
		e.srv.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
		scheme = "https"
	}
	e.logger.Info("listening", zap.String("addr", e.ln.Addr().String()), zap.String("scheme", scheme))

	go e.serve(ln)
	return nil
}

func (e *Endpoint) serve(ln net.Listener) {
	err := e.srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	e.logger.Error("serve failed", zap.Error(err))
	select {
	case e.failed <- err:
	default:
	}
}

// BoundAddr 实际监听地址（":0" 时可拿到随机端口），未启动时为空
func (e *Endpoint) BoundAddr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ln == nil || e.state != stateServing {
		return ""
	}
	return e.ln.Addr().String()
}

// Failed 服务异常退出时收到错误
func (e *Endpoint) Failed() <-chan error { return e.failed }

// Stopped 是否已调用过 Stop
func (e *Endpoint) Stopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateStopped
}

// Stop 停止接收新连接并等待进行中的请求，最长 DrainTimeout
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return nil
	}
	e.state = stateStopped
	e.mu.Unlock()

	if e.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.DrainTimeout)
		defer cancel()
	}
	if err := e.srv.Shutdown(ctx); err != nil {
		e.logger.Error("drain incomplete", zap.Error(err))
		return err
	}
	e.logger.Info("stopped")
	return nil
}

// =============================================================================
// 🛑 等待退出
// =============================================================================

// AwaitStop 阻塞直到收到 SIGINT/SIGTERM、任一端点异常退出或 ctx 结束，返回原因
func AwaitStop(ctx context.Context, logger *zap.Logger, endpoints ...*Endpoint) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	failed := make(chan string, len(endpoints))
	stop := make(chan struct{})
	defer close(stop)
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		go func(ep *Endpoint) {
			select {
			case err := <-ep.Failed():
				logger.Error("endpoint exited unexpectedly", zap.String("endpoint", ep.Name()), zap.Error(err))
				failed <- ep.Name() + " failed"
			case <-stop:
			}
		}(ep)
	}

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		return sig.String()
	case reason := <-failed:
		return reason
	case <-ctx.Done():
		return "context done"
	}
}
