package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/guardproxy/config"
)

// 支持的驱动名
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// ErrStoreClosed Store 已关闭
var ErrStoreClosed = errors.New("audit store is closed")

// =============================================================================
// 🔌 方言
// =============================================================================

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case "":
		return nil, errors.New("database driver not configured")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}
}

// Open 按驱动名打开一个静默日志的 GORM 连接，不调整连接池
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if logger != nil {
		logger.Info("database connected", zap.String("driver", driver))
	}
	return db, nil
}

// =============================================================================
// 📐 连接限额
// =============================================================================

// Limits 连接池限额
type Limits struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// LimitsFor 从数据库配置推导限额，未设置的字段取默认值。
// SQLite 只允许一个写连接，强制 1/1。
func LimitsFor(cfg config.DatabaseConfig) Limits {
	l := Limits{MaxOpen: 20, MaxIdle: 5, MaxLifetime: time.Hour, MaxIdleTime: 10 * time.Minute}
	if cfg.MaxOpenConns > 0 {
		l.MaxOpen = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		l.MaxIdle = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		l.MaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		l.MaxIdleTime = cfg.ConnMaxIdleTime
	}
	if strings.EqualFold(cfg.Driver, DriverSQLite) {
		l.MaxOpen, l.MaxIdle = 1, 1
	}
	return l
}

// Validate 校验限额
func (l Limits) Validate() error {
	switch {
	case l.MaxOpen <= 0:
		return errors.New("max_open_conns must be positive")
	case l.MaxIdle <= 0:
		return errors.New("max_idle_conns must be positive")
	case l.MaxIdle > l.MaxOpen:
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", l.MaxIdle, l.MaxOpen)
	}
	return nil
}

func (l Limits) apply(db *sql.DB) {
	db.SetMaxOpenConns(l.MaxOpen)
	db.SetMaxIdleConns(l.MaxIdle)
	db.SetConnMaxLifetime(l.MaxLifetime)
	db.SetConnMaxIdleTime(l.MaxIdleTime)
}

// =============================================================================
// 🗄️ Store
// =============================================================================

// Store 审计存储的连接句柄：GORM DB、连接池限额与后台探活
type Store struct {
	driver string
	db     *gorm.DB
	sqlDB  *sql.DB
	limits Limits
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// StoreOption Store 选项
type StoreOption func(*Store)

// WithProbeInterval 周期性 ping 数据库并记录连接池状态，<=0 关闭
func WithProbeInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.wg.Add(1)
			go s.probeLoop(d)
		}
	}
}

// Connect 按配置打开审计数据库并应用连接池限额
func Connect(cfg config.DatabaseConfig, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	limits := LimitsFor(cfg)
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	db, err := Open(cfg.Driver, cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}
	return NewStore(db, cfg.Driver, limits, logger, opts...)
}

// NewStore 包装已打开的 GORM 连接
func NewStore(db *gorm.DB, driver string, limits Limits, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	limits.apply(sqlDB)

	s := &Store{
		driver: driver,
		db:     db,
		sqlDB:  sqlDB,
		limits: limits,
		logger: logger.With(zap.String("component", "audit_store")),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("audit store ready",
		zap.String("driver", driver),
		zap.Int("max_open", limits.MaxOpen),
		zap.Int("max_idle", limits.MaxIdle),
	)
	return s, nil
}

// Driver 驱动名
func (s *Store) Driver() string { return s.driver }

// DB 返回 GORM 句柄
func (s *Store) DB() *gorm.DB { return s.db }

// Stats 连接池统计，供 Prometheus collector 采集
func (s *Store) Stats() sql.DBStats { return s.sqlDB.Stats() }

// Ping 就绪检查
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Close 停止探活并关闭连接池，可重复调用
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("closing audit store")
	return s.sqlDB.Close()
}

func (s *Store) probeLoop(every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every/2+time.Second)
		err := s.Ping(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrStoreClosed) {
				s.logger.Warn("audit store probe failed", zap.Error(err))
			}
			continue
		}
		st := s.Stats()
		s.logger.Debug("audit store probe",
			zap.Int("open", st.OpenConnections),
			zap.Int("in_use", st.InUse),
			zap.Int64("wait_count", st.WaitCount),
		)
	}
}
