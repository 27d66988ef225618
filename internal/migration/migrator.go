package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 内嵌迁移文件
// =============================================================================

//go:embed migrations
var migrationsFS embed.FS

// DefaultTableName 版本表名，与业务表同前缀
const DefaultTableName = "gp_schema_migrations"

// =============================================================================
// 📋 类型定义
// =============================================================================

// Dialect 数据库方言
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// sqlDriver 返回 database/sql 驱动名
func (d Dialect) sqlDriver() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return string(d)
}

// Status 单个迁移的状态
type Status struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Info 迁移状态摘要
type Info struct {
	CurrentVersion uint
	Dirty          bool
	Total          int
	Applied        int
	Pending        int
}

// Config 迁移器配置
type Config struct {
	Dialect Dialect
	// URL 方言对应的连接串，见 BuildURL
	URL string
	// TableName 版本表名，默认 DefaultTableName
	TableName string
	// ConnectTimeout 建连超时，默认 10s
	ConnectTimeout time.Duration
}

// Migrator 审计库 schema 迁移
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]Status, error)
	Info(ctx context.Context) (*Info, error)
	Close() error
}

// =============================================================================
// 🔧 golang-migrate 实现
// =============================================================================

// SQLMigrator 基于 golang-migrate 与内嵌 SQL 的 Migrator
type SQLMigrator struct {
	cfg     Config
	db      *sql.DB
	migrate *migrate.Migrate
	logger  *zap.Logger
}

var _ Migrator = (*SQLMigrator)(nil)

// New 打开数据库并创建迁移器
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*SQLMigrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if _, err := ParseDialect(string(cfg.Dialect)); err != nil {
		return nil, err
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	db, err := sql.Open(cfg.Dialect.sqlDriver(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := databaseDriver(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, sourcePath(cfg.Dialect))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(cfg.Dialect), driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: logger.Named("migrate")}

	return &SQLMigrator{
		cfg:     cfg,
		db:      db,
		migrate: m,
		logger:  logger.With(zap.String("component", "migration"), zap.String("dialect", string(cfg.Dialect))),
	}, nil
}

func databaseDriver(cfg Config, db *sql.DB) (database.Driver, error) {
	switch cfg.Dialect {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.TableName})
	case DialectSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", cfg.Dialect)
	}
}

func sourcePath(d Dialect) string {
	return path.Join("migrations", string(d))
}

// Up 应用全部未执行的迁移
func (m *SQLMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down 回滚最近一次迁移
func (m *SQLMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// Steps n > 0 向前迁移 n 步，n < 0 回滚 |n| 步
func (m *SQLMigrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

// Force 强制设置版本号，用于修复 dirty 状态，不执行 SQL
func (m *SQLMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// run 执行一次 golang-migrate 操作；ctx 取消时通过 GracefulStop 在当前迁移结束后停止
func (m *SQLMigrator) run(ctx context.Context, op string, fn func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	start := time.Now()
	err := fn()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}

	version, dirty, _ := m.Version(ctx)
	m.logger.Info("migration finished",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.Bool("no_change", errors.Is(err, migrate.ErrNoChange)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Version 返回当前版本；尚未迁移时返回 0
func (m *SQLMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 返回每个内嵌迁移的执行状态
func (m *SQLMigrator) Status(ctx context.Context) ([]Status, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := Available(m.cfg.Dialect)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, Status{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return statuses, nil
}

// Info 返回迁移摘要
func (m *SQLMigrator) Info(ctx context.Context) (*Info, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{CurrentVersion: current, Dirty: dirty, Total: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.Applied++
		}
	}
	info.Pending = info.Total - info.Applied
	return info, nil
}

// Close 关闭迁移器，同时关闭底层连接
func (m *SQLMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// =============================================================================
// 📂 内嵌文件枚举
// =============================================================================

// File 一个迁移版本
type File struct {
	Version uint
	Name    string
}

// Available 列出方言的全部迁移版本，按版本升序
func Available(d Dialect) ([]File, error) {
	entries, err := fs.ReadDir(migrationsFS, sourcePath(d))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations for %s: %w", d, err)
	}

	seen := make(map[uint]bool)
	var files []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_policy_violations.up.sql
		num, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil || seen[uint(v)] {
			continue
		}
		seen[uint(v)] = true
		files = append(files, File{Version: uint(v), Name: strings.TrimSuffix(rest, ".up.sql")})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// =============================================================================
// 🛠️ 辅助函数
// =============================================================================

// ParseDialect 解析方言名，接受常见别名
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", s)
	}
}

// BuildURL 按方言拼接 golang-migrate 使用的连接串。sqlite 的 name 为文件路径
func BuildURL(d Dialect, host string, port int, name, user, password, sslMode string) string {
	switch d {
	case DialectPostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, password),
			Host:     net.JoinHostPort(host, strconv.Itoa(port)),
			Path:     "/" + name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String()
	case DialectMySQL:
		// 迁移文件含多条语句
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&multiStatements=true",
			user, password, net.JoinHostPort(host, strconv.Itoa(port)), name)
	case DialectSQLite:
		return fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", name)
	default:
		return ""
	}
}

// =============================================================================
// 📝 日志适配
// =============================================================================

// migrateLogger 把 golang-migrate 的日志接到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
