package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/guardproxy/config"
	"github.com/BaSui01/guardproxy/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return 1
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "up", "down", "status", "version", "steps", "force":
	case "help", "-h", "--help":
		printMigrateUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage(stderr)
		return 1
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	// steps 与 force 需要一个整数参数
	var n int
	if sub == "steps" || sub == "force" {
		if fs.NArg() != 1 {
			fmt.Fprintf(stderr, "migrate %s requires exactly one integer argument\n", sub)
			return 2
		}
		v, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Invalid number %q: %v\n", fs.Arg(0), err)
			return 2
		}
		n = v
	}

	migCfg, err := migrationConfig(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure migrator: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()

	m, err := migration.New(ctx, migCfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	cli := migration.NewCLI(m, stdout)
	switch sub {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "version":
		err = cli.RunVersion(ctx)
	case "steps":
		err = cli.RunSteps(ctx, n)
	case "force":
		err = cli.RunForce(ctx, n)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Migration failed: %v\n", err)
		return 1
	}
	return 0
}

// migrationConfig --db-type 与 --db-url 同时给出时直接使用，否则从配置文件读取数据库段
func migrationConfig(configPath, dbType, dbURL string) (migration.Config, error) {
	if dbType != "" && dbURL != "" {
		d, err := migration.ParseDialect(dbType)
		if err != nil {
			return migration.Config{}, err
		}
		return migration.Config{Dialect: d, URL: dbURL}, nil
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return migration.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	if cfg.Database.Driver == "" {
		return migration.Config{}, fmt.Errorf("database.driver is not configured")
	}
	return migration.ConfigFromDatabase(cfg.Database)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Audit database migrations

Usage:
  guardproxy migrate <subcommand> [options] [arg]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  steps <n>   Apply n migrations (negative n rolls back)
  status      Show migration status
  version     Show current schema version
  force <v>   Set the schema version without running SQL (repairs a dirty state)

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    postgres, mysql or sqlite (default: database.driver)
  --db-url <url>      Connection URL, used together with --db-type

Examples:
  guardproxy migrate up --config /etc/guardproxy/config.yaml
  guardproxy migrate status --db-type sqlite --db-url "file:audit.db?mode=rwc"
  guardproxy migrate steps -- -1`)
}
