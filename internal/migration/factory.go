package migration

import (
	"context"

	"github.com/BaSui01/guardproxy/config"
	"go.uber.org/zap"
)

// ConfigFromDatabase 由应用数据库配置生成迁移配置
func ConfigFromDatabase(db config.DatabaseConfig) (Config, error) {
	dialect, err := ParseDialect(db.Driver)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Dialect: dialect,
		URL:     BuildURL(dialect, db.Host, db.Port, db.Name, db.User, db.Password, db.SSLMode),
	}, nil
}

// NewFromDatabase 由应用数据库配置创建迁移器
func NewFromDatabase(ctx context.Context, db config.DatabaseConfig, logger *zap.Logger) (*SQLMigrator, error) {
	cfg, err := ConfigFromDatabase(db)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, logger)
}
