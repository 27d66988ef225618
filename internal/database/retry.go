package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 锁冲突与瞬时断连的错误特征（小写）
var transientMarkers = []string{
	"deadlock",
	"serialization failure", "40001",
	"database is locked", "database table is locked",
	"lock wait timeout", "lock timeout",
	"connection reset", "connection refused", "broken pipe",
	"bad connection",
}

// IsTransient 判断错误是否值得重试
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryTx 在事务中执行 fn；瞬时错误按 50ms 起步的指数退避重试，最多 attempts 次
func RetryTx(ctx context.Context, db *gorm.DB, attempts int, logger *zap.Logger, fn func(tx *gorm.DB) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = db.WithContext(ctx).Transaction(fn); err == nil {
			return nil
		}
		if !IsTransient(err) || i == attempts-1 {
			break
		}

		wait := 50 * time.Millisecond << i
		logger.Debug("transient database error, retrying",
			zap.Int("attempt", i+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if IsTransient(err) && attempts > 1 {
		return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
	}
	return err
}
