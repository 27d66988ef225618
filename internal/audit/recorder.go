package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/guardproxy/internal/ctxkeys"
	"github.com/BaSui01/guardproxy/internal/database"
	"github.com/BaSui01/guardproxy/policy"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 📋 审计记录模型
// =============================================================================

// ViolationRecord 一次策略拒绝
type ViolationRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RequestID     string    `gorm:"size:64;index" json:"request_id"`
	Role          string    `gorm:"size:16;not null" json:"role"`
	Category      string    `gorm:"size:64;index" json:"category"`
	Action        string    `gorm:"size:16" json:"action"`
	Reason        string    `gorm:"size:32;not null" json:"reason"`
	ReportID      string    `gorm:"size:128" json:"report_id"`
	TransactionID string    `gorm:"size:64" json:"tr_id"`
	Model         string    `gorm:"size:128" json:"model"`
	AppUser       string    `gorm:"size:128" json:"app_user"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName 返回表名
func (ViolationRecord) TableName() string {
	return "gp_policy_violations"
}

// Migrate 自动迁移审计表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ViolationRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate audit tables: %w", err)
	}
	return nil
}

// =============================================================================
// 🧾 GormRecorder
// =============================================================================

// 锁冲突时单条记录最多写入次数
const writeAttempts = 3

// GormRecorder 将拒绝裁决写入数据库
type GormRecorder struct {
	db      *gorm.DB
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewGormRecorder 创建 GormRecorder。timeout 限制单次写入时长，<=0 时取 3s
func NewGormRecorder(db *gorm.DB, timeout time.Duration, logger *zap.Logger) *GormRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GormRecorder{
		db:      db,
		logger:  logger.With(zap.String("component", "audit")),
		timeout: timeout,
		now:     time.Now,
	}
}

// ObserveDecision implements policy.Observer.
func (r *GormRecorder) ObserveDecision(ctx context.Context, f policy.Fragment, v policy.Verdict, d policy.Decision) {
	if d.Allowed {
		return
	}

	rec := ViolationRecord{
		Role:          string(f.Role),
		Category:      v.Category,
		Action:        string(v.Action),
		Reason:        string(d.Reason),
		ReportID:      v.ReportID,
		TransactionID: v.TransactionID,
		Model:         f.Model,
		CreatedAt:     r.now(),
	}
	rec.RequestID, _ = ctxkeys.RequestID(ctx)
	rec.AppUser, _ = ctxkeys.AppUser(ctx)

	// 客户端断开不应丢失审计记录
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := database.RetryTx(writeCtx, r.db, writeAttempts, r.logger, func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		r.logger.Error("failed to record violation",
			zap.String("request_id", rec.RequestID),
			zap.String("report_id", rec.ReportID),
			zap.Error(err),
		)
	}
}

// Query 审计记录查询条件
type Query struct {
	RequestID string
	Role      policy.Role
	Since     time.Time
	Limit     int
}

// Recent 按时间倒序返回审计记录
func (r *GormRecorder) Recent(ctx context.Context, q Query) ([]ViolationRecord, error) {
	tx := r.db.WithContext(ctx).Model(&ViolationRecord{})
	if q.RequestID != "" {
		tx = tx.Where("request_id = ?", q.RequestID)
	}
	if q.Role != "" {
		tx = tx.Where("role = ?", strings.ToLower(string(q.Role)))
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var out []ViolationRecord
	if err := tx.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	return out, nil
}
