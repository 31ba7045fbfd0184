package scheduler

import (
	"context"
	"time"

	"github.com/kasuganosora/relationd/config"
	"github.com/kasuganosora/relationd/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Task names registered by RegisterMaintenance.
const (
	TaskPurgeNotifications = "purge_read_notifications"
	TaskPurgeAuditLogs     = "purge_audit_logs"
)

// Purger deletes records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// PurgeReadNotifications deletes notifications read before the cutoff.
// Unread notifications are kept regardless of age.
func PurgeReadNotifications(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("read_at IS NOT NULL AND read_at < ?", before).
		Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}

// RegisterMaintenance adds the retention tasks. A zero retention disables
// the corresponding task.
func RegisterMaintenance(s *Scheduler, db *gorm.DB, auditLogs Purger, cfg config.MaintenanceConfig, logger *zap.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	if cfg.NotificationRetention > 0 {
		s.AddTicker(TaskPurgeNotifications, interval, func(ctx context.Context) error {
			n, err := PurgeReadNotifications(ctx, db, time.Now().Add(-cfg.NotificationRetention))
			if err == nil && n > 0 {
				logger.Info("purged read notifications", zap.Int64("rows", n))
			}
			return err
		})
	}
	if cfg.AuditRetention > 0 && auditLogs != nil {
		s.AddTicker(TaskPurgeAuditLogs, interval, func(ctx context.Context) error {
			n, err := auditLogs.Purge(ctx, time.Now().Add(-cfg.AuditRetention))
			if err == nil && n > 0 {
				logger.Info("purged audit logs", zap.Int64("rows", n))
			}
			return err
		})
	}
}
