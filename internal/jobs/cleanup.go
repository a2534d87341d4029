package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/models"
)

// CleanupLogs deletes application log rows older than days and returns how many were removed.
func CleanupLogs(ctx context.Context, db *gorm.DB, days int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -days)
	res := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ApplicationLog{})
	return res.RowsAffected, res.Error
}

// CleanupSessions deletes refresh sessions that can no longer be used.
func CleanupSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", now).
		Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
