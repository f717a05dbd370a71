package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/fabline-backend/internal/domain/fab"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&fab.WorkUnit{},
		&fab.AuditEvent{},
	); err != nil {
		return err
	}
	// timeline reads filter by unit and order by time
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_events_unit_ts ON audit_events (unit_id, timestamp)`).Error
}
