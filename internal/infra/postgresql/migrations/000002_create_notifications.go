package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE notifications ADD CONSTRAINT fk_notifications_inquiry FOREIGN KEY (inquiry_id) REFERENCES inquiries (id) ON DELETE CASCADE`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_inquiry_channel ON notifications (inquiry_id, channel)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (next_attempt_at) WHERE status = 'QUEUED'`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_locked ON notifications (locked_at) WHERE status = 'SENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
