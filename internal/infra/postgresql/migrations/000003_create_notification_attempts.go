package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notification_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE notification_attempts ADD CONSTRAINT fk_attempts_notification FOREIGN KEY (notification_id) REFERENCES notifications (id) ON DELETE CASCADE`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_notification_id ON notification_attempts (notification_id, attempt_number)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationAttemptModel{})
		},
	}
}
