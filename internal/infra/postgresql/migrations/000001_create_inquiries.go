package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createInquiriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_inquiries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InquiryModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_inquiries_created_at ON inquiries (created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InquiryModel{})
		},
	}
}
