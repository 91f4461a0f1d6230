package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"EscrowEngine/internal/models"
)

// Migrate creates or updates every table the escrow engine touches.
func Migrate(db *gorm.DB, log *logrus.Entry) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.Transaction{},
		&models.TransactionEvent{},
		&models.Refund{},
		&models.Dispute{},
		&models.Notification{},
		&models.UserRole{},
		&models.Profile{},
		&models.ProviderProfile{},
	)
	if err != nil {
		log.WithError(err).Error("Error migrating database")
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database migration completed successfully")
	return nil
}
