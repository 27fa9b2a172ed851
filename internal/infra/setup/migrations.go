package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// MigrateDB creates or updates the room and subscriber tables.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := db.AutoMigrate(&domain.RoomSettings{}); err != nil {
		logrus.Errorf("Failed to auto-migrate room table: %v", err)
		return fmt.Errorf("failed to migrate room table: %w", err)
	}
	if err := db.AutoMigrate(&domain.Subscriber{}); err != nil {
		logrus.Errorf("Failed to auto-migrate subscriber table: %v", err)
		return fmt.Errorf("failed to migrate subscriber table: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
