package database

import (
	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/models"
)

// AutoMigrate creates or updates the schema for the records the gateway reads
// and writes. The authoritative schema lives with the external auth service;
// this keeps local and test databases in sync with the models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Permission{},
		&models.RefreshToken{},
		&models.AuditLog{},
	)
}
