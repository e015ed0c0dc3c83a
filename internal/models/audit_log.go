package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Risk levels attached to security-relevant audit entries.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// AuditLog is an append-only record of security and domain actions.
// Entries are never mutated or deleted except by retention cleanup.
type AuditLog struct {
	ID     string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID *string `gorm:"type:uuid;index" json:"user_id"`
	User   *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Action       string  `gorm:"not null;index" json:"action"`
	ResourceType string  `gorm:"index" json:"resource_type"`
	ResourceID   *string `json:"resource_id,omitempty"`
	Description  string  `json:"description"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RiskLevel string `gorm:"index" json:"risk_level,omitempty"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
