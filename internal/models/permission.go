package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permission names used by the namespace authorization policies.
const (
	PermTranscriptionRead   = "TRANSCRIPTION_READ"
	PermTranscriptionCreate = "TRANSCRIPTION_CREATE"
	PermReportRead          = "REPORT_READ"
	PermReportCreate        = "REPORT_CREATE"
	PermSummaryRead         = "SUMMARY_READ"
	PermSummaryCreate       = "SUMMARY_CREATE"
)

// Permission grants a user a named capability, optionally scoped to a
// resource and optionally expiring. A nil ExpiresAt never expires; an
// expiry at or before "now" excludes the grant from authorization checks.
type Permission struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Name     string  `gorm:"not null;index" json:"name"`
	Resource *string `json:"resource,omitempty"`

	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Effective reports whether the permission is usable at the given instant.
func (p *Permission) Effective(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}
