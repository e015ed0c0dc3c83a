package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session records a login session created by the external auth service.
// A user may hold several concurrent active sessions (multiple devices).
// The gateway only updates LastActivityAt on successful authentication.
type Session struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string `gorm:"type:uuid;not null;index" json:"user_id"`
	User         *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	SessionToken string `gorm:"uniqueIndex;not null" json:"-"`

	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Valid reports whether the session is active and not expired at the given instant.
// An expiry exactly equal to now counts as expired.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}
