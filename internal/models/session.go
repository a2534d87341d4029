package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is a refresh-token backed login session. Only the token hash is stored.
type Session struct {
	ID                string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            string     `gorm:"type:uuid;index;not null" json:"-"`
	TokenID           string     `gorm:"index" json:"-"` // jti
	TokenHash         string     `gorm:"uniqueIndex" json:"-"`
	UserAgent         string     `json:"user_agent"`
	IP                string     `json:"ip"`
	ExpiresAt         time.Time  `gorm:"index" json:"expires_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	ReplacedByTokenID *string    `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
