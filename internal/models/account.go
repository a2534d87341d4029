package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account links a User to an external OAuth identity.
type Account struct {
	ID                string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            string    `gorm:"type:uuid;index;not null" json:"user_id"`
	Provider          string    `gorm:"size:32;uniqueIndex:uniq_provider_account,priority:1" json:"provider"`
	ProviderAccountID string    `gorm:"size:191;uniqueIndex:uniq_provider_account,priority:2" json:"provider_account_id"`
	Email             string    `json:"email,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
