package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	Email           string     `gorm:"uniqueIndex;size:254" json:"email"`
	Name            string     `gorm:"size:120" json:"name"`
	PasswordHash    *string    `json:"-"`
	Image           string     `json:"image,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	Active          bool       `gorm:"default:true" json:"active"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasPassword reports whether the user can sign in with email and password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
