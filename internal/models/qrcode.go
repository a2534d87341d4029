package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type QrCode struct {
	ID         string       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string       `gorm:"type:uuid;index;not null" json:"user_id"`
	TemplateID *string      `gorm:"type:uuid;index" json:"template_id,omitempty"`
	Name       string       `gorm:"size:100" json:"name"`
	Type       string       `gorm:"size:16;index" json:"type"`
	Content    string       `gorm:"type:text" json:"content"`
	Style      StyleOptions `gorm:"serializer:json;type:jsonb" json:"style"`
	Favorite   bool         `gorm:"index" json:"favorite"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (q *QrCode) BeforeCreate(tx *gorm.DB) (err error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}

// QrTemplate is a reusable bundle of style options.
// A nil UserID marks a built-in template that every user can read but nobody can change.
type QrTemplate struct {
	ID          string       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      *string      `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Name        string       `gorm:"size:100" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	Style       StyleOptions `gorm:"serializer:json;type:jsonb" json:"style"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (t *QrTemplate) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *QrTemplate) IsSystem() bool {
	return t.UserID == nil
}
