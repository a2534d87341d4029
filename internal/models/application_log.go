package models

import (
	"time"

	"gorm.io/datatypes"
)

// ApplicationLog is one row of the audit/application log shown on the admin dashboard.
type ApplicationLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Level     string         `gorm:"size:8;index" json:"level"`
	Category  string         `gorm:"size:16;index" json:"category"`
	Event     string         `gorm:"size:64;index" json:"event"`
	Message   string         `gorm:"type:text" json:"message"`
	UserID    *string        `gorm:"type:uuid;index" json:"user_id,omitempty"`
	IP        string         `gorm:"size:64" json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Path      string         `json:"path,omitempty"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}
