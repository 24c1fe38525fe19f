package models

import (
	"time"
)

const (
	AccessActionDelivered = "delivered"
	AccessActionView      = "view"
	AccessActionDownload  = "download"
	AccessActionActivate  = "activate"
)

// DeliveryAccessLog is the append-only audit trail for delivered content.
// Rows are never mutated or deleted.
type DeliveryAccessLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DeliveryID uint      `gorm:"not null;index" json:"delivery_id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Action     string    `gorm:"type:varchar(20);not null" json:"action" validate:"oneof=delivered view download activate"`
	IPAddress  string    `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent  string    `gorm:"type:varchar(500)" json:"user_agent"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
