package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	DeliveryStatusDelivered = "DELIVERED"
	DeliveryStatusFailed    = "FAILED"

	DeliveryTypeInstant = "INSTANT"

	// DeliveryMaxRetries is the retry budget before a failed delivery
	// becomes terminal and is left for an operator.
	DeliveryMaxRetries = 3
)

// Delivery records the fulfillment of exactly one purchased order item.
// The (order_id, order_item_id) unique index is the idempotency anchor:
// two concurrent fulfillment attempts can never both insert a row.
type Delivery struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UUID        string `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	OrderID     uint   `gorm:"not null;index:ux_deliveries_order_item,unique,priority:1" json:"order_id"`
	OrderItemID uint   `gorm:"not null;index:ux_deliveries_order_item,unique,priority:2" json:"order_item_id"`
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	ProductID   uint   `gorm:"not null;index" json:"product_id"`
	VariantID   *uint  `gorm:"default:null" json:"variant_id,omitempty"`

	Status string `gorm:"type:varchar(20);not null;index:idx_deliveries_status_retry,priority:1" json:"status"`
	Type   string `gorm:"type:varchar(20);not null;default:'INSTANT'" json:"type"`

	// Snapshots at fulfillment time, immutable once written.
	ProductName string `gorm:"type:varchar(200);not null" json:"product_name"`
	VariantName string `gorm:"type:varchar(200)" json:"variant_name"`

	DeliveryData DeliveryContent `gorm:"type:json" json:"delivery_data"`

	// DownloadToken mirrors the random token embedded in a DOWNLOAD_URL
	// payload so the public download route can resolve it.
	DownloadToken string `gorm:"type:varchar(64);index" json:"-"`

	// Access policy.
	AccessCount     int        `gorm:"not null;default:0" json:"access_count"`
	MaxAccessCount  *int       `gorm:"default:null" json:"max_access_count,omitempty"`
	AccessExpiresAt *time.Time `gorm:"type:timestamp;default:null" json:"access_expires_at,omitempty"`
	FirstAccessedAt *time.Time `gorm:"type:timestamp;default:null" json:"first_accessed_at,omitempty"`
	LastAccessedAt  *time.Time `gorm:"type:timestamp;default:null" json:"last_accessed_at,omitempty"`

	// Retry bookkeeping, meaningful only while Status is FAILED.
	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt   *time.Time `gorm:"type:timestamp;default:null;index:idx_deliveries_status_retry,priority:2" json:"next_retry_at,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsRetryable reports whether the delivery is still within the retry budget.
func (d *Delivery) IsRetryable() bool {
	return d.Status == DeliveryStatusFailed && d.RetryCount < DeliveryMaxRetries
}

// IsRetryExhausted reports the terminal failure state.
func (d *Delivery) IsRetryExhausted() bool {
	return d.Status == DeliveryStatusFailed && d.RetryCount >= DeliveryMaxRetries
}

// IsAccessExpired reports whether the access window has closed.
func (d *Delivery) IsAccessExpired(now time.Time) bool {
	return d.AccessExpiresAt != nil && now.After(*d.AccessExpiresAt)
}

// IsAccessLimitReached reports whether the access cap has been used up.
func (d *Delivery) IsAccessLimitReached() bool {
	return d.MaxAccessCount != nil && d.AccessCount >= *d.MaxAccessCount
}
