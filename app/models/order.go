package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	OrderStatusPending    = "PENDING"
	OrderStatusPaid       = "PAID"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCanceled   = "CANCELED"
)

// Order is created by the storefront; this subsystem only consumes it after
// the payment collaborator reports success.
type Order struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	User       User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Status     string         `gorm:"type:varchar(30);not null;default:'PENDING';index" json:"status"`
	TotalCents int64          `gorm:"not null;default:0" json:"total_cents"`
	Currency   string         `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	PaidAt     *time.Time     `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	Items      []OrderItem    `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// OrderItem is one purchased position. Product and variant names are
// snapshotted so later catalog edits do not rewrite order history.
type OrderItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrderID     uint      `gorm:"not null;index" json:"order_id"`
	ProductID   uint      `gorm:"not null;index" json:"product_id"`
	VariantID   *uint     `gorm:"default:null" json:"variant_id,omitempty"`
	ProductName string    `gorm:"type:varchar(200);not null" json:"product_name"`
	VariantName string    `gorm:"type:varchar(200)" json:"variant_name"`
	Quantity    int       `gorm:"not null;default:1" json:"quantity"`
	PriceCents  int64     `gorm:"not null;default:0" json:"price_cents"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the order has been paid for.
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusProcessing || o.Status == OrderStatusCompleted
}
