package models

import (
	"time"

	"gorm.io/gorm"
)

type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"index" json:"user_id"`
	User      User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type      string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=delivery license order system"`
	Title     string         `gorm:"type:varchar(200)" json:"title"`
	Content   string         `gorm:"type:text" json:"content"`
	IsRead    bool           `gorm:"default:false" json:"is_read"`
	OrderID   uint           `json:"order_id"` // ID der Bestellung, auf die sich die Benachrichtigung bezieht
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// MarkAsRead markiert eine Benachrichtigung als gelesen
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// CreateNotification erstellt eine neue Benachrichtigung
func CreateNotification(db *gorm.DB, userID uint, notificationType string, title string, content string, orderID uint) error {
	notification := Notification{
		UserID:  userID,
		Type:    notificationType,
		Title:   title,
		Content: content,
		OrderID: orderID,
		IsRead:  false,
	}

	return db.Create(&notification).Error
}
