package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	LicenseStatusPending   = "PENDING"
	LicenseStatusActive    = "ACTIVE"
	LicenseStatusSuspended = "SUSPENDED"
	LicenseStatusExpired   = "EXPIRED"
	LicenseStatusRevoked   = "REVOKED"

	LicenseTypePerpetual    = "PERPETUAL"
	LicenseTypeSubscription = "SUBSCRIPTION"
	LicenseTypeTrial        = "TRIAL"
	LicenseTypeDeveloper    = "DEVELOPER"
)

// StringList is a JSON-encoded string array column (allow-lists).
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported string list column type %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Contains does a case-insensitive membership test.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

// License is one granted usage right, keyed by a globally unique license key
// in XXXX-XXXX-XXXX-XXXX format. Status is a state machine: PENDING until the
// first activation, ACTIVE afterwards; EXPIRED and REVOKED are terminal.
type License struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	LicenseKey string `gorm:"type:varchar(19);uniqueIndex;not null" json:"license_key"`
	UserID     uint   `gorm:"not null;index" json:"user_id"`
	User       User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ProductID  uint   `gorm:"not null;index" json:"product_id"`
	VariantID  *uint  `gorm:"default:null" json:"variant_id,omitempty"`
	OrderID    uint   `gorm:"index" json:"order_id"`

	Status string `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Type   string `gorm:"type:varchar(20);not null;default:'PERPETUAL'" json:"type"`

	MaxActivations  int        `gorm:"not null;default:1" json:"max_activations"`
	ActivationCount int        `gorm:"not null;default:0" json:"activation_count"` // monotonic, counts every activation ever
	AllowedDomains  StringList `gorm:"type:json" json:"allowed_domains,omitempty"`
	AllowedIPs      StringList `gorm:"type:json" json:"allowed_ips,omitempty"`
	ExpiresAt       *time.Time `gorm:"type:timestamp;default:null;index" json:"expires_at,omitempty"`

	ActivatedAt   *time.Time `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	LastCheckedAt *time.Time `gorm:"type:timestamp;default:null" json:"last_checked_at,omitempty"`

	Activations []LicenseActivation `gorm:"foreignKey:LicenseID" json:"activations,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsExpired reports whether the expiry timestamp has passed.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// IsTerminal reports whether the license is in a state no transition leaves.
func (l *License) IsTerminal() bool {
	return l.Status == LicenseStatusExpired || l.Status == LicenseStatusRevoked
}

// CanActivate reports whether the status admits new activations.
func (l *License) CanActivate() bool {
	return l.Status == LicenseStatusActive || l.Status == LicenseStatusPending
}

// LicenseActivation binds a license to one concrete installation.
// Deactivation is a soft delete: the row stays for audit.
type LicenseActivation struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	LicenseID uint    `gorm:"not null;index:idx_activations_license_active,priority:1" json:"license_id"`
	License   License `gorm:"foreignKey:LicenseID" json:"license,omitempty"`

	MachineID string `gorm:"type:varchar(191);index" json:"machine_id,omitempty"`
	Hostname  string `gorm:"type:varchar(255)" json:"hostname,omitempty"`
	Domain    string `gorm:"type:varchar(255)" json:"domain,omitempty"`
	IPAddress string `gorm:"type:varchar(45)" json:"ip_address,omitempty"`

	IsActive         bool       `gorm:"not null;default:true;index:idx_activations_license_active,priority:2" json:"is_active"`
	DeactivatedAt    *time.Time `gorm:"type:timestamp;default:null" json:"deactivated_at,omitempty"`
	DeactivatedBy    *uint      `gorm:"default:null" json:"deactivated_by,omitempty"`
	DeactivateReason string     `gorm:"type:varchar(255)" json:"deactivate_reason,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
