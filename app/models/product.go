package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ProductTypeDigital      = "DIGITAL"
	ProductTypeSubscription = "SUBSCRIPTION"
	ProductTypeService      = "SERVICE"
	ProductTypeLicense      = "LICENSE"
)

// Product is an intangible good sold on the platform. DIGITAL products carry
// an artifact object key pointing into the S3 artifact store.
type Product struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=2,max=200"`
	Slug           string         `gorm:"type:varchar(200);uniqueIndex" json:"slug" validate:"required,max=200"`
	Type           string         `gorm:"type:varchar(30);not null;default:'DIGITAL';index" json:"type" validate:"oneof=DIGITAL SUBSCRIPTION SERVICE LICENSE"`
	Description    string         `gorm:"type:text" json:"description"`
	PriceCents     int64          `gorm:"not null;default:0" json:"price_cents" validate:"gte=0"`
	Currency       string         `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	ArtifactKey    string         `gorm:"type:varchar(500)" json:"-"` // S3 object key for downloadable builds
	LicenseType    string         `gorm:"type:varchar(30);default:'PERPETUAL'" json:"license_type" validate:"omitempty,oneof=PERPETUAL SUBSCRIPTION TRIAL DEVELOPER"`
	MaxActivations int            `gorm:"not null;default:1" json:"max_activations" validate:"gte=1"`
	ValidityDays   int            `gorm:"not null;default:0" json:"validity_days"` // 0 = no expiry
	IsActive       bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Product) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// ProductVariant is an optional sellable variation of a product (edition,
// seat count, billing interval). Overrides apply when set.
type ProductVariant struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProductID      uint           `gorm:"not null;index" json:"product_id"`
	Product        Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Name           string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,max=200"`
	SKU            string         `gorm:"type:varchar(100);uniqueIndex" json:"sku"`
	PriceCents     *int64         `gorm:"default:null" json:"price_cents,omitempty"`
	ArtifactKey    string         `gorm:"type:varchar(500)" json:"-"`
	MaxActivations *int           `gorm:"default:null" json:"max_activations,omitempty"`
	ValidityDays   *int           `gorm:"default:null" json:"validity_days,omitempty"`
	IsActive       bool           `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// EffectiveMaxActivations resolves the activation cap for a product/variant pair.
func (p *Product) EffectiveMaxActivations(variant *ProductVariant) int {
	if variant != nil && variant.MaxActivations != nil {
		return *variant.MaxActivations
	}
	if p.MaxActivations < 1 {
		return 1
	}
	return p.MaxActivations
}

// EffectiveValidityDays resolves the license validity for a product/variant pair.
func (p *Product) EffectiveValidityDays(variant *ProductVariant) int {
	if variant != nil && variant.ValidityDays != nil {
		return *variant.ValidityDays
	}
	return p.ValidityDays
}

// EffectiveArtifactKey resolves the downloadable artifact for a product/variant pair.
func (p *Product) EffectiveArtifactKey(variant *ProductVariant) string {
	if variant != nil && variant.ArtifactKey != "" {
		return variant.ArtifactKey
	}
	return p.ArtifactKey
}
