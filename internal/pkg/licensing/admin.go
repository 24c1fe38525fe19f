package licensing

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/keygen"
)

// AdminService carries the operator-side license operations. They bypass
// ownership checks but still respect the state machine: nothing resurrects
// a REVOKED license.
type AdminService struct {
	licenses repository.LicenseRepository
	keys     *keygen.Generator
	clock    Clock
}

// NewAdminService creates the admin license service.
func NewAdminService(licenses repository.LicenseRepository, keys *keygen.Generator, clock Clock) *AdminService {
	if clock == nil {
		clock = systemClock{}
	}
	return &AdminService{licenses: licenses, keys: keys, clock: clock}
}

// CreateInput describes a manually granted license (support cases,
// partner deals, developer keys).
type CreateInput struct {
	UserID         uint
	ProductID      uint
	VariantID      *uint
	OrderID        uint
	Type           string
	MaxActivations int
	ValidityDays   int
	AllowedDomains []string
	AllowedIPs     []string
}

// Create issues a fresh license with a generated key. Key collisions are
// absurdly unlikely but cheap to re-roll, so a few attempts are made.
func (a *AdminService) Create(in CreateInput) (*models.License, error) {
	licenseType := in.Type
	if licenseType == "" {
		licenseType = models.LicenseTypePerpetual
	}
	maxActivations := in.MaxActivations
	if maxActivations < 1 {
		maxActivations = 1
	}

	license := &models.License{
		UserID:         in.UserID,
		ProductID:      in.ProductID,
		VariantID:      in.VariantID,
		OrderID:        in.OrderID,
		Status:         models.LicenseStatusPending,
		Type:           licenseType,
		MaxActivations: maxActivations,
		AllowedDomains: in.AllowedDomains,
		AllowedIPs:     in.AllowedIPs,
	}
	if in.ValidityDays > 0 {
		expires := a.clock.Now().AddDate(0, 0, in.ValidityDays)
		license.ExpiresAt = &expires
	}

	for attempt := 0; attempt < 5; attempt++ {
		key, err := a.keys.LicenseKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate license key: %w", err)
		}
		if _, err := a.licenses.GetByKey(key); err == nil {
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		license.LicenseKey = key
		if err := a.licenses.Create(license); err != nil {
			return nil, err
		}
		log.Infof("[Licensing] Issued license %d for user %d", license.ID, license.UserID)
		return license, nil
	}
	return nil, fmt.Errorf("failed to find a free license key after 5 attempts")
}

// UpdateInput lists the mutable policy fields. Nil pointers leave the
// field as is; ClearExpiry removes an existing expiry.
type UpdateInput struct {
	MaxActivations *int
	ExpiresAt      *time.Time
	ClearExpiry    bool
	AllowedDomains *[]string
	AllowedIPs     *[]string
}

// Update mutates expiry, activation cap and allow-lists.
func (a *AdminService) Update(licenseID uint, in UpdateInput) (*models.License, error) {
	license, err := a.get(licenseID)
	if err != nil {
		return nil, err
	}
	if license.Status == models.LicenseStatusRevoked {
		return nil, newError(CodeRevoked, "a revoked license cannot be modified")
	}

	fields := map[string]interface{}{}
	if in.MaxActivations != nil && *in.MaxActivations >= 1 {
		fields["max_activations"] = *in.MaxActivations
	}
	if in.ClearExpiry {
		fields["expires_at"] = nil
	} else if in.ExpiresAt != nil {
		fields["expires_at"] = *in.ExpiresAt
		// Extending the expiry of a lapsed license makes it usable again.
		if license.Status == models.LicenseStatusExpired && in.ExpiresAt.After(a.clock.Now()) {
			fields["status"] = a.statusAfterReinstate(license)
		}
	}
	if in.AllowedDomains != nil {
		fields["allowed_domains"] = models.StringList(*in.AllowedDomains)
	}
	if in.AllowedIPs != nil {
		fields["allowed_ips"] = models.StringList(*in.AllowedIPs)
	}
	if len(fields) == 0 {
		return license, nil
	}

	if err := a.licenses.UpdateFields(licenseID, fields); err != nil {
		return nil, err
	}
	return a.get(licenseID)
}

// Suspend blocks a license without touching its activations.
func (a *AdminService) Suspend(licenseID uint) error {
	license, err := a.get(licenseID)
	if err != nil {
		return err
	}
	switch license.Status {
	case models.LicenseStatusRevoked:
		return newError(CodeRevoked, "a revoked license cannot be suspended")
	case models.LicenseStatusExpired:
		return newError(CodeExpired, "an expired license cannot be suspended")
	case models.LicenseStatusSuspended:
		return nil
	}
	return a.licenses.UpdateFields(licenseID, map[string]interface{}{
		"status": models.LicenseStatusSuspended,
	})
}

// Resume lifts a suspension. The license returns to ACTIVE when it has been
// activated before, otherwise back to PENDING.
func (a *AdminService) Resume(licenseID uint) error {
	license, err := a.get(licenseID)
	if err != nil {
		return err
	}
	if license.Status != models.LicenseStatusSuspended {
		return nil
	}
	return a.licenses.UpdateFields(licenseID, map[string]interface{}{
		"status": a.statusAfterReinstate(license),
	})
}

// Revoke is terminal: every active activation is released with a shared
// reason, then the status flips to REVOKED. Revoking twice is a no-op.
func (a *AdminService) Revoke(licenseID uint, adminID uint, reason string) error {
	license, err := a.get(licenseID)
	if err != nil {
		return err
	}
	if license.Status == models.LicenseStatusRevoked {
		return nil
	}
	if reason == "" {
		reason = "revoked by admin"
	}

	released, err := a.licenses.DeactivateAllForLicense(licenseID, &adminID, reason, a.clock.Now())
	if err != nil {
		return err
	}
	if err := a.licenses.UpdateFields(licenseID, map[string]interface{}{
		"status": models.LicenseStatusRevoked,
	}); err != nil {
		return err
	}
	log.Infof("[Licensing] Revoked license %d, released %d activations", licenseID, released)
	return nil
}

// List pages through licenses with a descending id cursor.
func (a *AdminService) List(filter repository.LicenseFilter) ([]models.License, uint, error) {
	return a.licenses.List(filter)
}

// Get loads one license for the admin surface.
func (a *AdminService) Get(licenseID uint) (*models.License, error) {
	return a.get(licenseID)
}

func (a *AdminService) get(licenseID uint) (*models.License, error) {
	license, err := a.licenses.GetByID(licenseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "license not found")
		}
		return nil, err
	}
	return license, nil
}

func (a *AdminService) statusAfterReinstate(license *models.License) string {
	if license.ActivatedAt != nil {
		return models.LicenseStatusActive
	}
	return models.LicenseStatusPending
}
