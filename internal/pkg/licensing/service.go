package licensing

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
)

// Clock abstracts time so expiry transitions can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Service implements the license entitlement state machine. All policy
// rejections come back as *Error with a stable reason code.
type Service struct {
	licenses repository.LicenseRepository
	products repository.ProductRepository
	clock    Clock
}

// NewService creates a licensing service. A nil clock falls back to the
// wall clock.
func NewService(licenses repository.LicenseRepository, products repository.ProductRepository, clock Clock) *Service {
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{licenses: licenses, products: products, clock: clock}
}

// ActivateInput carries the installation fingerprint of an activation call.
type ActivateInput struct {
	MachineID string
	Hostname  string
	Domain    string
	IPAddress string
}

// ActivateResult reports a successful (or idempotently repeated) activation.
type ActivateResult struct {
	ActivationID  uint
	AlreadyActive bool
	License       *models.License
}

// Activate binds the license to an installation. Re-activating a machine
// that is already active is a no-op success returning the existing
// activation, so clients can retry safely; this short-circuits before the
// activation cap so a retry at the limit still succeeds. The cap itself is
// enforced inside one locked transaction, never by a separate read.
func (s *Service) Activate(userID uint, licenseKey string, in ActivateInput) (*ActivateResult, error) {
	license, err := s.getByKey(licenseKey, CodeNotFound)
	if err != nil {
		return nil, err
	}
	if license.UserID != userID {
		return nil, newError(CodeForbidden, "license belongs to another user")
	}
	if err := s.checkActivatable(license); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if in.MachineID != "" {
		existing, err := s.licenses.GetActiveActivationByMachine(license.ID, in.MachineID)
		if err == nil {
			if terr := s.licenses.TouchLastChecked(license.ID, now); terr != nil {
				log.Warnf("[Licensing] Failed to touch license %d: %v", license.ID, terr)
			}
			return &ActivateResult{ActivationID: existing.ID, AlreadyActive: true, License: license}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if len(license.AllowedDomains) > 0 && in.Domain != "" && !license.AllowedDomains.Contains(in.Domain) {
		return nil, newError(CodeDomainNotAllowed, "domain is not on the allow-list of this license")
	}
	if len(license.AllowedIPs) > 0 && in.IPAddress != "" && !license.AllowedIPs.Contains(in.IPAddress) {
		return nil, newError(CodeIPNotAllowed, "ip address is not on the allow-list of this license")
	}

	activation := &models.LicenseActivation{
		LicenseID: license.ID,
		MachineID: in.MachineID,
		Hostname:  in.Hostname,
		Domain:    in.Domain,
		IPAddress: in.IPAddress,
		IsActive:  true,
	}
	created, err := s.licenses.CreateActivationWithinLimit(license, activation, now)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, newError(CodeActivationLimit, "the activation limit of this license is reached, deactivate another device first")
	}

	log.Infof("[Licensing] Activated license %d on machine %q (activation %d)", license.ID, in.MachineID, activation.ID)

	fresh, err := s.licenses.GetByID(license.ID)
	if err != nil {
		fresh = license
	}
	return &ActivateResult{ActivationID: activation.ID, License: fresh}, nil
}

// VerifyInput carries the optional fingerprint a client sends on every run.
type VerifyInput struct {
	MachineID string
	Domain    string
}

// VerifyResult is what client software needs to unlock itself.
type VerifyResult struct {
	Status      string
	Type        string
	ProductName string
	ExpiresAt   *time.Time
}

// Verify is the read-mostly entitlement check. The key itself is the
// credential, so there is no caller identity to match. lastCheckedAt is
// persisted on the successful path only.
func (s *Service) Verify(licenseKey string, in VerifyInput) (*VerifyResult, error) {
	license, err := s.getByKey(licenseKey, CodeInvalidKey)
	if err != nil {
		return nil, err
	}

	switch license.Status {
	case models.LicenseStatusSuspended:
		return nil, newError(CodeSuspended, "this license is suspended")
	case models.LicenseStatusRevoked:
		return nil, newError(CodeRevoked, "this license has been revoked")
	}
	if err := s.failIfExpired(license); err != nil {
		return nil, err
	}

	if in.MachineID != "" {
		if _, err := s.licenses.GetActiveActivationByMachine(license.ID, in.MachineID); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			active, cerr := s.licenses.CountActiveActivations(license.ID)
			if cerr != nil {
				return nil, cerr
			}
			if active > 0 {
				return nil, newError(CodeMachineNotActivated, "this machine is not activated for the license")
			}
		}
	}
	if len(license.AllowedDomains) > 0 && in.Domain != "" && !license.AllowedDomains.Contains(in.Domain) {
		return nil, newError(CodeDomainNotAllowed, "domain is not on the allow-list of this license")
	}

	if err := s.licenses.TouchLastChecked(license.ID, s.clock.Now()); err != nil {
		log.Warnf("[Licensing] Failed to touch license %d: %v", license.ID, err)
	}

	productName := ""
	if product, err := s.products.GetByID(license.ProductID); err == nil {
		productName = product.Name
	}
	return &VerifyResult{
		Status:      license.Status,
		Type:        license.Type,
		ProductName: productName,
		ExpiresAt:   license.ExpiresAt,
	}, nil
}

// Deactivate releases one activation. Already inactive activations are a
// no-op success. The license status is untouched, other activations may
// still be live.
func (s *Service) Deactivate(userID, activationID uint) error {
	activation, err := s.licenses.GetActivationByID(activationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(CodeNotFound, "activation not found")
		}
		return err
	}
	license, err := s.licenses.GetByID(activation.LicenseID)
	if err != nil {
		return err
	}
	if license.UserID != userID {
		return newError(CodeForbidden, "license belongs to another user")
	}
	if !activation.IsActive {
		return nil
	}
	return s.licenses.DeactivateActivation(activationID, &userID, "deactivated by owner", s.clock.Now())
}

// ListForUser returns the caller's licenses, newest first.
func (s *Service) ListForUser(userID uint, cursor uint, limit int) ([]models.License, uint, error) {
	return s.licenses.List(repository.LicenseFilter{UserID: userID, Cursor: cursor, Limit: limit})
}

// GetOwned loads one license with its activation history and enforces
// ownership.
func (s *Service) GetOwned(userID, licenseID uint) (*models.License, error) {
	license, err := s.licenses.GetWithActivations(licenseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "license not found")
		}
		return nil, err
	}
	if license.UserID != userID {
		return nil, newError(CodeForbidden, "license belongs to another user")
	}
	return license, nil
}

func (s *Service) getByKey(licenseKey, missingCode string) (*models.License, error) {
	license, err := s.licenses.GetByKey(licenseKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(missingCode, "license key is unknown")
		}
		return nil, err
	}
	return license, nil
}

func (s *Service) checkActivatable(license *models.License) error {
	switch license.Status {
	case models.LicenseStatusSuspended:
		return newError(CodeSuspended, "this license is suspended")
	case models.LicenseStatusRevoked:
		return newError(CodeRevoked, "this license has been revoked")
	}
	return s.failIfExpired(license)
}

// failIfExpired applies lazy expiry: the transition to EXPIRED happens at
// use time, there is no background sweep.
func (s *Service) failIfExpired(license *models.License) error {
	if license.Status == models.LicenseStatusExpired {
		return newError(CodeExpired, "this license has expired")
	}
	if license.IsExpired(s.clock.Now()) {
		if err := s.licenses.UpdateFields(license.ID, map[string]interface{}{
			"status": models.LicenseStatusExpired,
		}); err != nil {
			log.Errorf("[Licensing] Failed to expire license %d: %v", license.ID, err)
		}
		license.Status = models.LicenseStatusExpired
		return newError(CodeExpired, "this license has expired")
	}
	return nil
}
