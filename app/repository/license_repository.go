package repository

import (
	"time"

	"github.com/MarcusBreuer/Vendico/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// licenseRepository implements the LicenseRepository interface
type licenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository creates a new license repository instance
func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

// Create creates a new license row
func (r *licenseRepository) Create(license *models.License) error {
	return r.db.Create(license).Error
}

// GetByID retrieves a license by its ID
func (r *licenseRepository) GetByID(id uint) (*models.License, error) {
	var license models.License
	err := r.db.First(&license, id).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// GetWithActivations retrieves a license including its activation history
func (r *licenseRepository) GetWithActivations(id uint) (*models.License, error) {
	var license models.License
	err := r.db.Preload("Activations", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at DESC")
	}).First(&license, id).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// GetByKey retrieves a license by its license key
func (r *licenseRepository) GetByKey(licenseKey string) (*models.License, error) {
	var license models.License
	err := r.db.Where("license_key = ?", licenseKey).First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// Update saves an existing license
func (r *licenseRepository) Update(license *models.License) error {
	return r.db.Save(license).Error
}

// UpdateFields applies a partial update to a license
func (r *licenseRepository) UpdateFields(id uint, fields map[string]interface{}) error {
	return r.db.Model(&models.License{}).Where("id = ?", id).Updates(fields).Error
}

// List pages licenses newest-first with an id cursor. The returned cursor is
// 0 when the listing is exhausted.
func (r *licenseRepository) List(filter LicenseFilter) ([]models.License, uint, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.Model(&models.License{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.ProductID != 0 {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.Cursor != 0 {
		query = query.Where("id < ?", filter.Cursor)
	}

	var licenses []models.License
	// Fetch one extra row to know whether a next page exists.
	err := query.Order("id DESC").Limit(limit + 1).Find(&licenses).Error
	if err != nil {
		return nil, 0, err
	}

	var nextCursor uint
	if len(licenses) > limit {
		licenses = licenses[:limit]
		nextCursor = licenses[len(licenses)-1].ID
	}
	return licenses, nextCursor, nil
}

// TouchLastChecked updates the verification timestamp
func (r *licenseRepository) TouchLastChecked(id uint, at time.Time) error {
	return r.db.Model(&models.License{}).Where("id = ?", id).
		Update("last_checked_at", at).Error
}

// CountActiveActivations counts live activations for a license
func (r *licenseRepository) CountActiveActivations(licenseID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.LicenseActivation{}).
		Where("license_id = ? AND is_active = ?", licenseID, true).
		Count(&count).Error
	return count, err
}

// GetActiveActivationByMachine finds a live activation bound to a machine id
func (r *licenseRepository) GetActiveActivationByMachine(licenseID uint, machineID string) (*models.LicenseActivation, error) {
	var activation models.LicenseActivation
	err := r.db.Where("license_id = ? AND machine_id = ? AND is_active = ?", licenseID, machineID, true).
		First(&activation).Error
	if err != nil {
		return nil, err
	}
	return &activation, nil
}

// GetActivationByID retrieves one activation row
func (r *licenseRepository) GetActivationByID(id uint) (*models.LicenseActivation, error) {
	var activation models.LicenseActivation
	err := r.db.First(&activation, id).Error
	if err != nil {
		return nil, err
	}
	return &activation, nil
}

// CreateActivationWithinLimit runs the limit check and the insert in one
// transaction with the license row locked, so two concurrent activations
// cannot both pass the check.
func (r *licenseRepository) CreateActivationWithinLimit(license *models.License, activation *models.LicenseActivation, at time.Time) (bool, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var locked models.License
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, license.ID).Error; err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.LicenseActivation{}).
			Where("license_id = ? AND is_active = ?", locked.ID, true).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(locked.MaxActivations) {
			return nil
		}

		activation.LicenseID = locked.ID
		if err := tx.Create(activation).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":           models.LicenseStatusActive,
			"activation_count": gorm.Expr("activation_count + 1"),
			"last_checked_at":  at,
		}
		if locked.ActivatedAt == nil {
			updates["activated_at"] = at
		}
		if err := tx.Model(&models.License{}).Where("id = ?", locked.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		created = true
		return nil
	})
	return created, err
}

// DeactivateActivation soft-deactivates one activation
func (r *licenseRepository) DeactivateActivation(id uint, by *uint, reason string, at time.Time) error {
	return r.db.Model(&models.LicenseActivation{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":         false,
			"deactivated_at":    at,
			"deactivated_by":    by,
			"deactivate_reason": reason,
		}).Error
}

// DeactivateAllForLicense soft-deactivates every live activation of a license
// with a shared reason. Used by admin revoke.
func (r *licenseRepository) DeactivateAllForLicense(licenseID uint, by *uint, reason string, at time.Time) (int64, error) {
	tx := r.db.Model(&models.LicenseActivation{}).
		Where("license_id = ? AND is_active = ?", licenseID, true).
		Updates(map[string]interface{}{
			"is_active":         false,
			"deactivated_at":    at,
			"deactivated_by":    by,
			"deactivate_reason": reason,
		})
	return tx.RowsAffected, tx.Error
}
