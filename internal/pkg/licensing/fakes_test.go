package licensing

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeLicenseRepo emulates the license and activation tables including the
// transactional limit check of CreateActivationWithinLimit.
type fakeLicenseRepo struct {
	mu               sync.Mutex
	nextLicenseID    uint
	nextActivationID uint
	licenses         map[uint]*models.License
	activations      map[uint]*models.LicenseActivation
}

var _ repository.LicenseRepository = (*fakeLicenseRepo)(nil)

func newFakeLicenseRepo() *fakeLicenseRepo {
	return &fakeLicenseRepo{
		licenses:    make(map[uint]*models.License),
		activations: make(map[uint]*models.LicenseActivation),
	}
}

func (r *fakeLicenseRepo) Create(l *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextLicenseID++
	cp := *l
	cp.ID = r.nextLicenseID
	r.licenses[cp.ID] = &cp
	l.ID = cp.ID
	return nil
}

func (r *fakeLicenseRepo) GetByID(id uint) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeLicenseRepo) GetWithActivations(id uint) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *l
	for _, a := range r.activations {
		if a.LicenseID == id {
			cp.Activations = append(cp.Activations, *a)
		}
	}
	return &cp, nil
}

func (r *fakeLicenseRepo) GetByKey(licenseKey string) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.licenses {
		if l.LicenseKey == licenseKey {
			cp := *l
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) Update(l *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.licenses[l.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *l
	r.licenses[l.ID] = &cp
	return nil
}

func (r *fakeLicenseRepo) UpdateFields(id uint, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			l.Status = v.(string)
		case "max_activations":
			l.MaxActivations = v.(int)
		case "expires_at":
			if v == nil {
				l.ExpiresAt = nil
			} else {
				t := v.(time.Time)
				l.ExpiresAt = &t
			}
		case "allowed_domains":
			l.AllowedDomains = v.(models.StringList)
		case "allowed_ips":
			l.AllowedIPs = v.(models.StringList)
		}
	}
	return nil
}

func (r *fakeLicenseRepo) List(filter repository.LicenseFilter) ([]models.License, uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var out []models.License
	// Descending id scan emulates the keyset pagination of the real repo.
	for id := r.nextLicenseID; id > 0; id-- {
		l, ok := r.licenses[id]
		if !ok {
			continue
		}
		if filter.Cursor != 0 && l.ID >= filter.Cursor {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.UserID != 0 && l.UserID != filter.UserID {
			continue
		}
		if filter.ProductID != 0 && l.ProductID != filter.ProductID {
			continue
		}
		out = append(out, *l)
		if len(out) == limit+1 {
			break
		}
	}

	var nextCursor uint
	if len(out) > limit {
		out = out[:limit]
		nextCursor = out[len(out)-1].ID
	}
	return out, nextCursor, nil
}

func (r *fakeLicenseRepo) TouchLastChecked(id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t := at
	l.LastCheckedAt = &t
	return nil
}

func (r *fakeLicenseRepo) CountActiveActivations(licenseID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countActiveLocked(licenseID), nil
}

func (r *fakeLicenseRepo) countActiveLocked(licenseID uint) int64 {
	var n int64
	for _, a := range r.activations {
		if a.LicenseID == licenseID && a.IsActive {
			n++
		}
	}
	return n
}

func (r *fakeLicenseRepo) GetActiveActivationByMachine(licenseID uint, machineID string) (*models.LicenseActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.activations {
		if a.LicenseID == licenseID && a.IsActive && a.MachineID == machineID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) GetActivationByID(id uint) (*models.LicenseActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activations[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeLicenseRepo) CreateActivationWithinLimit(license *models.License, activation *models.LicenseActivation, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.licenses[license.ID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if r.countActiveLocked(license.ID) >= int64(stored.MaxActivations) {
		return false, nil
	}

	r.nextActivationID++
	cp := *activation
	cp.ID = r.nextActivationID
	cp.IsActive = true
	r.activations[cp.ID] = &cp
	activation.ID = cp.ID

	stamp := at
	stored.Status = models.LicenseStatusActive
	stored.ActivationCount++
	if stored.ActivatedAt == nil {
		stored.ActivatedAt = &stamp
	}
	stored.LastCheckedAt = &stamp
	return true, nil
}

func (r *fakeLicenseRepo) DeactivateActivation(id uint, by *uint, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activations[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.IsActive = false
	a.DeactivatedAt = &at
	a.DeactivatedBy = by
	a.DeactivateReason = reason
	return nil
}

func (r *fakeLicenseRepo) DeactivateAllForLicense(licenseID uint, by *uint, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.activations {
		if a.LicenseID == licenseID && a.IsActive {
			a.IsActive = false
			a.DeactivatedAt = &at
			a.DeactivatedBy = by
			a.DeactivateReason = reason
			n++
		}
	}
	return n, nil
}

// fakeProductRepo resolves product names for Verify.
type fakeProductRepo struct {
	mu       sync.Mutex
	products map[uint]*models.Product
}

var _ repository.ProductRepository = (*fakeProductRepo)(nil)

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[uint]*models.Product)}
}

func (r *fakeProductRepo) Create(p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *fakeProductRepo) GetByID(id uint) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProductRepo) GetBySlug(slug string) (*models.Product, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeProductRepo) GetVariantByID(id uint) (*models.ProductVariant, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeProductRepo) Update(p *models.Product) error                    { return nil }
func (r *fakeProductRepo) List(offset, limit int) ([]models.Product, error) { return nil, nil }
func (r *fakeProductRepo) Count() (int64, error)                            { return 0, nil }
