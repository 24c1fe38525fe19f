package fulfillment

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
)

// fakeClock is a settable clock for backoff assertions.
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

// fakeNotifier records emitted notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) Notify(userID uint, title, body string, orderID uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, title)
}

func (n *fakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// fakeProductRepo serves the catalog from memory.
type fakeProductRepo struct {
	mu       sync.Mutex
	products map[uint]*models.Product
	variants map[uint]*models.ProductVariant
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{
		products: make(map[uint]*models.Product),
		variants: make(map[uint]*models.ProductVariant),
	}
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
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeProductRepo) GetVariantByID(id uint) (*models.ProductVariant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *fakeProductRepo) Update(p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *fakeProductRepo) List(offset, limit int) ([]models.Product, error) { return nil, nil }
func (r *fakeProductRepo) Count() (int64, error)                            { return int64(len(r.products)), nil }

func (r *fakeProductRepo) remove(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
}

// fakeOrderRepo serves orders and records status transitions.
type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uint]*models.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uint]*models.Order)}
}

func (r *fakeOrderRepo) Create(o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
	return nil
}

func (r *fakeOrderRepo) GetByID(id uint) (*models.Order, error) {
	return r.GetWithItems(id)
}

func (r *fakeOrderRepo) GetWithItems(id uint) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (r *fakeOrderRepo) GetItemByID(id uint) (*models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		for i := range o.Items {
			if o.Items[i].ID == id {
				cp := o.Items[i]
				return &cp, nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeOrderRepo) MarkPaid(id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.Status = models.OrderStatusPaid
	o.PaidAt = &at
	return nil
}

func (r *fakeOrderRepo) UpdateStatus(id uint, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.Status = status
	return nil
}

func (r *fakeOrderRepo) ListByUserID(userID uint, offset, limit int) ([]models.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) status(id uint) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

// fakeDeliveryRepo emulates the delivery table including the
// (order_id, order_item_id) unique index and the conditional updates.
type fakeDeliveryRepo struct {
	mu           sync.Mutex
	nextID       uint
	rows         map[uint]*models.Delivery
	logs         []models.DeliveryAccessLog
	supersedeErr error
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{rows: make(map[uint]*models.Delivery)}
}

func (r *fakeDeliveryRepo) CreateIdempotent(d *models.Delivery) (bool, *models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OrderID == d.OrderID && row.OrderItemID == d.OrderItemID {
			cp := *row
			return false, &cp, nil
		}
	}
	r.nextID++
	cp := *d
	cp.ID = r.nextID
	r.rows[cp.ID] = &cp
	out := cp
	d.ID = cp.ID
	return true, &out, nil
}

func (r *fakeDeliveryRepo) GetByID(id uint) (*models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *fakeDeliveryRepo) GetByUUID(uuid string) (*models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UUID == uuid {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeDeliveryRepo) GetByDownloadToken(token string) (*models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.DownloadToken != "" && row.DownloadToken == token {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeDeliveryRepo) GetByOrderItem(orderID, orderItemID uint) (*models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OrderID == orderID && row.OrderItemID == orderItemID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeDeliveryRepo) ListByOrderID(orderID uint) ([]models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Delivery
	for _, row := range r.rows {
		if row.OrderID == orderID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) ListByUserID(userID uint, offset, limit int) ([]models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Delivery
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) Update(d *models.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[d.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *d
	r.rows[d.ID] = &cp
	return nil
}

func (r *fakeDeliveryRepo) Delete(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

// SupersedeWithDelivered mirrors the transactional swap: on the injected
// storage error nothing changes, like a rolled back transaction.
func (r *fakeDeliveryRepo) SupersedeWithDelivered(failedID uint, fresh *models.Delivery) (bool, *models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.supersedeErr != nil {
		err := r.supersedeErr
		r.supersedeErr = nil
		return false, nil, err
	}
	delete(r.rows, failedID)
	for _, row := range r.rows {
		if row.OrderID == fresh.OrderID && row.OrderItemID == fresh.OrderItemID {
			cp := *row
			return false, &cp, nil
		}
	}
	r.nextID++
	cp := *fresh
	cp.ID = r.nextID
	r.rows[cp.ID] = &cp
	out := cp
	fresh.ID = cp.ID
	return true, &out, nil
}

func (r *fakeDeliveryRepo) failNextSupersede(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supersedeErr = err
}

func (r *fakeDeliveryRepo) ListDueForRetry(now time.Time, limit int) ([]models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Delivery
	for _, row := range r.rows {
		if row.Status == models.DeliveryStatusFailed &&
			row.RetryCount < models.DeliveryMaxRetries &&
			row.NextRetryAt != nil && !row.NextRetryAt.After(now) {
			out = append(out, *row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) ClaimForRetry(id uint, now time.Time, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if row.Status != models.DeliveryStatusFailed ||
		row.RetryCount >= models.DeliveryMaxRetries ||
		row.NextRetryAt == nil || row.NextRetryAt.After(now) {
		return false, nil
	}
	next := now.Add(lease)
	row.NextRetryAt = &next
	return true, nil
}

func (r *fakeDeliveryRepo) IncrementAccess(id uint, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if row.Status != models.DeliveryStatusDelivered {
		return false, nil
	}
	if row.MaxAccessCount != nil && row.AccessCount >= *row.MaxAccessCount {
		return false, nil
	}
	row.AccessCount++
	if row.FirstAccessedAt == nil {
		first := now
		row.FirstAccessedAt = &first
	}
	last := now
	row.LastAccessedAt = &last
	return true, nil
}

func (r *fakeDeliveryRepo) ListRetryExhausted(offset, limit int) ([]models.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Delivery
	for _, row := range r.rows {
		if row.Status == models.DeliveryStatusFailed && row.RetryCount >= models.DeliveryMaxRetries {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) CountByStatus(status string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *fakeDeliveryRepo) AppendAccessLog(entry *models.DeliveryAccessLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *entry)
	return nil
}

func (r *fakeDeliveryRepo) ListAccessLog(deliveryID uint, limit int) ([]models.DeliveryAccessLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DeliveryAccessLog
	for _, l := range r.logs {
		if l.DeliveryID == deliveryID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *fakeDeliveryRepo) logActions(deliveryID uint) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.logs {
		if l.DeliveryID == deliveryID {
			out = append(out, l.Action)
		}
	}
	return out
}

// fakeLicenseRepo only needs Create for the dispatcher tests.
type fakeLicenseRepo struct {
	mu       sync.Mutex
	licenses []*models.License
}

var _ repository.LicenseRepository = (*fakeLicenseRepo)(nil)

func (r *fakeLicenseRepo) Create(l *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	cp.ID = uint(len(r.licenses) + 1)
	r.licenses = append(r.licenses, &cp)
	return nil
}

func (r *fakeLicenseRepo) GetByID(id uint) (*models.License, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) GetWithActivations(id uint) (*models.License, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) GetByKey(licenseKey string) (*models.License, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) Update(l *models.License) error { return nil }

func (r *fakeLicenseRepo) UpdateFields(id uint, fields map[string]interface{}) error { return nil }

func (r *fakeLicenseRepo) List(filter repository.LicenseFilter) ([]models.License, uint, error) {
	return nil, 0, nil
}

func (r *fakeLicenseRepo) TouchLastChecked(id uint, at time.Time) error { return nil }

func (r *fakeLicenseRepo) CountActiveActivations(licenseID uint) (int64, error) { return 0, nil }

func (r *fakeLicenseRepo) GetActiveActivationByMachine(licenseID uint, machineID string) (*models.LicenseActivation, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) GetActivationByID(id uint) (*models.LicenseActivation, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeLicenseRepo) CreateActivationWithinLimit(license *models.License, activation *models.LicenseActivation, at time.Time) (bool, error) {
	return false, nil
}

func (r *fakeLicenseRepo) DeactivateActivation(id uint, by *uint, reason string, at time.Time) error {
	return nil
}

func (r *fakeLicenseRepo) DeactivateAllForLicense(licenseID uint, by *uint, reason string, at time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeLicenseRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.licenses)
}

var (
	_ repository.ProductRepository  = (*fakeProductRepo)(nil)
	_ repository.OrderRepository    = (*fakeOrderRepo)(nil)
	_ repository.DeliveryRepository = (*fakeDeliveryRepo)(nil)
)
