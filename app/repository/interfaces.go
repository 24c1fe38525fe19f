package repository

import (
	"time"

	"github.com/MarcusBreuer/Vendico/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	TouchAPIKeyUsage(userID uint, at time.Time) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// ProductRepository defines the interface for catalog lookups during fulfillment
type ProductRepository interface {
	Create(product *models.Product) error
	GetByID(id uint) (*models.Product, error)
	GetBySlug(slug string) (*models.Product, error)
	GetVariantByID(id uint) (*models.ProductVariant, error)
	Update(product *models.Product) error
	List(offset, limit int) ([]models.Product, error)
	Count() (int64, error)
}

// OrderRepository defines the interface for order-related database operations
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetWithItems(id uint) (*models.Order, error)
	GetItemByID(id uint) (*models.OrderItem, error)
	MarkPaid(id uint, at time.Time) error
	UpdateStatus(id uint, status string) error
	ListByUserID(userID uint, offset, limit int) ([]models.Order, error)
}

// DeliveryRepository defines the interface for the delivery ledger.
// CreateIdempotent and IncrementAccess carry the concurrency contract:
// both are single atomic statements, never read-then-write.
type DeliveryRepository interface {
	// CreateIdempotent inserts the delivery unless a row for the same
	// (order_id, order_item_id) already exists. It reports whether the
	// insert happened and always returns the stored row.
	CreateIdempotent(delivery *models.Delivery) (bool, *models.Delivery, error)
	GetByID(id uint) (*models.Delivery, error)
	GetByUUID(uuid string) (*models.Delivery, error)
	GetByDownloadToken(token string) (*models.Delivery, error)
	GetByOrderItem(orderID, orderItemID uint) (*models.Delivery, error)
	ListByOrderID(orderID uint) ([]models.Delivery, error)
	ListByUserID(userID uint, offset, limit int) ([]models.Delivery, error)
	Update(delivery *models.Delivery) error
	Delete(id uint) error
	// SupersedeWithDelivered replaces a FAILED row with its recovered
	// DELIVERED successor. Delete and insert run in one transaction, so
	// a storage error can never leave the order item without any row.
	// A concurrent winner is reported as created=false.
	SupersedeWithDelivered(failedID uint, fresh *models.Delivery) (bool, *models.Delivery, error)

	// ListDueForRetry returns FAILED deliveries within the retry budget
	// whose next_retry_at has passed.
	ListDueForRetry(now time.Time, limit int) ([]models.Delivery, error)
	// ClaimForRetry pushes next_retry_at forward by lease iff the row is
	// still due, so concurrent sweeps cannot double-retry one row.
	ClaimForRetry(id uint, now time.Time, lease time.Duration) (bool, error)
	// IncrementAccess is the atomic check-and-increment of access_count
	// against max_access_count. Reports whether the access was granted.
	IncrementAccess(id uint, now time.Time) (bool, error)

	ListRetryExhausted(offset, limit int) ([]models.Delivery, error)
	CountByStatus(status string) (int64, error)

	AppendAccessLog(entry *models.DeliveryAccessLog) error
	ListAccessLog(deliveryID uint, limit int) ([]models.DeliveryAccessLog, error)
}

// LicenseFilter narrows admin license listings. Zero values mean "any".
type LicenseFilter struct {
	Status    string
	UserID    uint
	ProductID uint
	Cursor    uint // list ids strictly below this; 0 = from the top
	Limit     int
}

// LicenseRepository defines the interface for licenses and their activations.
// CreateActivationWithinLimit holds the activation-limit invariant inside a
// single transaction with a row lock on the license.
type LicenseRepository interface {
	Create(license *models.License) error
	GetByID(id uint) (*models.License, error)
	GetWithActivations(id uint) (*models.License, error)
	GetByKey(licenseKey string) (*models.License, error)
	Update(license *models.License) error
	UpdateFields(id uint, fields map[string]interface{}) error
	List(filter LicenseFilter) ([]models.License, uint, error)
	TouchLastChecked(id uint, at time.Time) error

	CountActiveActivations(licenseID uint) (int64, error)
	GetActiveActivationByMachine(licenseID uint, machineID string) (*models.LicenseActivation, error)
	GetActivationByID(id uint) (*models.LicenseActivation, error)
	// CreateActivationWithinLimit creates the activation and applies the
	// license-side effects (status, activated_at, activation_count,
	// last_checked_at stamped with at) iff the active-activation count
	// stays within MaxActivations. Reports whether the activation was
	// created.
	CreateActivationWithinLimit(license *models.License, activation *models.LicenseActivation, at time.Time) (bool, error)
	DeactivateActivation(id uint, by *uint, reason string, at time.Time) error
	DeactivateAllForLicense(licenseID uint, by *uint, reason string, at time.Time) (int64, error)
}

// QueueRepository defines the interface for cache/queue introspection
type QueueRepository interface {
	GetValue(key string) (string, error)
	GetTTL(key string) (time.Duration, error)
	DeleteKey(key string) (int64, error)
	FindKeysByPatterns(patterns []string) ([]string, error)
	DeleteKeys(keys []string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User     UserRepository
	Product  ProductRepository
	Order    OrderRepository
	Delivery DeliveryRepository
	License  LicenseRepository
	Queue    QueueRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Product:  NewProductRepository(db),
		Order:    NewOrderRepository(db),
		Delivery: NewDeliveryRepository(db),
		License:  NewLicenseRepository(db),
		Queue:    NewQueueRepository(),
	}
}
