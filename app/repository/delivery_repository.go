package repository

import (
	"time"

	"github.com/MarcusBreuer/Vendico/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// deliveryRepository implements the DeliveryRepository interface
type deliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository creates a new delivery repository instance
func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

// CreateIdempotent inserts the delivery guarded by the (order_id, order_item_id)
// unique index. A concurrent loser sees created=false and gets the winning row.
func (r *deliveryRepository) CreateIdempotent(delivery *models.Delivery) (bool, *models.Delivery, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "order_id"},
			{Name: "order_item_id"},
		},
		DoNothing: true,
	}).Create(delivery)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Delivery
	if err := r.db.Where("order_id = ? AND order_item_id = ?", delivery.OrderID, delivery.OrderItemID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// GetByID retrieves a delivery by its ID
func (r *deliveryRepository) GetByID(id uint) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.First(&delivery, id).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// GetByUUID retrieves a delivery by its public UUID
func (r *deliveryRepository) GetByUUID(uuid string) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.Where("uuid = ?", uuid).First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// GetByDownloadToken resolves the token embedded in a download URL
func (r *deliveryRepository) GetByDownloadToken(token string) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.Where("download_token = ? AND download_token <> ''", token).First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// GetByOrderItem retrieves the delivery for one order item
func (r *deliveryRepository) GetByOrderItem(orderID, orderItemID uint) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.Where("order_id = ? AND order_item_id = ?", orderID, orderItemID).First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// ListByOrderID retrieves all deliveries belonging to an order
func (r *deliveryRepository) ListByOrderID(orderID uint) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := r.db.Where("order_id = ?", orderID).Order("order_item_id").Find(&deliveries).Error
	return deliveries, err
}

// ListByUserID retrieves a paginated list of a user's deliveries
func (r *deliveryRepository) ListByUserID(userID uint, offset, limit int) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&deliveries).Error
	return deliveries, err
}

// Update updates an existing delivery
func (r *deliveryRepository) Update(delivery *models.Delivery) error {
	return r.db.Save(delivery).Error
}

// Delete removes a delivery row. Only used when a failed delivery is
// superseded by a successful retry.
func (r *deliveryRepository) Delete(id uint) error {
	return r.db.Unscoped().Delete(&models.Delivery{}, id).Error
}

// SupersedeWithDelivered swaps a failed delivery for its recovered successor
// in one transaction. A rollback keeps the FAILED row, so the order item
// stays visible to the retry sweep even when the insert breaks. The
// OnConflict guard covers a concurrent attempt winning between claim and
// commit; the caller sees created=false and the winning row.
func (r *deliveryRepository) SupersedeWithDelivered(failedID uint, fresh *models.Delivery) (bool, *models.Delivery, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&models.Delivery{}, failedID).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "order_id"},
				{Name: "order_item_id"},
			},
			DoNothing: true,
		}).Create(fresh)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, nil, err
	}

	var stored models.Delivery
	if err := r.db.Where("order_id = ? AND order_item_id = ?", fresh.OrderID, fresh.OrderItemID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ListDueForRetry selects failed deliveries that are due another attempt
func (r *deliveryRepository) ListDueForRetry(now time.Time, limit int) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := r.db.
		Where("status = ? AND retry_count < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			models.DeliveryStatusFailed, models.DeliveryMaxRetries, now).
		Order("next_retry_at").
		Limit(limit).
		Find(&deliveries).Error
	return deliveries, err
}

// ClaimForRetry leases a due row by pushing next_retry_at forward in one
// conditional update. RowsAffected==0 means another sweep got there first.
func (r *deliveryRepository) ClaimForRetry(id uint, now time.Time, lease time.Duration) (bool, error) {
	tx := r.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND retry_count < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			id, models.DeliveryStatusFailed, models.DeliveryMaxRetries, now).
		Update("next_retry_at", now.Add(lease))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// IncrementAccess performs the atomic access-count check-and-increment.
// The cap comparison happens inside the UPDATE, so a concurrent burst
// against max_access_count=1 grants exactly one access.
func (r *deliveryRepository) IncrementAccess(id uint, now time.Time) (bool, error) {
	tx := r.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND (max_access_count IS NULL OR access_count < max_access_count)",
			id, models.DeliveryStatusDelivered).
		Updates(map[string]interface{}{
			"access_count":      gorm.Expr("access_count + 1"),
			"first_accessed_at": gorm.Expr("COALESCE(first_accessed_at, ?)", now),
			"last_accessed_at":  now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ListRetryExhausted lists terminally failed deliveries for operators
func (r *deliveryRepository) ListRetryExhausted(offset, limit int) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := r.db.
		Where("status = ? AND retry_count >= ?", models.DeliveryStatusFailed, models.DeliveryMaxRetries).
		Order("updated_at DESC").Offset(offset).Limit(limit).
		Find(&deliveries).Error
	return deliveries, err
}

// CountByStatus returns the number of deliveries in the given status
func (r *deliveryRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Delivery{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// AppendAccessLog appends one audit row. The table is append-only.
func (r *deliveryRepository) AppendAccessLog(entry *models.DeliveryAccessLog) error {
	return r.db.Create(entry).Error
}

// ListAccessLog returns the most recent audit rows for a delivery
func (r *deliveryRepository) ListAccessLog(deliveryID uint, limit int) ([]models.DeliveryAccessLog, error) {
	var entries []models.DeliveryAccessLog
	err := r.db.Where("delivery_id = ?", deliveryID).
		Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
