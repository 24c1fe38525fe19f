package fulfillment

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
)

const (
	// retryBaseDelay is the unit of the exponential backoff schedule.
	retryBaseDelay = 5 * time.Minute

	// retryClaimLease is how far a claimed row's next_retry_at is pushed
	// forward. A crashed sweep surrenders the row after this long.
	retryClaimLease = 2 * time.Minute
)

// RetrySweepResult summarizes one pass over the due failed deliveries.
type RetrySweepResult struct {
	Scanned     int
	Claimed     int
	Recovered   int
	Rescheduled int
	Exhausted   int
}

// RetryFailedDeliveries runs one retry sweep: it claims every due FAILED
// delivery and re-attempts fulfillment. A successful attempt flips the row
// to DELIVERED in place; a failed one reschedules with exponential backoff
// until the retry budget is spent.
func (d *Dispatcher) RetryFailedDeliveries(limit int) (*RetrySweepResult, error) {
	now := d.clock.Now()
	due, err := d.deliveries.ListDueForRetry(now, limit)
	if err != nil {
		return nil, err
	}

	result := &RetrySweepResult{Scanned: len(due)}
	for i := range due {
		delivery := &due[i]

		claimed, err := d.deliveries.ClaimForRetry(delivery.ID, now, retryClaimLease)
		if err != nil {
			log.Errorf("[Fulfillment] Failed to claim delivery %d for retry: %v", delivery.ID, err)
			continue
		}
		if !claimed {
			// Another sweep instance got there first.
			continue
		}
		result.Claimed++

		d.retryDelivery(delivery, result)
	}
	return result, nil
}

// retryDelivery re-runs the generation path. A successful attempt replaces
// the FAILED row with a fresh DELIVERED one in a single transaction; when
// the swap fails the FAILED row survives and the next sweep picks it up
// after the claim lease runs out.
func (d *Dispatcher) retryDelivery(delivery *models.Delivery, result *RetrySweepResult) {
	product, variant, err := d.lookupCatalog(delivery.ProductID, delivery.VariantID)
	var generated *GeneratedContent
	if err == nil {
		generated, err = d.generator.Generate(product, variant)
	}
	if err != nil {
		d.recordRetryFailure(delivery, err, result)
		return
	}

	fresh := d.buildDelivered(delivery.OrderID, delivery.OrderItemID, delivery.UserID, product, variant, delivery.VariantID, generated)
	created, stored, err := d.deliveries.SupersedeWithDelivered(delivery.ID, fresh)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to store recovered delivery for order %d item %d: %v",
			delivery.OrderID, delivery.OrderItemID, err)
		return
	}
	result.Recovered++

	if created {
		d.finishDelivered(stored, product, variant, generated)
	}
	d.refreshOrderStatus(delivery.OrderID)
}

// recordRetryFailure increments the retry count and schedules the next
// attempt at now + 5min * 2^retryCount (counted after the increment), so the
// gaps grow 10 then 20 minutes. The third failure is terminal: it clears
// next_retry_at and leaves the row for an operator.
func (d *Dispatcher) recordRetryFailure(delivery *models.Delivery, cause error, result *RetrySweepResult) {
	delivery.RetryCount++
	delivery.FailureReason = cause.Error()

	if delivery.RetryCount < models.DeliveryMaxRetries {
		next := d.clock.Now().Add(retryBaseDelay << uint(delivery.RetryCount))
		delivery.NextRetryAt = &next
		result.Rescheduled++
		log.Warnf("[Fulfillment] Retry %d of delivery %d failed, next attempt at %s: %v",
			delivery.RetryCount, delivery.ID, next.UTC().Format(time.RFC3339), cause)
	} else {
		delivery.NextRetryAt = nil
		result.Exhausted++
		log.Errorf("[Fulfillment] Delivery %d exhausted its retries and needs manual intervention: %v",
			delivery.ID, cause)
	}

	if err := d.deliveries.Update(delivery); err != nil {
		log.Errorf("[Fulfillment] Failed to store retry state of delivery %d: %v", delivery.ID, err)
	}
}

// refreshOrderStatus recomputes the order status after a recovered delivery.
// All items delivered means COMPLETED, otherwise the order stays PROCESSING.
func (d *Dispatcher) refreshOrderStatus(orderID uint) {
	order, err := d.orders.GetWithItems(orderID)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to load order %d for status refresh: %v", orderID, err)
		return
	}
	deliveries, err := d.deliveries.ListByOrderID(orderID)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to load deliveries of order %d: %v", orderID, err)
		return
	}

	delivered := 0
	for _, dv := range deliveries {
		if dv.Status == models.DeliveryStatusDelivered {
			delivered++
		}
	}

	status := models.OrderStatusProcessing
	if delivered == len(order.Items) {
		status = models.OrderStatusCompleted
	}
	if order.Status == status {
		return
	}
	if err := d.orders.UpdateStatus(orderID, status); err != nil {
		log.Errorf("[Fulfillment] Failed to update status of order %d: %v", orderID, err)
	}
}
