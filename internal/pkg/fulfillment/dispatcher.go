package fulfillment

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
)

const (
	// initialRetryDelay is scheduled on the first failure of an item.
	initialRetryDelay = 5 * time.Minute
)

// Notifier is the outbound notification sink. Implementations must be
// fire-and-forget: a notification failure never fails a delivery.
type Notifier interface {
	Notify(userID uint, title string, body string, orderID uint)
}

// DeliveryResult reports the outcome of fulfilling one order item.
type DeliveryResult struct {
	DeliveryID    uint
	DeliveryUUID  string
	OrderItemID   uint
	Success       bool
	FailureReason string
}

// OrderResult aggregates per-item outcomes into the three-way order status.
type OrderResult struct {
	OrderID     uint
	Total       int
	Delivered   int
	Failed      int
	OrderStatus string
}

// Dispatcher turns a paid order into one delivery per item.
type Dispatcher struct {
	products   repository.ProductRepository
	orders     repository.OrderRepository
	deliveries repository.DeliveryRepository
	licenses   repository.LicenseRepository
	generator  *ContentGenerator
	notifier   Notifier
	clock      Clock
}

// NewDispatcher wires the fulfillment dispatcher from its repositories.
func NewDispatcher(
	products repository.ProductRepository,
	orders repository.OrderRepository,
	deliveries repository.DeliveryRepository,
	licenses repository.LicenseRepository,
	generator *ContentGenerator,
	notifier Notifier,
	clock Clock,
) *Dispatcher {
	if clock == nil {
		clock = SystemClock()
	}
	return &Dispatcher{
		products:   products,
		orders:     orders,
		deliveries: deliveries,
		licenses:   licenses,
		generator:  generator,
		notifier:   notifier,
		clock:      clock,
	}
}

// ProcessOrderDeliveries fulfills every item of an order. Items are
// independent and processed in parallel; the order status is written only
// after all items have finished. The outcome is three-way: COMPLETED when
// every item delivered, PROCESSING on partial fulfillment, and the order is
// left untouched when all items failed.
func (d *Dispatcher) ProcessOrderDeliveries(orderID uint) (*OrderResult, error) {
	order, err := d.orders.GetWithItems(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if len(order.Items) == 0 {
		return &OrderResult{OrderID: orderID, OrderStatus: order.Status}, nil
	}

	results := make([]*DeliveryResult, len(order.Items))
	var wg sync.WaitGroup
	for i := range order.Items {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			item := order.Items[idx]
			results[idx] = d.ProcessDelivery(order.ID, item.ID, order.UserID, item.ProductID, item.VariantID)
		}(i)
	}
	wg.Wait()

	result := &OrderResult{OrderID: orderID, Total: len(order.Items), OrderStatus: order.Status}
	for _, r := range results {
		if r.Success {
			result.Delivered++
		} else {
			result.Failed++
		}
	}

	switch {
	case result.Failed == 0:
		result.OrderStatus = models.OrderStatusCompleted
	case result.Delivered > 0:
		result.OrderStatus = models.OrderStatusProcessing
	default:
		// All items failed: the order keeps its current status and the
		// retry scheduler drives the items forward.
		return result, nil
	}

	if err := d.orders.UpdateStatus(orderID, result.OrderStatus); err != nil {
		log.Errorf("[Fulfillment] Failed to update status of order %d: %v", orderID, err)
	}
	return result, nil
}

// ProcessDelivery fulfills a single order item. Failures during lookup or
// generation are persisted as a FAILED delivery with an initial retry
// schedule; they are never propagated to the caller.
func (d *Dispatcher) ProcessDelivery(orderID, orderItemID, userID, productID uint, variantID *uint) *DeliveryResult {
	result := &DeliveryResult{OrderItemID: orderItemID}

	product, variant, err := d.lookupCatalog(productID, variantID)
	if err != nil {
		return d.persistFailure(result, orderID, orderItemID, userID, productID, variantID, err)
	}

	generated, err := d.generator.Generate(product, variant)
	if err != nil {
		return d.persistFailure(result, orderID, orderItemID, userID, productID, variantID, err)
	}

	delivery := d.buildDelivered(orderID, orderItemID, userID, product, variant, variantID, generated)
	created, stored, err := d.deliveries.CreateIdempotent(delivery)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to persist delivery for order %d item %d: %v", orderID, orderItemID, err)
		result.FailureReason = err.Error()
		return result
	}

	if !created {
		if stored.Status == models.DeliveryStatusDelivered {
			// Lost the race or re-invoked after success: already delivered.
			result.Success = true
			result.DeliveryID = stored.ID
			result.DeliveryUUID = stored.UUID
			return result
		}
		// A FAILED row from an earlier attempt blocks the unique key.
		// The successful retry supersedes it transactionally, so a
		// broken swap leaves the FAILED row for the sweep.
		created, stored, err = d.deliveries.SupersedeWithDelivered(stored.ID, delivery)
		if err != nil {
			log.Errorf("[Fulfillment] Failed to supersede failed delivery for order %d item %d: %v", orderID, orderItemID, err)
			result.FailureReason = err.Error()
			return result
		}
		if !created {
			// A concurrent attempt won the swap.
			result.Success = true
			result.DeliveryID = stored.ID
			result.DeliveryUUID = stored.UUID
			return result
		}
	}

	d.finishDelivered(stored, product, variant, generated)

	result.Success = true
	result.DeliveryID = stored.ID
	result.DeliveryUUID = stored.UUID
	return result
}

func (d *Dispatcher) lookupCatalog(productID uint, variantID *uint) (*models.Product, *models.ProductVariant, error) {
	product, err := d.products.GetByID(productID)
	if err != nil {
		return nil, nil, fmt.Errorf("product %d not found: %w", productID, err)
	}
	var variant *models.ProductVariant
	if variantID != nil {
		variant, err = d.products.GetVariantByID(*variantID)
		if err != nil {
			return nil, nil, fmt.Errorf("variant %d not found: %w", *variantID, err)
		}
	}
	return product, variant, nil
}

func (d *Dispatcher) buildDelivered(orderID, orderItemID, userID uint, product *models.Product, variant *models.ProductVariant, variantID *uint, generated *GeneratedContent) *models.Delivery {
	variantName := ""
	if variant != nil {
		variantName = variant.Name
	}

	delivery := &models.Delivery{
		UUID:          uuid.New().String(),
		OrderID:       orderID,
		OrderItemID:   orderItemID,
		UserID:        userID,
		ProductID:     product.ID,
		VariantID:     variantID,
		Status:        models.DeliveryStatusDelivered,
		Type:          models.DeliveryTypeInstant,
		ProductName:   product.Name,
		VariantName:   variantName,
		DeliveryData:  generated.Content,
		DownloadToken: generated.DownloadToken,
	}
	if generated.Content.DownloadExpiry != nil {
		expiry := *generated.Content.DownloadExpiry
		delivery.AccessExpiresAt = &expiry
	}
	return delivery
}

// finishDelivered applies the post-persist side effects: audit log, license
// row for licensed content, and the user notification. None of them may fail
// the already persisted delivery.
func (d *Dispatcher) finishDelivered(delivery *models.Delivery, product *models.Product, variant *models.ProductVariant, generated *GeneratedContent) {
	if err := d.deliveries.AppendAccessLog(&models.DeliveryAccessLog{
		DeliveryID: delivery.ID,
		UserID:     delivery.UserID,
		Action:     models.AccessActionDelivered,
	}); err != nil {
		log.Errorf("[Fulfillment] Failed to append delivered log for delivery %d: %v", delivery.ID, err)
	}

	if generated.Content.LicenseKey != "" {
		if err := d.createLicense(delivery, product, variant, generated.Content.LicenseKey); err != nil {
			log.Errorf("[Fulfillment] Failed to create license for delivery %d: %v", delivery.ID, err)
		}
	}

	if d.notifier != nil {
		d.notifier.Notify(
			delivery.UserID,
			"Your order is ready",
			fmt.Sprintf("%s has been delivered and is ready for you.", delivery.ProductName),
			delivery.OrderID,
		)
	}

	log.Infof("[Fulfillment] Delivered order %d item %d (delivery %s)", delivery.OrderID, delivery.OrderItemID, delivery.UUID)
}

func (d *Dispatcher) createLicense(delivery *models.Delivery, product *models.Product, variant *models.ProductVariant, licenseKey string) error {
	licenseType := product.LicenseType
	if licenseType == "" {
		licenseType = models.LicenseTypePerpetual
	}

	license := &models.License{
		LicenseKey:     licenseKey,
		UserID:         delivery.UserID,
		ProductID:      product.ID,
		VariantID:      delivery.VariantID,
		OrderID:        delivery.OrderID,
		Status:         models.LicenseStatusPending,
		Type:           licenseType,
		MaxActivations: product.EffectiveMaxActivations(variant),
	}
	if days := product.EffectiveValidityDays(variant); days > 0 {
		expires := d.clock.Now().AddDate(0, 0, days)
		license.ExpiresAt = &expires
	}
	return d.licenses.Create(license)
}

// persistFailure converts a generation/lookup error into a FAILED delivery
// row with the first retry scheduled. The item snapshot names come from the
// order item so the row stays meaningful even when the catalog lookup broke.
func (d *Dispatcher) persistFailure(result *DeliveryResult, orderID, orderItemID, userID, productID uint, variantID *uint, cause error) *DeliveryResult {
	log.Warnf("[Fulfillment] Fulfillment of order %d item %d failed: %v", orderID, orderItemID, cause)

	productName := ""
	variantName := ""
	if item, err := d.orders.GetItemByID(orderItemID); err == nil {
		productName = item.ProductName
		variantName = item.VariantName
	}

	nextRetry := d.clock.Now().Add(initialRetryDelay)
	failed := &models.Delivery{
		UUID:          uuid.New().String(),
		OrderID:       orderID,
		OrderItemID:   orderItemID,
		UserID:        userID,
		ProductID:     productID,
		VariantID:     variantID,
		Status:        models.DeliveryStatusFailed,
		Type:          models.DeliveryTypeInstant,
		ProductName:   productName,
		VariantName:   variantName,
		FailureReason: cause.Error(),
		RetryCount:    0,
		NextRetryAt:   &nextRetry,
	}

	_, stored, err := d.deliveries.CreateIdempotent(failed)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to persist failed delivery for order %d item %d: %v", orderID, orderItemID, err)
		result.FailureReason = cause.Error()
		return result
	}

	result.DeliveryID = stored.ID
	result.DeliveryUUID = stored.UUID
	result.FailureReason = cause.Error()
	return result
}
