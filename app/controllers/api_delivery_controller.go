package controllers

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/env"
	"github.com/MarcusBreuer/Vendico/internal/pkg/fulfillment"
	"github.com/MarcusBreuer/Vendico/internal/pkg/security"
	"github.com/MarcusBreuer/Vendico/internal/pkg/usercontext"
)

// downloadGrantTTL is how long a minted download grant stays redeemable.
// The grant is handed out right before the redirect, so it can be short.
const downloadGrantTTL = 5 * time.Minute

var (
	accessGateway       *fulfillment.Gateway
	deliveryRepo        repository.DeliveryRepository
	deliveryProducts    repository.ProductRepository
	downloadGrantSecret string
)

// InitializeDeliveryController wires the access gateway into the handlers.
func InitializeDeliveryController(gateway *fulfillment.Gateway, deliveries repository.DeliveryRepository, products repository.ProductRepository) {
	accessGateway = gateway
	deliveryRepo = deliveries
	deliveryProducts = products
	downloadGrantSecret = env.GetEnv("DOWNLOAD_GRANT_SECRET", "")
}

// accessErrorStatus maps gateway rejection codes to HTTP statuses.
func accessErrorStatus(code string) int {
	switch code {
	case fulfillment.AccessCodeNotFound:
		return fiber.StatusNotFound
	case fulfillment.AccessCodeForbidden:
		return fiber.StatusForbidden
	case fulfillment.AccessCodeNotDelivered:
		return fiber.StatusConflict
	case fulfillment.AccessCodeExpired, fulfillment.AccessCodeLimitReached:
		return fiber.StatusGone
	default:
		return fiber.StatusInternalServerError
	}
}

func respondAccessError(c *fiber.Ctx, err error) error {
	var ae *fulfillment.AccessError
	if errors.As(err, &ae) {
		return c.Status(accessErrorStatus(ae.Code)).JSON(fiber.Map{
			"error":   ae.Code,
			"message": ae.Message,
		})
	}
	log.Errorf("[API] Delivery access failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": "Delivery access failed",
	})
}

func deliverySummary(d *models.Delivery) fiber.Map {
	return fiber.Map{
		"uuid":              d.UUID,
		"order_id":          d.OrderID,
		"order_item_id":     d.OrderItemID,
		"product_id":        d.ProductID,
		"variant_id":        d.VariantID,
		"product_name":      d.ProductName,
		"variant_name":      d.VariantName,
		"status":            d.Status,
		"type":              d.Type,
		"access_count":      d.AccessCount,
		"max_access_count":  d.MaxAccessCount,
		"access_expires_at": d.AccessExpiresAt,
		"first_accessed_at": d.FirstAccessedAt,
		"last_accessed_at":  d.LastAccessedAt,
		"created_at":        d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleDeliveryList returns the caller's deliveries without their payloads.
// Reading the payload goes through the access gateway and counts against
// the access cap, listing does not.
func HandleDeliveryList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)

	deliveries, err := deliveryRepo.ListByUserID(usercontext.GetUserID(c), offset, limit)
	if err != nil {
		log.Errorf("[API] Failed to list deliveries: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load deliveries"})
	}

	items := make([]fiber.Map, 0, len(deliveries))
	for i := range deliveries {
		items = append(items, deliverySummary(&deliveries[i]))
	}
	return c.JSON(fiber.Map{"deliveries": items})
}

// HandleDeliveryAccess grants one access to the delivered content and
// returns the payload. This is the metered read: every successful call
// counts against the access cap and lands in the audit log.
func HandleDeliveryAccess(c *fiber.Ctx) error {
	uuid := c.Params("uuid")

	delivery, err := accessGateway.AccessDelivery(uuid, fulfillment.AccessRequest{
		UserID:    usercontext.GetUserID(c),
		Action:    models.AccessActionView,
		IPAddress: GetClientIP(c),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		return respondAccessError(c, err)
	}

	response := deliverySummary(delivery)
	response["content"] = delivery.DeliveryData
	return c.JSON(response)
}

// HandleDeliveryDownload charges one download access and mints a short-lived
// grant pointing at the artifact store. The grant redeems on /dl/grant/:token
// without a second charge, so a browser following the redirect does not burn
// two accesses.
func HandleDeliveryDownload(c *fiber.Ctx) error {
	uuid := c.Params("uuid")

	delivery, err := accessGateway.AccessDelivery(uuid, fulfillment.AccessRequest{
		UserID:    usercontext.GetUserID(c),
		Action:    models.AccessActionDownload,
		IPAddress: GetClientIP(c),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		return respondAccessError(c, err)
	}

	objectKey, err := resolveArtifactKey(delivery)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_artifact", "message": "This delivery has no downloadable artifact"})
	}

	grant, err := security.GenerateDownloadGrant(delivery.UserID, delivery.ID, objectKey, downloadGrantTTL, downloadGrantSecret)
	if err != nil {
		log.Errorf("[API] Failed to mint download grant for delivery %d: %v", delivery.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to prepare download"})
	}

	return c.JSON(fiber.Map{
		"download_url": fmt.Sprintf("/dl/grant/%s", grant),
		"expires_in":   int(downloadGrantTTL.Seconds()),
	})
}

// HandleDeliveryAccessLog returns the audit trail of one of the caller's
// deliveries.
func HandleDeliveryAccessLog(c *fiber.Ctx) error {
	uuid := c.Params("uuid")

	delivery, err := deliveryRepo.GetByUUID(uuid)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Delivery not found"})
	}
	if delivery.UserID != usercontext.GetUserID(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Delivery belongs to another user"})
	}

	entries, err := deliveryRepo.ListAccessLog(delivery.ID, c.QueryInt("limit", 50))
	if err != nil {
		log.Errorf("[API] Failed to load access log for delivery %d: %v", delivery.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load access log"})
	}

	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"action":     e.Action,
			"ip_address": e.IPAddress,
			"user_agent": e.UserAgent,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"access_log": items})
}

// resolveArtifactKey finds the S3 object key behind a delivery via its
// product/variant pair.
func resolveArtifactKey(delivery *models.Delivery) (string, error) {
	product, err := deliveryProducts.GetByID(delivery.ProductID)
	if err != nil {
		return "", err
	}
	var variant *models.ProductVariant
	if delivery.VariantID != nil {
		if v, err := deliveryProducts.GetVariantByID(*delivery.VariantID); err == nil {
			variant = v
		}
	}
	key := product.EffectiveArtifactKey(variant)
	if key == "" {
		return "", fmt.Errorf("product %d has no artifact", product.ID)
	}
	return key, nil
}
