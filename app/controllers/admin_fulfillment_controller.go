package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/fulfillment"
)

var retryScheduler *fulfillment.Scheduler

// InitializeAdminFulfillmentController wires the retry scheduler into the
// admin handlers.
func InitializeAdminFulfillmentController(scheduler *fulfillment.Scheduler) {
	retryScheduler = scheduler
}

// HandleAdminRetryExhaustedList returns deliveries that failed permanently
// and wait for operator intervention.
func HandleAdminRetryExhaustedList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)

	deliveries, err := repository.GetGlobalFactory().GetDeliveryRepository().ListRetryExhausted(offset, limit)
	if err != nil {
		log.Errorf("[Admin] Failed to list retry-exhausted deliveries: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load deliveries"})
	}

	items := make([]fiber.Map, 0, len(deliveries))
	for i := range deliveries {
		d := &deliveries[i]
		item := deliverySummary(d)
		item["user_id"] = d.UserID
		item["failure_reason"] = d.FailureReason
		item["retry_count"] = d.RetryCount
		items = append(items, item)
	}
	return c.JSON(fiber.Map{"deliveries": items})
}

// HandleAdminFulfillmentStats reports the delivery ledger counts and the
// retry scheduler state including the cluster sweep lock.
func HandleAdminFulfillmentStats(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetDeliveryRepository()

	delivered, err := repo.CountByStatus(models.DeliveryStatusDelivered)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count deliveries"})
	}
	failed, err := repo.CountByStatus(models.DeliveryStatusFailed)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count deliveries"})
	}

	lockTTL := time.Duration(0)
	if ttl, err := repository.GetGlobalFactory().GetQueueRepository().GetTTL(fulfillment.SweepLockKey); err == nil && ttl > 0 {
		lockTTL = ttl
	}

	return c.JSON(fiber.Map{
		"deliveries": fiber.Map{
			"delivered": delivered,
			"failed":    failed,
		},
		"scheduler": fiber.Map{
			"running":           retryScheduler != nil && retryScheduler.IsRunning(),
			"sweep_lock_ttl_ms": lockTTL.Milliseconds(),
		},
	})
}

// HandleAdminRunSweep triggers one retry sweep out of schedule.
func HandleAdminRunSweep(c *fiber.Ctx) error {
	if retryScheduler == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Retry scheduler is not configured"})
	}
	retryScheduler.RunSweepOnce()
	return c.JSON(fiber.Map{"triggered": true})
}

// HandleAdminDeliveryAccessLog returns the audit trail of any delivery.
func HandleAdminDeliveryAccessLog(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetDeliveryRepository()

	delivery, err := repo.GetByUUID(c.Params("uuid"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Delivery not found"})
	}

	entries, err := repo.ListAccessLog(delivery.ID, c.QueryInt("limit", 100))
	if err != nil {
		log.Errorf("[Admin] Failed to load access log for delivery %d: %v", delivery.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load access log"})
	}

	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"user_id":    e.UserID,
			"action":     e.Action,
			"ip_address": e.IPAddress,
			"user_agent": e.UserAgent,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"delivery": deliverySummary(delivery), "access_log": items})
}
