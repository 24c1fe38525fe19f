package payments

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/fulfillment"
)

// Event types this subsystem reacts to. Anything else is recorded and
// acknowledged without action so providers do not keep re-sending.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

// WebhookPayload is the provider-neutral body of a payment webhook.
type WebhookPayload struct {
	EventID string `json:"id"`
	Type    string `json:"type"`
	OrderID uint   `json:"order_id"`
}

// Fulfiller is the payment-success collaborator boundary: a paid order is
// handed over for delivery exactly once.
type Fulfiller interface {
	ProcessOrderDeliveries(orderID uint) (*fulfillment.OrderResult, error)
}

// Service ingests payment-provider webhooks idempotently and triggers
// fulfillment for paid orders.
type Service struct {
	repo      Repository
	orders    repository.OrderRepository
	fulfiller Fulfiller
}

// NewService creates a payments service.
func NewService(repo Repository, orders repository.OrderRepository, fulfiller Fulfiller) *Service {
	return &Service{repo: repo, orders: orders, fulfiller: fulfiller}
}

// HandleWebhook records the event and processes it. The
// (provider, provider_event_id) unique index makes replays a no-op: an
// already processed event is acknowledged without running again.
func (s *Service) HandleWebhook(provider string, body []byte, signatureValid bool) error {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("invalid webhook payload: %w", err)
	}
	if strings.TrimSpace(payload.EventID) == "" {
		return fmt.Errorf("webhook payload is missing the event id")
	}

	event := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: payload.EventID,
		EventType:       payload.Type,
		OrderID:         payload.OrderID,
		PayloadJSON:     string(body),
		SignatureValid:  signatureValid,
	}
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(event)
	if err != nil {
		return err
	}
	if !created && stored.ProcessedAt != nil {
		log.Infof("[Payments] Replayed webhook %s/%s ignored", provider, payload.EventID)
		return nil
	}

	processingErr := s.process(stored)
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, errMsg); err != nil {
		log.Errorf("[Payments] Failed to mark webhook %d processed: %v", stored.ID, err)
	}
	return processingErr
}

func (s *Service) process(event *models.PaymentWebhookEvent) error {
	switch event.EventType {
	case EventPaymentSucceeded:
		if event.OrderID == 0 {
			return fmt.Errorf("payment.succeeded event without order id")
		}
		// MarkPaid only moves PENDING orders, a second paid event for the
		// same order changes nothing.
		if err := s.orders.MarkPaid(event.OrderID, time.Now()); err != nil {
			return fmt.Errorf("failed to mark order %d paid: %w", event.OrderID, err)
		}
		result, err := s.fulfiller.ProcessOrderDeliveries(event.OrderID)
		if err != nil {
			return fmt.Errorf("failed to fulfill order %d: %w", event.OrderID, err)
		}
		log.Infof("[Payments] Order %d paid, %d of %d items delivered", event.OrderID, result.Delivered, result.Total)
		return nil
	case EventPaymentCanceled:
		if event.OrderID == 0 {
			return fmt.Errorf("payment.canceled event without order id")
		}
		if err := s.orders.UpdateStatus(event.OrderID, models.OrderStatusCanceled); err != nil {
			return fmt.Errorf("failed to cancel order %d: %w", event.OrderID, err)
		}
		return nil
	default:
		log.Debugf("[Payments] Ignoring webhook event type %q", event.EventType)
		return nil
	}
}
