package fulfillment

import (
	"errors"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
)

// AccessRequest carries the caller identity and audit context of one
// content access.
type AccessRequest struct {
	UserID    uint
	Action    string // models.AccessActionView or models.AccessActionDownload
	IPAddress string
	UserAgent string
}

// Gateway enforces the access policy on delivered content: ownership,
// delivery state, expiry window and access cap.
type Gateway struct {
	deliveries repository.DeliveryRepository
	clock      Clock
}

// NewGateway creates an access gateway.
func NewGateway(deliveries repository.DeliveryRepository, clock Clock) *Gateway {
	if clock == nil {
		clock = SystemClock()
	}
	return &Gateway{deliveries: deliveries, clock: clock}
}

// AccessDelivery grants one access to the delivery's content. The checks run
// in order and the first failing one wins: existence, ownership, delivered
// state, expiry window, access cap. The cap check and the count increment
// are a single conditional update, so a concurrent burst against a cap of
// one grants exactly one access. On success the access is audited and the
// stored content returned.
func (g *Gateway) AccessDelivery(deliveryUUID string, req AccessRequest) (*models.Delivery, error) {
	delivery, err := g.deliveries.GetByUUID(deliveryUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newAccessError(AccessCodeNotFound, "delivery not found")
		}
		return nil, err
	}
	return g.grant(delivery, req)
}

// AccessByDownloadToken resolves the token embedded in a generated download
// URL and grants access under the same policy. The token is the credential
// here, so no ownership check applies; the audit row records the delivery's
// owner.
func (g *Gateway) AccessByDownloadToken(token string, req AccessRequest) (*models.Delivery, error) {
	if token == "" {
		return nil, newAccessError(AccessCodeNotFound, "delivery not found")
	}
	delivery, err := g.deliveries.GetByDownloadToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newAccessError(AccessCodeNotFound, "delivery not found")
		}
		return nil, err
	}
	req.UserID = delivery.UserID
	if req.Action == "" {
		req.Action = models.AccessActionDownload
	}
	return g.grant(delivery, req)
}

func (g *Gateway) grant(delivery *models.Delivery, req AccessRequest) (*models.Delivery, error) {
	if delivery.UserID != req.UserID {
		return nil, newAccessError(AccessCodeForbidden, "delivery belongs to another user")
	}
	if delivery.Status != models.DeliveryStatusDelivered {
		if delivery.IsRetryExhausted() {
			return nil, newAccessError(AccessCodeNotDelivered, "delivery failed permanently")
		}
		return nil, newAccessError(AccessCodeNotDelivered, "delivery is not completed yet")
	}

	now := g.clock.Now()
	if delivery.IsAccessExpired(now) {
		return nil, newAccessError(AccessCodeExpired, "the access window for this delivery has closed")
	}

	granted, err := g.deliveries.IncrementAccess(delivery.ID, now)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, newAccessError(AccessCodeLimitReached, "the access limit for this delivery is used up")
	}

	if err := g.deliveries.AppendAccessLog(&models.DeliveryAccessLog{
		DeliveryID: delivery.ID,
		UserID:     req.UserID,
		Action:     req.Action,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}); err != nil {
		log.Errorf("[Fulfillment] Failed to append %s log for delivery %d: %v", req.Action, delivery.ID, err)
	}

	// Re-read so the caller sees the post-increment counters.
	fresh, err := g.deliveries.GetByID(delivery.ID)
	if err != nil {
		return delivery, nil
	}
	return fresh, nil
}
