package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/internal/pkg/fulfillment"
	"github.com/MarcusBreuer/Vendico/internal/pkg/security"
	"github.com/MarcusBreuer/Vendico/internal/pkg/storage"
)

// presignTTL is the lifetime of a presigned S3 URL handed to the client.
const presignTTL = 5 * time.Minute

var artifactStore *storage.ArtifactStore

// InitializeDownloadController wires the artifact store into the public
// download routes. A nil store means downloads are unavailable (disabled
// via S3_ARTIFACTS_ENABLED).
func InitializeDownloadController(store *storage.ArtifactStore) {
	artifactStore = store
}

// HandleTokenDownload serves /dl/:token, the link embedded in DOWNLOAD_URL
// payloads. The token is the credential: it resolves the delivery, the
// access gateway charges one download against the cap, and the client is
// redirected to a short-lived presigned artifact URL.
func HandleTokenDownload(c *fiber.Ctx) error {
	token := c.Params("token")

	delivery, err := accessGateway.AccessByDownloadToken(token, fulfillment.AccessRequest{
		Action:    models.AccessActionDownload,
		IPAddress: GetClientIP(c),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		return respondAccessError(c, err)
	}

	// The payload carries its own expiry for the link itself, separate from
	// the delivery-level access window.
	if delivery.DeliveryData.IsDownloadExpired(time.Now()) {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "ACCESS_EXPIRED", "message": "The download link has expired"})
	}

	objectKey, err := resolveArtifactKey(delivery)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_artifact", "message": "This delivery has no downloadable artifact"})
	}
	return redirectToArtifact(c, objectKey)
}

// HandleGrantDownload serves /dl/grant/:token. The grant was minted by an
// authenticated download request that already paid the access charge, so
// this route only verifies the grant and redirects.
func HandleGrantDownload(c *fiber.Ctx) error {
	claims, err := security.VerifyDownloadGrant(c.Params("token"), downloadGrantSecret)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Invalid or expired download grant"})
	}
	return redirectToArtifact(c, claims.ObjectKey)
}

func redirectToArtifact(c *fiber.Ctx, objectKey string) error {
	if artifactStore == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Downloads are temporarily unavailable"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url, err := artifactStore.PresignDownload(ctx, objectKey, presignTTL)
	if err != nil {
		log.Errorf("[Download] Failed to presign %s: %v", objectKey, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to prepare download"})
	}
	return c.Redirect(url, fiber.StatusFound)
}
