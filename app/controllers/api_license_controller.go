package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/internal/pkg/licensing"
	"github.com/MarcusBreuer/Vendico/internal/pkg/usercontext"
)

var licenseService *licensing.Service

// InitializeLicenseController wires the licensing service into the handlers.
func InitializeLicenseController(service *licensing.Service) {
	licenseService = service
}

// licenseErrorStatus maps licensing rejection codes to HTTP statuses. The
// code itself travels in the body so client software can branch on it.
func licenseErrorStatus(code string) int {
	switch code {
	case licensing.CodeNotFound, licensing.CodeInvalidKey:
		return fiber.StatusNotFound
	case licensing.CodeForbidden:
		return fiber.StatusForbidden
	case licensing.CodeActivationLimit:
		return fiber.StatusConflict
	default:
		// SUSPENDED, REVOKED, EXPIRED, allow-list and machine rejections
		return fiber.StatusForbidden
	}
}

func respondLicenseError(c *fiber.Ctx, err error) error {
	var le *licensing.Error
	if errors.As(err, &le) {
		return c.Status(licenseErrorStatus(le.Code)).JSON(fiber.Map{
			"error":   le.Code,
			"message": le.Message,
		})
	}
	log.Errorf("[API] License operation failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_server_error",
		"message": "License operation failed",
	})
}

func licenseResponse(license *models.License) fiber.Map {
	return fiber.Map{
		"id":               license.ID,
		"license_key":      license.LicenseKey,
		"product_id":       license.ProductID,
		"variant_id":       license.VariantID,
		"order_id":         license.OrderID,
		"status":           license.Status,
		"type":             license.Type,
		"max_activations":  license.MaxActivations,
		"activation_count": license.ActivationCount,
		"allowed_domains":  license.AllowedDomains,
		"allowed_ips":      license.AllowedIPs,
		"expires_at":       license.ExpiresAt,
		"activated_at":     license.ActivatedAt,
		"last_checked_at":  license.LastCheckedAt,
		"created_at":       license.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type activateRequest struct {
	LicenseKey string `json:"license_key"`
	MachineID  string `json:"machine_id"`
	Hostname   string `json:"hostname"`
	Domain     string `json:"domain"`
}

// HandleLicenseActivate binds the caller's license to an installation.
func HandleLicenseActivate(c *fiber.Ctx) error {
	var req activateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	req.LicenseKey = strings.TrimSpace(strings.ToUpper(req.LicenseKey))
	if req.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "license_key is required"})
	}

	result, err := licenseService.Activate(usercontext.GetUserID(c), req.LicenseKey, licensing.ActivateInput{
		MachineID: req.MachineID,
		Hostname:  req.Hostname,
		Domain:    req.Domain,
		IPAddress: GetClientIP(c),
	})
	if err != nil {
		return respondLicenseError(c, err)
	}

	return c.JSON(fiber.Map{
		"activation_id":  result.ActivationID,
		"already_active": result.AlreadyActive,
		"license":        licenseResponse(result.License),
	})
}

type verifyRequest struct {
	LicenseKey string `json:"license_key"`
	MachineID  string `json:"machine_id"`
	Domain     string `json:"domain"`
}

// HandleLicenseVerify is the public entitlement check client software runs
// on startup. The license key is the credential, no API key is required.
func HandleLicenseVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	req.LicenseKey = strings.TrimSpace(strings.ToUpper(req.LicenseKey))
	if req.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "license_key is required"})
	}

	result, err := licenseService.Verify(req.LicenseKey, licensing.VerifyInput{
		MachineID: req.MachineID,
		Domain:    req.Domain,
	})
	if err != nil {
		var le *licensing.Error
		if errors.As(err, &le) {
			// Verify failures are a negative result, not an error: clients
			// poll this endpoint and need the reason code.
			return c.Status(licenseErrorStatus(le.Code)).JSON(fiber.Map{
				"valid":   false,
				"error":   le.Code,
				"message": le.Message,
			})
		}
		return respondLicenseError(c, err)
	}

	return c.JSON(fiber.Map{
		"valid":        true,
		"status":       result.Status,
		"type":         result.Type,
		"product_name": result.ProductName,
		"expires_at":   result.ExpiresAt,
	})
}

// HandleLicenseDeactivate releases one of the caller's activations.
func HandleLicenseDeactivate(c *fiber.Ctx) error {
	activationID := parseUintParam(c, "id")
	if activationID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid activation id"})
	}

	if err := licenseService.Deactivate(usercontext.GetUserID(c), activationID); err != nil {
		return respondLicenseError(c, err)
	}
	return c.JSON(fiber.Map{"deactivated": true})
}

// HandleLicenseList returns the caller's licenses, newest first, with a
// descending id cursor.
func HandleLicenseList(c *fiber.Ctx) error {
	cursor := uint(c.QueryInt("cursor", 0))
	limit := c.QueryInt("limit", 20)

	licenses, nextCursor, err := licenseService.ListForUser(usercontext.GetUserID(c), cursor, limit)
	if err != nil {
		return respondLicenseError(c, err)
	}

	items := make([]fiber.Map, 0, len(licenses))
	for i := range licenses {
		items = append(items, licenseResponse(&licenses[i]))
	}
	return c.JSON(fiber.Map{"licenses": items, "next_cursor": nextCursor})
}

// HandleLicenseGet returns one of the caller's licenses with activations.
func HandleLicenseGet(c *fiber.Ctx) error {
	licenseID := parseUintParam(c, "id")
	if licenseID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid license id"})
	}

	license, err := licenseService.GetOwned(usercontext.GetUserID(c), licenseID)
	if err != nil {
		return respondLicenseError(c, err)
	}

	response := licenseResponse(license)
	activations := make([]fiber.Map, 0, len(license.Activations))
	for _, a := range license.Activations {
		activations = append(activations, fiber.Map{
			"id":                a.ID,
			"machine_id":        a.MachineID,
			"hostname":          a.Hostname,
			"domain":            a.Domain,
			"ip_address":        a.IPAddress,
			"is_active":         a.IsActive,
			"deactivated_at":    a.DeactivatedAt,
			"deactivate_reason": a.DeactivateReason,
			"created_at":        a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	response["activations"] = activations
	return c.JSON(response)
}
