package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/licensing"
	"github.com/MarcusBreuer/Vendico/internal/pkg/usercontext"
)

var adminLicenseService *licensing.AdminService

// InitializeAdminLicenseController wires the admin license service into the
// handlers.
func InitializeAdminLicenseController(service *licensing.AdminService) {
	adminLicenseService = service
}

type adminLicenseCreateRequest struct {
	UserID         uint     `json:"user_id"`
	ProductID      uint     `json:"product_id"`
	VariantID      *uint    `json:"variant_id"`
	OrderID        uint     `json:"order_id"`
	Type           string   `json:"type"`
	MaxActivations int      `json:"max_activations"`
	ValidityDays   int      `json:"validity_days"`
	AllowedDomains []string `json:"allowed_domains"`
	AllowedIPs     []string `json:"allowed_ips"`
}

// HandleAdminLicenseCreate issues a license manually (support cases, partner
// deals, developer keys).
func HandleAdminLicenseCreate(c *fiber.Ctx) error {
	var req adminLicenseCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if req.UserID == 0 || req.ProductID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "user_id and product_id are required"})
	}

	license, err := adminLicenseService.Create(licensing.CreateInput{
		UserID:         req.UserID,
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		OrderID:        req.OrderID,
		Type:           req.Type,
		MaxActivations: req.MaxActivations,
		ValidityDays:   req.ValidityDays,
		AllowedDomains: req.AllowedDomains,
		AllowedIPs:     req.AllowedIPs,
	})
	if err != nil {
		return respondLicenseError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(licenseResponse(license))
}

type adminLicenseUpdateRequest struct {
	MaxActivations *int       `json:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ClearExpiry    bool       `json:"clear_expiry"`
	AllowedDomains *[]string  `json:"allowed_domains"`
	AllowedIPs     *[]string  `json:"allowed_ips"`
}

// HandleAdminLicenseUpdate mutates expiry, activation cap and allow-lists.
func HandleAdminLicenseUpdate(c *fiber.Ctx) error {
	licenseID := parseUintParam(c, "id")
	if licenseID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid license id"})
	}

	var req adminLicenseUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	license, err := adminLicenseService.Update(licenseID, licensing.UpdateInput{
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiry:    req.ClearExpiry,
		AllowedDomains: req.AllowedDomains,
		AllowedIPs:     req.AllowedIPs,
	})
	if err != nil {
		return respondLicenseError(c, err)
	}
	return c.JSON(licenseResponse(license))
}

// HandleAdminLicenseSuspend blocks a license without touching activations.
func HandleAdminLicenseSuspend(c *fiber.Ctx) error {
	licenseID := parseUintParam(c, "id")
	if licenseID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid license id"})
	}
	if err := adminLicenseService.Suspend(licenseID); err != nil {
		return respondLicenseError(c, err)
	}
	return c.JSON(fiber.Map{"suspended": true})
}

// HandleAdminLicenseResume lifts a suspension.
func HandleAdminLicenseResume(c *fiber.Ctx) error {
	licenseID := parseUintParam(c, "id")
	if licenseID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid license id"})
	}
	if err := adminLicenseService.Resume(licenseID); err != nil {
		return respondLicenseError(c, err)
	}
	return c.JSON(fiber.Map{"resumed": true})
}

type adminLicenseRevokeRequest struct {
	Reason string `json:"reason"`
}

// HandleAdminLicenseRevoke terminally revokes a license and releases all
// of its activations.
func HandleAdminLicenseRevoke(c *fiber.Ctx) error {
	licenseID := parseUintParam(c, "id")
	if licenseID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid license id"})
	}

	var req adminLicenseRevokeRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	if err := adminLicenseService.Revoke(licenseID, usercontext.GetUserID(c), req.Reason); err != nil {
		return respondLicenseError(c, err)
	}
	return c.JSON(fiber.Map{"revoked": true})
}

// HandleAdminLicenseList pages through licenses with optional status, user
// and product filters.
func HandleAdminLicenseList(c *fiber.Ctx) error {
	filter := repository.LicenseFilter{
		Status:    c.Query("status"),
		UserID:    uint(c.QueryInt("user_id", 0)),
		ProductID: uint(c.QueryInt("product_id", 0)),
		Cursor:    uint(c.QueryInt("cursor", 0)),
		Limit:     c.QueryInt("limit", 50),
	}

	licenses, nextCursor, err := adminLicenseService.List(filter)
	if err != nil {
		return respondLicenseError(c, err)
	}

	items := make([]fiber.Map, 0, len(licenses))
	for i := range licenses {
		item := licenseResponse(&licenses[i])
		item["user_id"] = licenses[i].UserID
		items = append(items, item)
	}
	return c.JSON(fiber.Map{"licenses": items, "next_cursor": nextCursor})
}

// HandleAdminLicenseGet returns one license for the admin surface.
func HandleAdminLicenseGet(c *fiber.Ctx) error {
	licenseID := parseUintParam(c, "id")
	if licenseID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid license id"})
	}

	license, err := adminLicenseService.Get(licenseID)
	if err != nil {
		return respondLicenseError(c, err)
	}
	response := licenseResponse(license)
	response["user_id"] = license.UserID
	return c.JSON(response)
}
