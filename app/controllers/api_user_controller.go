package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/keygen"
	"github.com/MarcusBreuer/Vendico/internal/pkg/usercontext"
)

var userKeygen *keygen.Generator

// InitializeUserController wires the key generator used for API key rotation.
func InitializeUserController(keys *keygen.Generator) {
	userKeygen = keys
}

// HandleGetUserAccount returns account information for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	return c.JSON(fiber.Map{
		"id":                   account.ID,
		"username":             account.Name,
		"email":                account.Email,
		"status":               account.Status,
		"is_admin":             account.IsAdmin(),
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(account.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(account.APIKeyLastUsedAt),
	})
}

// HandleRotateAPIKey generates a fresh API key for the caller. The plaintext
// key is returned exactly once, only its hash is stored; the previous key
// stops working immediately.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	apiKey, err := userKeygen.APIKey()
	if err != nil {
		log.Errorf("[API] Failed to generate api key for user %d: %v", account.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to generate API key"})
	}

	account.APIKeyHash = models.HashAPIKey(apiKey)
	account.APIKeyLastUsedAt = nil
	if err := repo.Update(account); err != nil {
		log.Errorf("[API] Failed to store api key hash for user %d: %v", account.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store API key"})
	}

	return c.JSON(fiber.Map{
		"api_key": apiKey,
		"note":    "Store this key now, it is not shown again.",
	})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
