package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behavior consistent between the
	// versioned API surface and the rest of the app.
	"github.com/MarcusBreuer/Vendico/app/controllers"
	"github.com/MarcusBreuer/Vendico/internal/pkg/middleware"
)

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer implements the v1 API surface.
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// GetUserProfile returns account information for the authenticated user.
func (s *APIServer) GetUserProfile(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// PostRotateAPIKey issues a fresh API key for the authenticated user.
func (s *APIServer) PostRotateAPIKey(c *fiber.Ctx) error {
	return controllers.HandleRotateAPIKey(c)
}

// RegisterHandlers attaches all v1 routes to the router group. The public
// verify endpoint carries no authentication on purpose: the license key is
// the credential there.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	// License verification for installed client software.
	router.Post("/licenses/verify", controllers.HandleLicenseVerify)

	// API key protected user surface.
	authed := router.Group("", middleware.APIKeyAuthMiddleware())

	authed.Get("/user/profile", s.GetUserProfile)
	authed.Post("/user/api-key", s.PostRotateAPIKey)

	authed.Get("/licenses", controllers.HandleLicenseList)
	authed.Get("/licenses/:id", controllers.HandleLicenseGet)
	authed.Post("/licenses/activate", controllers.HandleLicenseActivate)
	authed.Delete("/activations/:id", controllers.HandleLicenseDeactivate)

	authed.Get("/deliveries", controllers.HandleDeliveryList)
	authed.Get("/deliveries/:uuid", controllers.HandleDeliveryAccess)
	authed.Post("/deliveries/:uuid/download", controllers.HandleDeliveryDownload)
	authed.Get("/deliveries/:uuid/access-log", controllers.HandleDeliveryAccessLog)

	authed.Get("/notifications", controllers.HandleNotificationsList)
	authed.Post("/notifications/:id/read", controllers.HandleNotificationMarkRead)

	// Operator surface.
	admin := authed.Group("/admin", middleware.RequireAdmin)

	admin.Post("/licenses", controllers.HandleAdminLicenseCreate)
	admin.Get("/licenses", controllers.HandleAdminLicenseList)
	admin.Get("/licenses/:id", controllers.HandleAdminLicenseGet)
	admin.Patch("/licenses/:id", controllers.HandleAdminLicenseUpdate)
	admin.Post("/licenses/:id/suspend", controllers.HandleAdminLicenseSuspend)
	admin.Post("/licenses/:id/resume", controllers.HandleAdminLicenseResume)
	admin.Post("/licenses/:id/revoke", controllers.HandleAdminLicenseRevoke)

	admin.Get("/deliveries/retry-exhausted", controllers.HandleAdminRetryExhaustedList)
	admin.Get("/deliveries/stats", controllers.HandleAdminFulfillmentStats)
	admin.Post("/deliveries/sweep", controllers.HandleAdminRunSweep)
	admin.Get("/deliveries/:uuid/access-log", controllers.HandleAdminDeliveryAccessLog)
}
