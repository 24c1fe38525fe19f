package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MarcusBreuer/Vendico/app/controllers"
	"github.com/MarcusBreuer/Vendico/internal/pkg/constants"
)

type HttpRouter struct {
}

// InstallRouter registers the unversioned public routes: download links from
// delivery payloads and the payment provider webhook. Neither carries an API
// key, the download token respectively the webhook signature is the
// credential.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.DownloadGrantRoute+"/:token", controllers.HandleGrantDownload)
	app.Get(constants.DownloadRoute+"/:token", controllers.HandleTokenDownload)

	app.Post(constants.WebhookRoute+"/:provider", controllers.HandlePaymentWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
