package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"

	"github.com/MarcusBreuer/Vendico/app/controllers"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/cache"
	"github.com/MarcusBreuer/Vendico/internal/pkg/database"
	"github.com/MarcusBreuer/Vendico/internal/pkg/env"
	"github.com/MarcusBreuer/Vendico/internal/pkg/fulfillment"
	"github.com/MarcusBreuer/Vendico/internal/pkg/keygen"
	"github.com/MarcusBreuer/Vendico/internal/pkg/licensing"
	"github.com/MarcusBreuer/Vendico/internal/pkg/notification"
	"github.com/MarcusBreuer/Vendico/internal/pkg/payments"
	"github.com/MarcusBreuer/Vendico/internal/pkg/router"
	"github.com/MarcusBreuer/Vendico/internal/pkg/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	scheduler := setupServices()
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName: "Vendico",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}

// setupServices builds the service graph and hands it to the controllers.
func setupServices() *fulfillment.Scheduler {
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	keys := keygen.NewGenerator(nil)
	baseURL := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000")

	generator := fulfillment.NewContentGenerator(keys, nil, baseURL)
	notifier := notification.NewNotifier(database.GetDB(), repos.User)
	dispatcher := fulfillment.NewDispatcher(repos.Product, repos.Order, repos.Delivery, repos.License, generator, notifier, nil)
	gateway := fulfillment.NewGateway(repos.Delivery, nil)
	scheduler := fulfillment.NewScheduler(dispatcher, cache.GetClient(), 0, 0)

	paymentService := payments.NewService(payments.NewRepository(database.GetDB()), repos.Order, dispatcher)
	licenseService := licensing.NewService(repos.License, repos.Product, nil)
	adminLicenseService := licensing.NewAdminService(repos.License, keys, nil)

	var artifacts *storage.ArtifactStore
	if cfg, err := storage.LoadConfig(); err != nil {
		log.Printf("artifact store config invalid, downloads disabled: %v", err)
	} else if cfg.IsEnabled() {
		artifacts, err = storage.NewArtifactStore(cfg)
		if err != nil {
			log.Printf("artifact store unavailable, downloads disabled: %v", err)
		}
	}

	controllers.InitializeLicenseController(licenseService)
	controllers.InitializeAdminLicenseController(adminLicenseService)
	controllers.InitializeDeliveryController(gateway, repos.Delivery, repos.Product)
	controllers.InitializeDownloadController(artifacts)
	controllers.InitializePaymentWebhookController(paymentService)
	controllers.InitializeUserController(keys)
	controllers.InitializeAdminFulfillmentController(scheduler)

	return scheduler
}
