package router

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/clubpilot/ClubPilot/app/controllers"
	"github.com/clubpilot/ClubPilot/internal/pkg/cache"
	"github.com/clubpilot/ClubPilot/internal/pkg/database"
	"github.com/clubpilot/ClubPilot/internal/pkg/payments"
	"github.com/clubpilot/ClubPilot/internal/pkg/security"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Wire the payment core: providers, processor, controllers.
	payments.SetupProviders()

	repo := payments.NewGormRepository(database.GetDB())
	notifier := payments.NewDatabaseNotifier(database.GetDB())
	dupes := payments.NewRedisDuplicateCache(cache.GetClient())
	processor := payments.NewProcessor(payments.DefaultRegistry(), repo, notifier, dupes)
	controllers.InitializeWebhookController(processor)

	engine, err := security.NewEngineFromEnv()
	if err != nil {
		// Mandate setup cannot run without the encryption key; webhook
		// ingestion still can.
		log.Printf("Warning: encryption engine unavailable, mandate setup disabled: %v", err)
	}
	controllers.InitializeMandateController(engine)

	h.registerWebhookRoutes(app)
	h.registerPaymentRoutes(app)
}

func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	// Providers retry aggressively on errors; the limiter caps redelivery
	// storms without starving legitimate traffic.
	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}))
	webhooks.Post("/:provider", controllers.HandleProviderWebhook)
}

func (h HttpRouter) registerPaymentRoutes(app *fiber.App) {
	mandates := app.Group("/payments/mandates")
	mandates.Post("/setup", controllers.HandleMandateSetupStart)
	mandates.Get("/setup/complete", controllers.HandleMandateSetupComplete)
	mandates.Post("/:id/cancel", controllers.HandleMandateCancel)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
