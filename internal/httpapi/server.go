package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/alert"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/anomaly"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/auth"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/authorization"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/ledger"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/period"
	"github.com/sirupsen/logrus"
)

const moduleName = "httpapi"

// Services are the engine components exposed over HTTP.
type Services struct {
	Periods        *period.Manager
	Availability   *availability.Calculator
	Authorizations *authorization.Service
	Ledger         *ledger.Ledger
	Alerts         *alert.Engine
	Audit          *audit.Logger
	Anomalies      *anomaly.Detector
	// CompanyID is used for period keys when a request names none.
	CompanyID string
}

type Handler struct {
	svc    Services
	logger *logrus.Logger
}

// NewApp builds the fiber app. Everything under /api requires a bearer
// token signed with jwtSecret.
func NewApp(svc Services, jwtSecret string, logger *logrus.Logger) *fiber.App {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	h := &Handler{svc: svc, logger: logger}

	app := fiber.New(fiber.Config{
		ErrorHandler: h.errorHandler,
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Use(auth.JWTMiddleware(jwtSecret))

	periods := api.Group("/periods/:year/:period")
	periods.Put("", h.ensurePeriod)
	periods.Get("/lock", h.getPeriodLock)
	periods.Post("/lock", h.lockPeriod)
	periods.Post("/unlock", h.unlockPeriod)

	api.Get("/budget/availability", h.getAvailability)
	api.Post("/budget/check", h.checkSpending)

	api.Post("/authorizations", h.createAuthorization)
	api.Get("/authorizations", h.listAuthorizations)
	api.Get("/authorizations/:id", h.getAuthorization)
	api.Post("/authorizations/:id/approve", h.approveAuthorization)
	api.Post("/authorizations/:id/reject", h.rejectAuthorization)

	api.Post("/transactions", h.recordTransaction)
	api.Get("/transactions", h.listTransactions)
	api.Post("/transfers", h.transferBudget)

	api.Post("/alerts", h.createAlert)
	api.Get("/alerts", h.listAlerts)
	api.Post("/alerts/:id/:action", h.resolveAlert)

	api.Get("/audit", h.queryAudit)
	api.Get("/audit/:id/verify", h.verifyAudit)

	api.Post("/anomalies/run", h.runAnomalyDetection)
	api.Get("/anomalies", h.listAnomalies)
	api.Post("/anomalies/:id/:action", h.reviewAnomaly)

	return app
}
