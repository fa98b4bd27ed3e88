// Package api assembles the Fiber application: middleware, poll routes and
// the operational endpoints.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/api/handlers"
	"github.com/pollpulse/backend/internal/metrics"
	"github.com/pollpulse/backend/internal/middleware/ratelimit"
	"github.com/pollpulse/backend/internal/middleware/security"
	"github.com/pollpulse/backend/internal/middleware/validation"
	"github.com/pollpulse/backend/internal/poll"
	"github.com/pollpulse/backend/pkg/config"
)

type Deps struct {
	Config       *config.Config
	Submissions  *poll.SubmissionService
	Interactions *poll.InteractionService
	Analytics    *poll.AnalyticsReader
	Store        handlers.Pinger
	Cache        handlers.Pinger
	Metrics      *metrics.Registry
	RateLimiter  *ratelimit.RateLimiter
	Logger       *zap.Logger
}

func NewApp(d Deps) *fiber.App {
	cfg := d.Config
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "pollpulse",
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	app.Use(d.Metrics.Middleware())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.IsDevelopment()}))

	pollHandler := handlers.NewPollHandler(d.Submissions, d.Interactions, d.Analytics, log.Named("poll"))
	healthHandler := handlers.NewHealthHandler(d.Store, d.Cache, cfg.Store.QueryTimeout(), log.Named("health"))

	api := app.Group("/api/poll")
	if cfg.RateLimit.Enabled && d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{Logger: log}))

	api.Post("/submit", pollHandler.Submit)
	api.Post("/interaction", pollHandler.RecordInteraction)
	api.Post("/interactions/batch", pollHandler.RecordBatch)
	api.Get("/analytics", pollHandler.Analytics)

	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)
	app.Get("/metrics", d.Metrics.Handler(log))

	return app
}

// errorHandler keeps fiber's own errors (404, 405, body too large) in the same
// JSON shape as handler errors.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal server error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		} else {
			log.Error("Unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}

		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   strings.ToLower(strings.ReplaceAll(utils.StatusMessage(code), " ", "_")),
			"message": message,
		})
	}
}
