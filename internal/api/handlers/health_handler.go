package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   Pinger
	cache   Pinger
	timeout time.Duration
	log     *zap.Logger
}

func NewHealthHandler(store, cache Pinger, timeout time.Duration, log *zap.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthHandler{store: store, cache: cache, timeout: timeout, log: log}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready requires the store. The cache is reported but never fails readiness.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	cacheStatus := "ok"
	if h.cache == nil {
		cacheStatus = "unavailable"
	} else if err := h.cache.Ping(ctx); err != nil {
		h.log.Warn("Cache not reachable", zap.Error(err))
		cacheStatus = "unavailable"
	}

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error("Store not reachable", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"store":  "error",
			"cache":  cacheStatus,
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
		"store":  "ok",
		"cache":  cacheStatus,
	})
}
