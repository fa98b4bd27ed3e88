package validation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects write requests that are not JSON before they reach a
// handler. An absent Content-Type is accepted since beacon-style clients
// often omit it.
func Middleware(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMETextPlain}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowed(contentType, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Content-Type must be application/json")
		}

		body := c.Body()
		if len(bytes.TrimSpace(body)) == 0 {
			return reject(c, fiber.StatusBadRequest, "Request body is empty")
		}
		if !json.Valid(body) {
			return reject(c, fiber.StatusBadRequest, "Request body is not valid JSON")
		}
		// Postgres text columns cannot hold NUL.
		if containsNUL(body) {
			cfg.Logger.Warn("Rejected body with NUL escape",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return reject(c, fiber.StatusBadRequest, "Request body contains NUL characters")
		}

		return c.Next()
	}
}

// containsNUL reports whether any decoded key or string value holds a NUL.
// body must be valid JSON.
func containsNUL(body []byte) bool {
	if !bytes.Contains(body, []byte(`u0000`)) {
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if s, ok := tok.(string); ok && strings.ContainsRune(s, 0) {
			return true
		}
	}
}

func allowed(contentType string, types []string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, t := range types {
		if mediaType == t {
			return true
		}
	}
	return false
}

func reject(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   "invalid_request",
		"message": message,
	})
}
