package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/poll"
)

type Submitter interface {
	Submit(ctx context.Context, req poll.SubmissionRequest) (*poll.SubmitResult, error)
}

type InteractionRecorder interface {
	Record(ctx context.Context, req poll.InteractionRequest) error
	RecordBatch(ctx context.Context, req poll.BatchRequest) (int, error)
}

type AnalyticsSource interface {
	Read(ctx context.Context) (json.RawMessage, error)
}

type PollHandler struct {
	submissions  Submitter
	interactions InteractionRecorder
	analytics    AnalyticsSource
	log          *zap.Logger
}

func NewPollHandler(submissions Submitter, interactions InteractionRecorder, analytics AnalyticsSource, log *zap.Logger) *PollHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PollHandler{
		submissions:  submissions,
		interactions: interactions,
		analytics:    analytics,
		log:          log,
	}
}

func (h *PollHandler) Submit(c *fiber.Ctx) error {
	var req poll.SubmissionRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return h.badBody(c, err)
	}

	res, err := h.submissions.Submit(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"id":        res.ID,
		"sessionId": res.SessionID,
		"message":   "Response recorded",
	})
}

func (h *PollHandler) RecordInteraction(c *fiber.Ctx) error {
	var req poll.InteractionRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return h.badBody(c, err)
	}

	if err := h.interactions.Record(c.UserContext(), req); err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true})
}

func (h *PollHandler) RecordBatch(c *fiber.Ctx) error {
	var req poll.BatchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return h.badBody(c, err)
	}

	n, err := h.interactions.RecordBatch(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"processed": n,
	})
}

func (h *PollHandler) Analytics(c *fiber.Ctx) error {
	data, err := h.analytics.Read(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(data)
}

func (h *PollHandler) badBody(c *fiber.Ctx, err error) error {
	h.log.Debug("Failed to decode request body", zap.String("path", c.Path()), zap.Error(err))
	return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "Request body could not be decoded: "+err.Error())
}

// fail maps pipeline errors to status codes. Store details stay in the logs.
func (h *PollHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, poll.ErrInvalidPrice):
		return errorResponse(c, fiber.StatusBadRequest, "invalid_price", err.Error())
	case errors.Is(err, poll.ErrInvalidInteraction):
		return errorResponse(c, fiber.StatusBadRequest, "invalid_interaction", err.Error())
	case errors.Is(err, poll.ErrValidation):
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, poll.ErrDuplicate):
		return errorResponse(c, fiber.StatusConflict, "duplicate_session", "A response was already submitted for this session")
	default:
		h.log.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "store_error", "Failed to save data, please try again")
	}
}

func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   code,
		"message": message,
	})
}
