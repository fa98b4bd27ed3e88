package poll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
)

type InteractionService struct {
	store   storage.Store
	metrics Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewInteractionService(store storage.Store, m Metrics, log *zap.Logger) *InteractionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InteractionService{store: store, metrics: m, log: log, now: time.Now}
}

func (s *InteractionService) Record(ctx context.Context, req InteractionRequest) error {
	event, err := s.event(req, req.SessionID)
	if err != nil {
		return err
	}

	if err := s.store.InsertInteraction(ctx, &event); err != nil {
		s.log.Error("Failed to store interaction", zap.String("session_id", event.SessionID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	s.metrics.Interaction(event.Type, event.Question)
	return nil
}

// RecordBatch stores every interaction or none. Items are validated before
// anything is written and all of them belong to the batch's session.
func (s *InteractionService) RecordBatch(ctx context.Context, req BatchRequest) (int, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return 0, fmt.Errorf("%w: batch has no sessionId", ErrInvalidInteraction)
	}
	if len(req.Interactions) == 0 {
		return 0, nil
	}

	events := make([]models.InteractionEvent, 0, len(req.Interactions))
	for i, item := range req.Interactions {
		event, err := s.event(item, req.SessionID)
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		events = append(events, event)
	}

	if err := s.store.InsertInteractions(ctx, events); err != nil {
		s.log.Error("Failed to store interaction batch",
			zap.String("session_id", req.SessionID),
			zap.Int("size", len(events)),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}

	for _, e := range events {
		s.metrics.Interaction(e.Type, e.Question)
	}

	s.log.Debug("Interaction batch recorded", zap.String("session_id", req.SessionID), zap.Int("size", len(events)))
	return len(events), nil
}

func (s *InteractionService) event(req InteractionRequest, sessionID string) (models.InteractionEvent, error) {
	sessionID = strings.TrimSpace(sessionID)
	eventType := strings.TrimSpace(req.Type)
	if sessionID == "" || eventType == "" {
		return models.InteractionEvent{}, ErrInvalidInteraction
	}

	return models.InteractionEvent{
		SessionID:       sessionID,
		ClientTimestamp: int64(req.Timestamp),
		Type:            eventType,
		Element:         req.Element,
		Value:           string(req.Value),
		Question:        req.Question,
		TimeOnPage:      int64(req.TimeOnPage),
		UserAgent:       req.UserAgent,
		Viewport:        req.Viewport.model(),
		CreatedAt:       s.now().UTC(),
	}, nil
}
