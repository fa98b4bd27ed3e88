package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/metrics"
	"github.com/pollpulse/backend/internal/notify"
	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
	"github.com/pollpulse/backend/pkg/utils"
)

type SubmitResult struct {
	ID        int64
	SessionID string
	Triggers  notify.Triggers
}

type SubmissionService struct {
	store    storage.Store
	cache    Cache
	notifier Notifier
	metrics  Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewSubmissionService(store storage.Store, cache Cache, notifier Notifier, m Metrics, log *zap.Logger) *SubmissionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SubmissionService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Submit records one response per session. Only validation, duplicate and
// store errors are returned; cache and notification problems are logged.
func (s *SubmissionService) Submit(ctx context.Context, req SubmissionRequest) (*SubmitResult, error) {
	price, err := ParsePrice(req.PriceWilling)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = utils.NewSessionID(now)
	}

	exists, err := s.store.HasResponse(ctx, sessionID)
	switch {
	case err != nil:
		// the unique constraint still guards the insert below
		s.log.Warn("Duplicate pre-check failed, relying on insert", zap.String("session_id", sessionID), zap.Error(err))
	case exists:
		s.metrics.Submission(metrics.SubmissionDuplicate)
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, sessionID)
	}

	resp := &models.SurveyResponse{
		SessionID:        sessionID,
		Interest:         strings.TrimSpace(req.Interest),
		UseCases:         nonNil(req.UseCases),
		Frequency:        req.Frequency,
		PainPoint:        req.PainPoint,
		PriceWilling:     price,
		Features:         nonNil(req.Features),
		Feedback:         req.Feedback,
		Notify:           bool(req.Notify),
		Email:            strings.TrimSpace(req.Email),
		TimeToComplete:   int64(req.TimeToComplete),
		InteractionCount: int(req.InteractionCount),
		UserAgent:        req.UserAgent,
		Viewport:         req.Viewport.model(),
		Referrer:         req.Referrer,
		CreatedAt:        now,
	}

	id, err := s.store.InsertResponse(ctx, resp)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateSession) {
			s.metrics.Submission(metrics.SubmissionDuplicate)
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, sessionID)
		}
		s.metrics.Submission(metrics.SubmissionError)
		s.log.Error("Failed to store response", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	s.refreshStats(ctx)

	triggers := s.notifier.Dispatch(ctx, notify.Submission{
		SessionID:        sessionID,
		Interest:         resp.Interest,
		PriceWilling:     resp.PriceWilling,
		UseCases:         resp.UseCases,
		Email:            resp.Email,
		TimeToComplete:   time.Duration(resp.TimeToComplete) * time.Millisecond,
		InteractionCount: resp.InteractionCount,
		SubmittedAt:      now,
	})

	s.metrics.Submission(metrics.SubmissionSuccess)
	s.log.Info("Poll response recorded",
		zap.Int64("id", id),
		zap.String("session_id", sessionID),
		zap.Bool("high_value", triggers.HighValue),
		zap.Bool("high_interest", triggers.HighInterest),
	)

	return &SubmitResult{ID: id, SessionID: sessionID, Triggers: triggers}, nil
}

// refreshStats recomputes the all-time snapshot. A failure leaves the old
// entry to expire.
func (s *SubmissionService) refreshStats(ctx context.Context) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Warn("Failed to recompute stats", zap.Error(err))
		return
	}
	s.cache.SetJSON(ctx, StatsKey, stats, StatsTTL)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
