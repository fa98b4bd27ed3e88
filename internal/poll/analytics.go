package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
)

type AnalyticsReader struct {
	store storage.Store
	cache Cache
	log   *zap.Logger
	now   func() time.Time
}

func NewAnalyticsReader(store storage.Store, cache Cache, log *zap.Logger) *AnalyticsReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsReader{store: store, cache: cache, log: log, now: time.Now}
}

// Read returns the cached snapshot verbatim when present, otherwise a freshly
// computed one that is written back for AnalyticsTTL.
func (r *AnalyticsReader) Read(ctx context.Context) (json.RawMessage, error) {
	if data, ok := r.cache.Get(ctx, AnalyticsKey); ok {
		return data, nil
	}

	snapshot, err := r.Compute(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analytics: %w", err)
	}

	r.cache.SetJSON(ctx, AnalyticsKey, json.RawMessage(data), AnalyticsTTL)
	return data, nil
}

// Compute builds the trailing-window snapshot straight from the store.
func (r *AnalyticsReader) Compute(ctx context.Context) (*models.AnalyticsSnapshot, error) {
	now := r.now().UTC()
	since := now.Add(-AnalyticsWindow)

	rows, err := r.store.ResponseRows(ctx, since)
	if err != nil {
		return nil, r.storeErr("response rows", err)
	}

	types, err := r.store.InteractionTypeCounts(ctx, since)
	if err != nil {
		return nil, r.storeErr("interaction types", err)
	}

	stats, err := r.store.WindowStats(ctx, since)
	if err != nil {
		return nil, r.storeErr("window stats", err)
	}

	return &models.AnalyticsSnapshot{
		TotalResponses:        stats.TotalResponses,
		AverageCompletionTime: stats.AverageCompletionTime,
		AverageInteractions:   stats.AverageInteractions,
		AveragePriceWilling:   stats.AveragePriceWilling,
		VeryInterestedCount:   stats.VeryInterestedCount,
		InteractionTypes:      types,
		ResponseData:          rows,
		GeneratedAt:           now,
	}, nil
}

func (r *AnalyticsReader) storeErr(what string, err error) error {
	r.log.Error("Failed to compute analytics", zap.String("query", what), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrStore, what, err)
}
