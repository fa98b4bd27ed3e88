// Package poll holds the submission, interaction and analytics pipelines.
// Handlers decode requests; everything after decoding happens here.
package poll

import (
	"context"
	"time"

	"github.com/pollpulse/backend/internal/notify"
)

const (
	StatsKey = "poll:stats"
	StatsTTL = time.Hour

	AnalyticsKey    = "poll:analytics"
	AnalyticsTTL    = 300 * time.Second
	AnalyticsWindow = 30 * 24 * time.Hour
)

// Cache is the advisory cache as the pipelines see it: failures are already
// swallowed and show up only as false.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) bool
}

type Notifier interface {
	Dispatch(ctx context.Context, s notify.Submission) notify.Triggers
}

type Metrics interface {
	Submission(status string)
	Interaction(eventType, question string)
}
