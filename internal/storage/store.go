// Package storage defines the persistent store used by the poll pipelines.
// Backends live in the postgres and sqlite subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pollpulse/backend/internal/storage/models"
)

// ErrDuplicateSession is returned by InsertResponse when the unique
// constraint on session_id rejects the row.
var ErrDuplicateSession = errors.New("response already recorded for session")

type Store interface {
	HasResponse(ctx context.Context, sessionID string) (bool, error)
	InsertResponse(ctx context.Context, resp *models.SurveyResponse) (int64, error)
	InsertInteraction(ctx context.Context, event *models.InteractionEvent) error
	// InsertInteractions writes all events in one transaction, in order.
	InsertInteractions(ctx context.Context, events []models.InteractionEvent) error

	Stats(ctx context.Context) (*models.StatsSnapshot, error)
	WindowStats(ctx context.Context, since time.Time) (*models.StatsSnapshot, error)
	ResponseRows(ctx context.Context, since time.Time) ([]models.ResponseRow, error)
	InteractionTypeCounts(ctx context.Context, since time.Time) ([]models.InteractionTypeCount, error)
	// DailyResponseCount counts responses created on the UTC day of day.
	DailyResponseCount(ctx context.Context, day time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Driver names the backend selected by a store URL.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// ParseURL picks the backend for url. postgres:// and postgresql:// select
// Postgres; sqlite://path, file: URIs and bare paths select SQLite.
func ParseURL(url string) (Driver, string, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return "", "", fmt.Errorf("store url is empty")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "file:"):
		return DriverSQLite, url, nil
	case strings.Contains(url, "://"):
		return "", "", fmt.Errorf("unsupported store url scheme: %s", url)
	default:
		return DriverSQLite, url, nil
	}
}
