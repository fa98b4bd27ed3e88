package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
	"github.com/pollpulse/backend/pkg/logger"
)

const uniqueViolation = "23505"

type Client struct {
	db      *sql.DB
	timeout time.Duration
}

var _ storage.Store = (*Client)(nil)

// NewClient opens the pool without dialing; call Ping to check reachability.
func NewClient(dsn string, queryTimeout time.Duration) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("PostgreSQL client initialized")

	return &Client{db: db, timeout: queryTimeout}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.db.PingContext(ctx)
}

// schema leaves client-supplied text unbounded so both backends accept the
// same input. The ALTERs widen tables created with the earlier VARCHAR
// columns and are no-ops afterwards.
const schema = `
CREATE TABLE IF NOT EXISTS poll_responses (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	interest TEXT NOT NULL DEFAULT '',
	use_cases TEXT[] NOT NULL DEFAULT '{}',
	frequency TEXT NOT NULL DEFAULT '',
	pain_point TEXT NOT NULL DEFAULT '',
	price_willing INTEGER NOT NULL DEFAULT 0,
	features TEXT[] NOT NULL DEFAULT '{}',
	feedback TEXT NOT NULL DEFAULT '',
	notify BOOLEAN NOT NULL DEFAULT FALSE,
	email TEXT,
	time_to_complete BIGINT NOT NULL DEFAULT 0,
	interaction_count BIGINT NOT NULL DEFAULT 0,
	user_agent TEXT NOT NULL DEFAULT '',
	viewport JSONB NOT NULL DEFAULT '{}',
	referrer TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_poll_responses_session ON poll_responses(session_id);
CREATE INDEX IF NOT EXISTS idx_poll_responses_created ON poll_responses(created_at);

ALTER TABLE poll_responses
	ALTER COLUMN session_id TYPE TEXT,
	ALTER COLUMN interest TYPE TEXT,
	ALTER COLUMN frequency TYPE TEXT,
	ALTER COLUMN email TYPE TEXT,
	ALTER COLUMN interaction_count TYPE BIGINT;

CREATE TABLE IF NOT EXISTS poll_interactions (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	client_timestamp BIGINT NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL CHECK (event_type <> ''),
	element TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '',
	question TEXT NOT NULL DEFAULT '',
	time_on_page BIGINT NOT NULL DEFAULT 0,
	user_agent TEXT NOT NULL DEFAULT '',
	viewport JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_poll_interactions_session ON poll_interactions(session_id);
CREATE INDEX IF NOT EXISTS idx_poll_interactions_created ON poll_interactions(created_at);

ALTER TABLE poll_interactions
	ALTER COLUMN session_id TYPE TEXT,
	ALTER COLUMN event_type TYPE TEXT;
`

func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("PostgreSQL schema initialized")
	return nil
}

func (c *Client) HasResponse(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM poll_responses WHERE session_id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check response: %w", err)
	}

	return exists, nil
}

func (c *Client) InsertResponse(ctx context.Context, resp *models.SurveyResponse) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO poll_responses (session_id, interest, use_cases, frequency, pain_point, price_willing,
			features, feedback, notify, email, time_to_complete, interaction_count, user_agent, viewport,
			referrer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	var id int64
	err := c.db.QueryRowContext(ctx, query,
		resp.SessionID,
		resp.Interest,
		pq.Array(nonNil(resp.UseCases)),
		resp.Frequency,
		resp.PainPoint,
		resp.PriceWilling,
		pq.Array(nonNil(resp.Features)),
		resp.Feedback,
		resp.Notify,
		sql.NullString{String: resp.Email, Valid: resp.Email != ""},
		resp.TimeToComplete,
		resp.InteractionCount,
		resp.UserAgent,
		resp.Viewport.JSON(),
		resp.Referrer,
		resp.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateSession
		}
		return 0, fmt.Errorf("failed to insert response: %w", err)
	}
	resp.ID = id

	logger.Debug("Response inserted", zap.Int64("id", id), zap.String("session_id", resp.SessionID))
	return id, nil
}

const insertInteraction = `
	INSERT INTO poll_interactions (session_id, client_timestamp, event_type, element, value, question,
		time_on_page, user_agent, viewport, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func interactionArgs(e *models.InteractionEvent) []interface{} {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return []interface{}{
		e.SessionID,
		e.ClientTimestamp,
		e.Type,
		e.Element,
		e.Value,
		e.Question,
		e.TimeOnPage,
		e.UserAgent,
		e.Viewport.JSON(),
		e.CreatedAt,
	}
}

func (c *Client) InsertInteraction(ctx context.Context, event *models.InteractionEvent) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, insertInteraction, interactionArgs(event)...); err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

func (c *Client) InsertInteractions(ctx context.Context, events []models.InteractionEvent) (err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Error("Failed to roll back interaction batch", zap.Error(rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertInteraction)
	if err != nil {
		return fmt.Errorf("failed to prepare interaction insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		if _, err = stmt.ExecContext(ctx, interactionArgs(&events[i])...); err != nil {
			return fmt.Errorf("failed to insert interaction %d of batch: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interaction batch: %w", err)
	}
	return nil
}

const statsQuery = `
	SELECT COUNT(*),
		COALESCE(AVG(time_to_complete), 0)::float8,
		COALESCE(AVG(interaction_count), 0)::float8,
		COALESCE(AVG(price_willing), 0)::float8,
		COUNT(*) FILTER (WHERE interest = 'very-interested')
	FROM poll_responses
`

func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	return c.scanStats(ctx, statsQuery)
}

func (c *Client) WindowStats(ctx context.Context, since time.Time) (*models.StatsSnapshot, error) {
	return c.scanStats(ctx, statsQuery+` WHERE created_at >= $1`, since)
}

func (c *Client) scanStats(ctx context.Context, query string, args ...interface{}) (*models.StatsSnapshot, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var s models.StatsSnapshot
	err := c.db.QueryRowContext(ctx, query, args...).Scan(
		&s.TotalResponses,
		&s.AverageCompletionTime,
		&s.AverageInteractions,
		&s.AveragePriceWilling,
		&s.VeryInterestedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	return &s, nil
}

func (c *Client) ResponseRows(ctx context.Context, since time.Time) ([]models.ResponseRow, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT interest, use_cases, price_willing, features, time_to_complete, interaction_count, created_at
		FROM poll_responses
		WHERE created_at >= $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := c.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query response rows: %w", err)
	}
	defer rows.Close()

	result := make([]models.ResponseRow, 0)
	for rows.Next() {
		var r models.ResponseRow
		var useCases, features pq.StringArray

		err := rows.Scan(&r.Interest, &useCases, &r.PriceWilling, &features, &r.TimeToComplete, &r.InteractionCount, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}

		r.UseCases = nonNil(useCases)
		r.Features = nonNil(features)
		r.CreatedAt = r.CreatedAt.UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}

	return result, nil
}

func (c *Client) InteractionTypeCounts(ctx context.Context, since time.Time) ([]models.InteractionTypeCount, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT event_type, COUNT(*) AS count
		FROM poll_interactions
		WHERE created_at >= $1
		GROUP BY event_type
		ORDER BY count DESC, event_type ASC
	`

	rows, err := c.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction types: %w", err)
	}
	defer rows.Close()

	result := make([]models.InteractionTypeCount, 0)
	for rows.Next() {
		var tc models.InteractionTypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan interaction type: %w", err)
		}
		result = append(result, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction types: %w", err)
	}

	return result, nil
}

func (c *Client) DailyResponseCount(ctx context.Context, day time.Time) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var count int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM poll_responses WHERE created_at >= $1 AND created_at < $2`,
		start, start.Add(24*time.Hour),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily responses: %w", err)
	}

	return count, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
