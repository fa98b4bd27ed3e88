package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
	"github.com/pollpulse/backend/pkg/logger"
)

// Client is the local-development store. Arrays and viewports are kept as
// JSON text and timestamps as unix seconds.
type Client struct {
	db      *sql.DB
	timeout time.Duration
}

var _ storage.Store = (*Client)(nil)

func NewClient(dbPath string, queryTimeout time.Duration) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and :memory: databases are
	// per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

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

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS poll_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		interest TEXT NOT NULL DEFAULT '',
		use_cases TEXT NOT NULL DEFAULT '[]',
		frequency TEXT NOT NULL DEFAULT '',
		pain_point TEXT NOT NULL DEFAULT '',
		price_willing INTEGER NOT NULL DEFAULT 0,
		features TEXT NOT NULL DEFAULT '[]',
		feedback TEXT NOT NULL DEFAULT '',
		notify INTEGER NOT NULL DEFAULT 0,
		email TEXT,
		time_to_complete INTEGER NOT NULL DEFAULT 0,
		interaction_count INTEGER NOT NULL DEFAULT 0,
		user_agent TEXT NOT NULL DEFAULT '',
		viewport TEXT NOT NULL DEFAULT '{}',
		referrer TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_poll_responses_session ON poll_responses(session_id);
	CREATE INDEX IF NOT EXISTS idx_poll_responses_created ON poll_responses(created_at);

	CREATE TABLE IF NOT EXISTS poll_interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		client_timestamp INTEGER NOT NULL DEFAULT 0,
		event_type TEXT NOT NULL CHECK (event_type <> ''),
		element TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL DEFAULT '',
		time_on_page INTEGER NOT NULL DEFAULT 0,
		user_agent TEXT NOT NULL DEFAULT '',
		viewport TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_poll_interactions_session ON poll_interactions(session_id);
	CREATE INDEX IF NOT EXISTS idx_poll_interactions_created ON poll_interactions(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) HasResponse(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM poll_responses WHERE session_id = ?)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check response: %w", err)
	}

	return exists == 1, nil
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		resp.SessionID,
		resp.Interest,
		encodeList(resp.UseCases),
		resp.Frequency,
		resp.PainPoint,
		resp.PriceWilling,
		encodeList(resp.Features),
		resp.Feedback,
		resp.Notify,
		nullString(resp.Email),
		resp.TimeToComplete,
		resp.InteractionCount,
		resp.UserAgent,
		resp.Viewport.JSON(),
		resp.Referrer,
		resp.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateSession
		}
		return 0, fmt.Errorf("failed to insert response: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read response id: %w", err)
	}
	resp.ID = id

	logger.Debug("Response inserted", zap.Int64("id", id), zap.String("session_id", resp.SessionID))
	return id, nil
}

const insertInteraction = `
	INSERT INTO poll_interactions (session_id, client_timestamp, event_type, element, value, question,
		time_on_page, user_agent, viewport, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		e.CreatedAt.Unix(),
	}
}

func (c *Client) InsertInteraction(ctx context.Context, event *models.InteractionEvent) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, insertInteraction, interactionArgs(event)...)
	if err != nil {
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
		COALESCE(AVG(time_to_complete), 0.0),
		COALESCE(AVG(interaction_count), 0.0),
		COALESCE(AVG(price_willing), 0.0),
		COALESCE(SUM(CASE WHEN interest = 'very-interested' THEN 1 ELSE 0 END), 0)
	FROM poll_responses
	WHERE created_at >= ?
`

func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	return c.WindowStats(ctx, time.Unix(0, 0))
}

func (c *Client) WindowStats(ctx context.Context, since time.Time) (*models.StatsSnapshot, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var s models.StatsSnapshot
	err := c.db.QueryRowContext(ctx, statsQuery, since.Unix()).Scan(
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
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query response rows: %w", err)
	}
	defer rows.Close()

	result := make([]models.ResponseRow, 0)
	for rows.Next() {
		var r models.ResponseRow
		var useCases, features string
		var createdAt int64

		err := rows.Scan(&r.Interest, &useCases, &r.PriceWilling, &features, &r.TimeToComplete, &r.InteractionCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}

		r.UseCases = decodeList(useCases)
		r.Features = decodeList(features)
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
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
		WHERE created_at >= ?
		GROUP BY event_type
		ORDER BY count DESC, event_type ASC
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix())
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
	end := start.Add(24 * time.Hour)

	var count int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM poll_responses WHERE created_at >= ? AND created_at < ?`,
		start.Unix(), end.Unix(),
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
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func decodeList(raw string) []string {
	items := []string{}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		logger.Warn("Failed to decode stored list", zap.String("raw", raw), zap.Error(err))
		return []string{}
	}
	return items
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
