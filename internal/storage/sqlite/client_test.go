package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(":memory:", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })

	return client
}

func countRows(t *testing.T, c *Client, table string) int {
	t.Helper()

	var n int
	require.NoError(t, c.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestInsertResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("stores lists and returns id", func(t *testing.T) {
		c := newTestClient(t)

		resp := &models.SurveyResponse{
			SessionID:    "s1",
			Interest:     "very-interested",
			UseCases:     []string{"research", "ops"},
			PriceWilling: 25,
			Features:     nil,
			Email:        "a@b.com",
			Viewport:     models.Viewport{Width: 1280, Height: 720},
		}
		id, err := c.InsertResponse(ctx, resp)
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.Equal(t, id, resp.ID)

		exists, err := c.HasResponse(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, exists)

		rows, err := c.ResponseRows(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"research", "ops"}, rows[0].UseCases)
		assert.Equal(t, []string{}, rows[0].Features)
		assert.Equal(t, 25, rows[0].PriceWilling)
	})

	t.Run("unique constraint maps to duplicate session", func(t *testing.T) {
		c := newTestClient(t)

		_, err := c.InsertResponse(ctx, &models.SurveyResponse{SessionID: "dup"})
		require.NoError(t, err)

		_, err = c.InsertResponse(ctx, &models.SurveyResponse{SessionID: "dup", PriceWilling: 99})
		assert.ErrorIs(t, err, storage.ErrDuplicateSession)
		assert.Equal(t, 1, countRows(t, c, "poll_responses"))
	})
}

func TestInsertInteractions(t *testing.T) {
	ctx := context.Background()

	t.Run("batch commits all events", func(t *testing.T) {
		c := newTestClient(t)

		events := []models.InteractionEvent{
			{SessionID: "s1", Type: "click", Question: "q1"},
			{SessionID: "s1", Type: "focus", Question: "q2"},
			{SessionID: "s1", Type: "change", Question: "q3"},
		}
		require.NoError(t, c.InsertInteractions(ctx, events))
		assert.Equal(t, 3, countRows(t, c, "poll_interactions"))
	})

	t.Run("failing event rolls back the whole batch", func(t *testing.T) {
		c := newTestClient(t)

		events := []models.InteractionEvent{
			{SessionID: "s1", Type: "click"},
			{SessionID: "s1", Type: ""},
			{SessionID: "s1", Type: "change"},
		}
		err := c.InsertInteractions(ctx, events)
		require.Error(t, err)
		assert.Equal(t, 0, countRows(t, c, "poll_interactions"))

		// the connection is usable after the rollback
		require.NoError(t, c.InsertInteraction(ctx, &models.InteractionEvent{SessionID: "s1", Type: "click"}))
		assert.Equal(t, 1, countRows(t, c, "poll_interactions"))
	})
}

func TestAggregates(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	now := time.Now().UTC()

	seed := []models.SurveyResponse{
		{SessionID: "a", Interest: "very-interested", PriceWilling: 30, TimeToComplete: 1000, InteractionCount: 10, CreatedAt: now.Add(-time.Hour)},
		{SessionID: "b", Interest: "somewhat", PriceWilling: 10, TimeToComplete: 3000, InteractionCount: 20, CreatedAt: now.Add(-48 * time.Hour)},
		{SessionID: "old", Interest: "very-interested", PriceWilling: 100, TimeToComplete: 9000, InteractionCount: 90, CreatedAt: now.Add(-40 * 24 * time.Hour)},
	}
	for i := range seed {
		_, err := c.InsertResponse(ctx, &seed[i])
		require.NoError(t, err)
	}

	events := []models.InteractionEvent{
		{SessionID: "a", Type: "click", CreatedAt: now},
		{SessionID: "a", Type: "click", CreatedAt: now},
		{SessionID: "a", Type: "focus", CreatedAt: now},
		{SessionID: "old", Type: "focus", CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{SessionID: "old", Type: "focus", CreatedAt: now.Add(-40 * 24 * time.Hour)},
	}
	require.NoError(t, c.InsertInteractions(ctx, events))

	t.Run("all time stats", func(t *testing.T) {
		s, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), s.TotalResponses)
		assert.InDelta(t, 140.0/3, s.AveragePriceWilling, 1e-9)
		assert.Equal(t, int64(2), s.VeryInterestedCount)
	})

	t.Run("window stats exclude old rows", func(t *testing.T) {
		s, err := c.WindowStats(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), s.TotalResponses)
		assert.InDelta(t, 2000.0, s.AverageCompletionTime, 1e-9)
		assert.InDelta(t, 15.0, s.AverageInteractions, 1e-9)
		assert.InDelta(t, 20.0, s.AveragePriceWilling, 1e-9)
		assert.Equal(t, int64(1), s.VeryInterestedCount)
	})

	t.Run("empty window averages are zero", func(t *testing.T) {
		s, err := c.WindowStats(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.StatsSnapshot{}, *s)
	})

	t.Run("interaction types ordered by count", func(t *testing.T) {
		counts, err := c.InteractionTypeCounts(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []models.InteractionTypeCount{
			{Type: "click", Count: 2},
			{Type: "focus", Count: 1},
		}, counts)
	})

	t.Run("response rows newest first", func(t *testing.T) {
		rows, err := c.ResponseRows(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 30, rows[0].PriceWilling)
		assert.Equal(t, 10, rows[1].PriceWilling)
	})

	t.Run("daily count", func(t *testing.T) {
		n, err := c.DailyResponseCount(ctx, now.Add(-40*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
