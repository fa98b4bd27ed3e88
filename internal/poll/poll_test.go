package poll

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollpulse/backend/internal/cache"
	"github.com/pollpulse/backend/internal/metrics"
	"github.com/pollpulse/backend/internal/notify"
	"github.com/pollpulse/backend/internal/storage"
	"github.com/pollpulse/backend/internal/storage/models"
	"github.com/pollpulse/backend/internal/storage/sqlite"
)

var fixedNow = time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(":memory:", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })
	return store
}

type downCache struct{}

var errCacheDown = errors.New("dial tcp: connection refused")

func (downCache) Get(context.Context, string) ([]byte, error) { return nil, errCacheDown }
func (downCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}
func (downCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errCacheDown
}
func (downCache) Ping(context.Context) error { return errCacheDown }
func (downCache) Close() error { return nil }

type countingChat struct {
	mu   sync.Mutex
	sent int
}

func (c *countingChat) SendChat(context.Context, notify.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return nil
}

func (c *countingChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

type countingMailer struct {
	mu   sync.Mutex
	sent int
}

func (m *countingMailer) SendEmail(context.Context, notify.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	return nil
}

func (m *countingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

type harness struct {
	store      *sqlite.Client
	mem        *cache.Memory
	cache      *cache.Advisory
	metrics    *metrics.Registry
	chat       *countingChat
	mailer     *countingMailer
	dispatcher *notify.Dispatcher

	submissions  *SubmissionService
	interactions *InteractionService
	analytics    *AnalyticsReader
}

func newHarness(t *testing.T, backing cache.Cache) *harness {
	t.Helper()

	h := &harness{
		store:   newStore(t),
		metrics: metrics.New(),
		chat:    &countingChat{},
		mailer:  &countingMailer{},
	}
	if backing == nil {
		h.mem = cache.NewMemory()
		backing = h.mem
	}
	h.cache = cache.NewAdvisory(backing, time.Second, nil, h.metrics)
	h.dispatcher = notify.NewDispatcher(h.chat, h.mailer, h.cache, h.metrics, notify.Config{Channel: "#general"})

	h.submissions = NewSubmissionService(h.store, h.cache, h.dispatcher, h.metrics, nil)
	h.submissions.now = func() time.Time { return fixedNow }
	h.interactions = NewInteractionService(h.store, h.metrics, nil)
	h.interactions.now = func() time.Time { return fixedNow }
	h.analytics = NewAnalyticsReader(h.store, h.cache, nil)
	h.analytics.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) responseCount(t *testing.T) int64 {
	t.Helper()
	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	return stats.TotalResponses
}

func (h *harness) interactionCount(t *testing.T) int64 {
	t.Helper()
	counts, err := h.store.InteractionTypeCounts(context.Background(), time.Unix(0, 0))
	require.NoError(t, err)
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return total
}

func decodeSubmission(t *testing.T, body string) SubmissionRequest {
	t.Helper()
	var req SubmissionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestSubmitThenDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := decodeSubmission(t, `{"sessionId":"s1","interest":"very-interested","price_willing":25,"email":"a@b.com"}`)
	res, err := h.submissions.Submit(ctx, req)
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Positive(t, res.ID)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, notify.Triggers{HighValue: true, HighInterest: true}, res.Triggers)
	assert.Equal(t, int64(1), h.responseCount(t))
	assert.Equal(t, 2, h.chat.count())
	assert.Equal(t, 1, h.mailer.count())

	counter, err := h.mem.Get(ctx, notify.DailyCounterKey(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, "1", string(counter))

	_, err = h.submissions.Submit(ctx, req)
	h.dispatcher.Wait()
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, int64(1), h.responseCount(t))
	assert.Equal(t, 2, h.chat.count(), "duplicate sends no notifications")
	assert.Equal(t, 1, h.mailer.count())

	counter, err = h.mem.Get(ctx, notify.DailyCounterKey(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, "1", string(counter))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Submissions.WithLabelValues(metrics.SubmissionSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Submissions.WithLabelValues(metrics.SubmissionDuplicate)))
}

func TestSubmitRefreshesStatsCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.submissions.Submit(ctx, decodeSubmission(t, `{"sessionId":"a","price_willing":"10","timeToComplete":3000.7,"interactionCount":4}`))
	require.NoError(t, err)
	_, err = h.submissions.Submit(ctx, decodeSubmission(t, `{"sessionId":"b","price_willing":30,"timeToComplete":1000,"interactionCount":2}`))
	require.NoError(t, err)
	h.dispatcher.Wait()

	raw, err := h.mem.Get(ctx, StatsKey)
	require.NoError(t, err)

	var stats models.StatsSnapshot
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, int64(2), stats.TotalResponses)
	assert.InDelta(t, 20.0, stats.AveragePriceWilling, 0.001)
	assert.InDelta(t, 2000.0, stats.AverageCompletionTime, 0.001)
	assert.InDelta(t, 3.0, stats.AverageInteractions, 0.001)
}

func TestSubmitGeneratesSessionID(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.submissions.Submit(context.Background(), decodeSubmission(t, `{"interest":"curious","use-cases":"Research"}`))
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Regexp(t, `^session_\d+_[0-9a-f]{9}$`, res.SessionID)
	assert.Equal(t, notify.Triggers{}, res.Triggers)
}

func TestSubmitRejectsBadPrice(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.submissions.Submit(context.Background(), decodeSubmission(t, `{"sessionId":"s1","price_willing":"lots"}`))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, h.responseCount(t))
}

func TestSubmitRacingDuplicateIsConflict(t *testing.T) {
	h := newHarness(t, nil)
	store := &blindStore{Store: h.store}
	svc := NewSubmissionService(store, h.cache, h.dispatcher, h.metrics, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, decodeSubmission(t, `{"sessionId":"race"}`))
	require.NoError(t, err)

	_, err = svc.Submit(ctx, decodeSubmission(t, `{"sessionId":"race"}`))
	h.dispatcher.Wait()
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, int64(1), h.responseCount(t))
}

func TestSubmitStoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	svc := NewSubmissionService(&failingStore{Store: h.store}, h.cache, h.dispatcher, h.metrics, nil)

	_, err := svc.Submit(context.Background(), decodeSubmission(t, `{"sessionId":"s1","price_willing":99}`))
	h.dispatcher.Wait()
	assert.ErrorIs(t, err, ErrStore)
	assert.Zero(t, h.chat.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Submissions.WithLabelValues(metrics.SubmissionError)))
}

func TestCacheOutageKeepsEndpointsWorking(t *testing.T) {
	h := newHarness(t, downCache{})
	ctx := context.Background()

	res, err := h.submissions.Submit(ctx, decodeSubmission(t, `{"sessionId":"s1","interest":"very-interested","price_willing":25}`))
	require.NoError(t, err)
	h.dispatcher.Wait()
	assert.Positive(t, res.ID)
	assert.Equal(t, 2, h.chat.count())

	require.NoError(t, h.interactions.Record(ctx, InteractionRequest{SessionID: "s1", Type: "click"}))

	n, err := h.interactions.RecordBatch(ctx, BatchRequest{
		SessionID:    "s1",
		Interactions: []InteractionRequest{{Type: "focus"}, {Type: "change"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := h.analytics.Read(ctx)
	require.NoError(t, err)

	var snap models.AnalyticsSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int64(1), snap.TotalResponses)
	assert.Len(t, snap.InteractionTypes, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheRequests.WithLabelValues(AnalyticsKey, "error")))
}

func TestRecordInteraction(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var req InteractionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"sessionId":"s1","timestamp":1717000000000,"type":"click","value":42,"timeOnPage":1500.5}`), &req))
	require.NoError(t, h.interactions.Record(ctx, req))

	err := h.interactions.Record(ctx, InteractionRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrInvalidInteraction)
	err = h.interactions.Record(ctx, InteractionRequest{Type: "click"})
	assert.ErrorIs(t, err, ErrInvalidInteraction)

	assert.Equal(t, int64(1), h.interactionCount(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Interactions.WithLabelValues("click", metrics.UnknownQuestion)))
}

func TestRecordBatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	n, err := h.interactions.RecordBatch(ctx, BatchRequest{
		SessionID: "s1",
		Interactions: []InteractionRequest{
			{SessionID: "other", Type: "click", Question: "interest"},
			{Type: "focus", Question: "email"},
			{Type: "change", Question: "price"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), h.interactionCount(t))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Interactions.WithLabelValues("click", "interest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Interactions.WithLabelValues("focus", "email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Interactions.WithLabelValues("change", "price")))
}

func TestRecordBatchIsAllOrNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.interactions.RecordBatch(ctx, BatchRequest{
		SessionID:    "s1",
		Interactions: []InteractionRequest{{Type: "click"}, {Type: ""}, {Type: "focus"}},
	})
	assert.ErrorIs(t, err, ErrInvalidInteraction)
	assert.Zero(t, h.interactionCount(t))

	svc := NewInteractionService(&failingStore{Store: h.store}, h.metrics, nil)
	_, err = svc.RecordBatch(ctx, BatchRequest{
		SessionID:    "s1",
		Interactions: []InteractionRequest{{Type: "click"}, {Type: "focus"}},
	})
	assert.ErrorIs(t, err, ErrStore)
	assert.Zero(t, h.interactionCount(t))
	assert.Zero(t, testutil.ToFloat64(h.metrics.Interactions.WithLabelValues("click", metrics.UnknownQuestion)))
}

func TestRecordBatchEmpty(t *testing.T) {
	h := newHarness(t, nil)

	n, err := h.interactions.RecordBatch(context.Background(), BatchRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.interactions.RecordBatch(context.Background(), BatchRequest{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAnalyticsColdCacheMatchesStore(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, body := range []string{
		`{"sessionId":"a","interest":"very-interested","price_willing":25,"timeToComplete":4000,"interactionCount":10,"features":["export","api"]}`,
		`{"sessionId":"b","interest":"curious","price_willing":5,"timeToComplete":2500,"interactionCount":3}`,
		`{"sessionId":"c","interest":"very-interested","price_willing":0,"timeToComplete":9000,"interactionCount":7}`,
	} {
		_, err := h.submissions.Submit(ctx, decodeSubmission(t, body))
		require.NoError(t, err)
	}
	_, err := h.interactions.RecordBatch(ctx, BatchRequest{
		SessionID:    "a",
		Interactions: []InteractionRequest{{Type: "click"}, {Type: "click"}, {Type: "focus"}},
	})
	require.NoError(t, err)
	h.dispatcher.Wait()

	direct, err := h.analytics.Compute(ctx)
	require.NoError(t, err)

	cold, err := h.analytics.Read(ctx)
	require.NoError(t, err)

	var viaCache models.AnalyticsSnapshot
	require.NoError(t, json.Unmarshal(cold, &viaCache))

	assert.Equal(t, direct.TotalResponses, viaCache.TotalResponses)
	assert.Equal(t, direct.AverageCompletionTime, viaCache.AverageCompletionTime)
	assert.Equal(t, direct.AverageInteractions, viaCache.AverageInteractions)
	assert.Equal(t, direct.AveragePriceWilling, viaCache.AveragePriceWilling)
	assert.Equal(t, direct.VeryInterestedCount, viaCache.VeryInterestedCount)
	assert.Equal(t, direct.InteractionTypes, viaCache.InteractionTypes)
	assert.Len(t, viaCache.ResponseData, 3)
	assert.Equal(t, []models.InteractionTypeCount{{Type: "click", Count: 2}, {Type: "focus", Count: 1}}, viaCache.InteractionTypes)

	cached, err := h.mem.Get(ctx, AnalyticsKey)
	require.NoError(t, err)
	assert.JSONEq(t, string(cold), string(cached))

	warm, err := h.analytics.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(cold), string(warm))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheRequests.WithLabelValues(AnalyticsKey, "hit")))
}

func TestAnalyticsSnapshotExpiresAfterTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	now := fixedNow
	clock := func() time.Time { return now }
	h.mem.SetClock(clock)
	h.analytics.now = clock

	total := func() int64 {
		t.Helper()
		data, err := h.analytics.Read(ctx)
		require.NoError(t, err)
		var snap models.AnalyticsSnapshot
		require.NoError(t, json.Unmarshal(data, &snap))
		return snap.TotalResponses
	}

	_, err := h.submissions.Submit(ctx, decodeSubmission(t, `{"sessionId":"a","interest":"curious"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total())

	_, err = h.submissions.Submit(ctx, decodeSubmission(t, `{"sessionId":"b","interest":"curious"}`))
	require.NoError(t, err)
	h.dispatcher.Wait()

	now = now.Add(AnalyticsTTL - time.Second)
	assert.Equal(t, int64(1), total(), "cached snapshot served within its ttl")

	now = now.Add(2 * time.Second)
	_, err = h.mem.Get(ctx, AnalyticsKey)
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.Equal(t, int64(2), total(), "expired snapshot is recomputed")
}

func TestStatsSnapshotExpiresAfterTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	now := fixedNow
	h.mem.SetClock(func() time.Time { return now })

	_, err := h.submissions.Submit(ctx, decodeSubmission(t, `{"sessionId":"a"}`))
	require.NoError(t, err)
	h.dispatcher.Wait()

	_, err = h.mem.Get(ctx, StatsKey)
	require.NoError(t, err)

	now = now.Add(StatsTTL)
	_, err = h.mem.Get(ctx, StatsKey)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestAnalyticsStoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	reader := NewAnalyticsReader(&failingStore{Store: h.store}, h.cache, nil)

	_, err := reader.Read(context.Background())
	assert.ErrorIs(t, err, ErrStore)
}

// blindStore never sees an existing response, so only the unique constraint
// can catch a repeat.
type blindStore struct {
	storage.Store
}

func (blindStore) HasResponse(context.Context, string) (bool, error) { return false, nil }

type failingStore struct {
	storage.Store
}

var errStoreDown = errors.New("connection reset by peer")

func (failingStore) HasResponse(context.Context, string) (bool, error) { return false, errStoreDown }
func (failingStore) InsertResponse(context.Context, *models.SurveyResponse) (int64, error) {
	return 0, errStoreDown
}
func (failingStore) InsertInteractions(context.Context, []models.InteractionEvent) error {
	return errStoreDown
}
func (failingStore) ResponseRows(context.Context, time.Time) ([]models.ResponseRow, error) {
	return nil, errStoreDown
}
