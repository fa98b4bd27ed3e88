package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pollpulse/backend/internal/notify"
)

type CounterReader interface {
	Get(ctx context.Context, key string) ([]byte, bool)
}

type DailyCounter interface {
	DailyResponseCount(ctx context.Context, day time.Time) (int64, error)
}

// DailySummary posts the previous UTC day's submission count to chat. The
// cache counter is preferred; the store is counted when the key is gone.
type DailySummary struct {
	counter CounterReader
	store   DailyCounter
	chat    notify.ChatSender
	channel string
	log     *zap.Logger
	now     func() time.Time
}

func NewDailySummary(counter CounterReader, store DailyCounter, chat notify.ChatSender, channel string, log *zap.Logger) *DailySummary {
	if log == nil {
		log = zap.NewNop()
	}
	return &DailySummary{
		counter: counter,
		store:   store,
		chat:    chat,
		channel: channel,
		log:     log,
		now:     time.Now,
	}
}

func (j *DailySummary) Name() string {
	return "daily-summary"
}

func (j *DailySummary) Run(ctx context.Context) error {
	day := j.now().UTC().AddDate(0, 0, -1)

	count, source, err := j.count(ctx, day)
	if err != nil {
		return err
	}

	text := fmt.Sprintf(":bar_chart: *Daily poll summary* for %s\nResponses: %d", day.Format("2006-01-02"), count)
	err = j.chat.SendChat(ctx, notify.ChatMessage{Channel: j.channel, Text: text})
	switch {
	case errors.Is(err, notify.ErrNotConfigured):
		j.log.Debug("Daily summary not posted, chat not configured", zap.Int64("count", count))
		return nil
	case err != nil:
		return fmt.Errorf("failed to post daily summary: %w", err)
	}

	j.log.Info("Daily summary posted", zap.Int64("count", count), zap.String("source", source))
	return nil
}

func (j *DailySummary) count(ctx context.Context, day time.Time) (int64, string, error) {
	if raw, ok := j.counter.Get(ctx, notify.DailyCounterKey(day)); ok {
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err == nil {
			return n, "cache", nil
		}
		j.log.Warn("Daily counter is not a number, counting in store", zap.String("raw", string(raw)))
	}

	n, err := j.store.DailyResponseCount(ctx, day)
	if err != nil {
		return 0, "", fmt.Errorf("failed to count daily responses: %w", err)
	}
	return n, "store", nil
}
