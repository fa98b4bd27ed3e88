package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pollpulse/backend/pkg/circuitbreaker"
)

type ChatSender interface {
	SendChat(ctx context.Context, msg ChatMessage) error
}

type Mailer interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// Counter is the best-effort counter store; *cache.Advisory implements it.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool)
}

// Recorder receives one call per attempted notification.
type Recorder interface {
	Notification(channel, status string)
}

type Config struct {
	Channel     string
	SendTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher fires alerts in the background. Sends are independent of each
// other and of the caller: none of them can fail or delay a submission.
type Dispatcher struct {
	chat     ChatSender
	mailer   Mailer
	counter  Counter
	recorder Recorder
	channel  string
	timeout  time.Duration
	log      *zap.Logger

	breakers map[string]*circuitbreaker.CircuitBreaker

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(chat ChatSender, mailer Mailer, counter Counter, recorder Recorder, cfg Config) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if chat == nil {
		chat = NopChat{}
	}
	if mailer == nil {
		mailer = NopMailer{}
	}

	breaker := func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.New(name, circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      time.Minute,
			Logger:           cfg.Logger,
		})
	}

	return &Dispatcher{
		chat:     chat,
		mailer:   mailer,
		counter:  counter,
		recorder: recorder,
		channel:  cfg.Channel,
		timeout:  cfg.SendTimeout,
		log:      cfg.Logger,
		breakers: map[string]*circuitbreaker.CircuitBreaker{
			ChannelChat:  breaker("notify-chat"),
			ChannelEmail: breaker("notify-email"),
		},
	}
}

// Dispatch evaluates the triggers, starts the matching sends and bumps the
// daily counter. It returns as soon as the sends are started.
func (d *Dispatcher) Dispatch(ctx context.Context, s Submission) Triggers {
	triggers := Evaluate(s)

	if triggers.HighValue {
		text := highValueChat(s)
		d.send(ChannelChat, s.SessionID, func(ctx context.Context) error {
			return d.chat.SendChat(ctx, ChatMessage{Channel: d.channel, Text: text})
		})

		msg := highValueEmail(s)
		d.send(ChannelEmail, s.SessionID, func(ctx context.Context) error {
			return d.mailer.SendEmail(ctx, msg)
		})
	}

	if triggers.HighInterest {
		text := highInterestChat(s)
		d.send(ChannelChat, s.SessionID, func(ctx context.Context) error {
			return d.chat.SendChat(ctx, ChatMessage{Channel: d.channel, Text: text})
		})
	}

	d.countDaily(ctx, s.SubmittedAt)

	return triggers
}

// Wait blocks until every started send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops new sends and waits for the started ones. Submissions that
// arrive afterwards are still counted; their alerts are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) countDaily(ctx context.Context, at time.Time) {
	if d.counter == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	key := DailyCounterKey(at)
	if n, ok := d.counter.Incr(ctx, key, DailyCounterTTL); ok {
		d.log.Debug("Daily submission counter incremented", zap.String("key", key), zap.Int64("count", n))
	}
}

// send runs fn on its own goroutine with a fresh deadline, so a request
// context that ends with the response cannot cut the send short.
func (d *Dispatcher) send(channel, sessionID string, fn func(ctx context.Context) error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("Notification dropped during shutdown", zap.String("channel", channel), zap.String("session_id", sessionID))
		if d.recorder != nil {
			d.recorder.Notification(channel, "dropped")
		}
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.execute(ctx, channel, fn)
		status := "sent"
		switch {
		case err == nil:
			d.log.Info("Notification sent", zap.String("channel", channel), zap.String("session_id", sessionID))
		case errors.Is(err, ErrNotConfigured):
			status = "skipped"
			d.log.Debug("Notification channel not configured", zap.String("channel", channel))
		default:
			status = "failed"
			d.log.Warn("Notification failed",
				zap.String("channel", channel),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}

		if d.recorder != nil {
			d.recorder.Notification(channel, status)
		}
	}()
}

func (d *Dispatcher) execute(ctx context.Context, channel string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification panicked: %v", r)
		}
	}()

	skipped := false
	err = d.breakers[channel].Execute(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrNotConfigured) {
			// an unconfigured channel is not a failing dependency
			skipped = true
			return nil
		}
		return err
	})
	if err == nil && skipped {
		return ErrNotConfigured
	}
	return err
}
