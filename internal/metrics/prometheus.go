package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	SubmissionSuccess   = "success"
	SubmissionDuplicate = "duplicate"
	SubmissionError     = "error"

	UnknownQuestion = "unknown"
)

// Registry owns every collector of the process. It is built once in main and
// handed to the components that record into it.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	Submissions   *prometheus.CounterVec
	Interactions  *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_submissions_total",
				Help: "Poll submissions by outcome",
			},
			[]string{"status"},
		),

		Interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_interactions_total",
				Help: "Recorded poll interactions by type and question",
			},
			[]string{"type", "question"},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_notifications_total",
				Help: "Outbound notifications by channel and outcome",
			},
			[]string{"channel", "status"},
		),

		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_cache_requests_total",
				Help: "Aggregate cache reads by key family and result",
			},
			[]string{"key", "result"},
		),
	}

	r.reg.MustRegister(
		r.HTTPRequests,
		r.HTTPDuration,
		r.Submissions,
		r.Interactions,
		r.Notifications,
		r.CacheRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Submission(status string) {
	r.Submissions.WithLabelValues(status).Inc()
}

func (r *Registry) Interaction(eventType, question string) {
	if question == "" {
		question = UnknownQuestion
	}
	r.Interactions.WithLabelValues(eventType, question).Inc()
}

func (r *Registry) Notification(channel, status string) {
	r.Notifications.WithLabelValues(channel, status).Inc()
}

// ObserveCache implements cache.Observer.
func (r *Registry) ObserveCache(key, result string) {
	r.CacheRequests.WithLabelValues(key, result).Inc()
}

// Middleware records request count and latency per matched route.
func (r *Registry) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		route := c.Route().Path
		method := c.Method()
		r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		r.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

		return err
	}
}

// Handler serves the text exposition. A gathering error is logged and turned
// into a 500 for that request only.
func (r *Registry) Handler(log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(log.Named("metrics"), zap.ErrorLevel)

	return adaptor.HTTPHandler(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorLog:      errLog,
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
