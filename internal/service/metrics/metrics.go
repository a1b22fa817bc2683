// Package metrics exposes Prometheus views of AI config resolution, model calls and
// custom events. It decorates the aiconfig interfaces so every call still reaches
// the feature-management service.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/judge"
)

const namespace = "aichat"

// Metrics owns a dedicated registry and the collectors registered on it.
type Metrics struct {
	registry    *prometheus.Registry
	duration    *prometheus.HistogramVec
	calls       *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	events      *prometheus.CounterVec
	accuracy    prometheus.Histogram
}

// New creates the collectors and registers them, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Wall-clock duration of model calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"config_key", "model"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_calls_total",
			Help:      "Model calls by outcome.",
		}, []string{"config_key", "model", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_tokens_total",
			Help:      "Tokens consumed by model calls.",
		}, []string{"config_key", "model", "kind"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_resolutions_total",
			Help:      "AI config resolutions by result.",
		}, []string{"config_key", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "custom_events_total",
			Help:      "Custom metric events sent to the feature-management service.",
		}, []string{"event"}),
		accuracy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_accuracy",
			Help:      "Accuracy scores reported by the judge.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.duration, m.calls, m.tokens, m.resolutions, m.events, m.accuracy,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WrapResolver counts resolutions and decorates the tracker of every resolved config.
func (m *Metrics) WrapResolver(next aiconfig.Resolver) aiconfig.Resolver {
	return &resolver{next: next, m: m}
}

// WrapTelemetry counts custom events and records accuracy scores.
func (m *Metrics) WrapTelemetry(next aiconfig.Telemetry) aiconfig.Telemetry {
	return &telemetry{next: next, m: m}
}

type resolver struct {
	next aiconfig.Resolver
	m    *Metrics
}

func (r *resolver) Resolve(ctx context.Context, id aiconfig.Identity, key string, fallback aiconfig.Config) (aiconfig.Config, error) {
	cfg, err := r.next.Resolve(ctx, id, key, fallback)
	result := "enabled"
	switch {
	case err != nil:
		result = "error"
	case !cfg.Enabled:
		result = "disabled"
	}
	r.m.resolutions.WithLabelValues(key, result).Inc()

	cfg.Tracker = &tracker{
		next:  cfg.TrackerOrNop(),
		m:     r.m,
		key:   key,
		model: cfg.ModelName(),
	}
	return cfg, err
}

type tracker struct {
	next  aiconfig.Tracker
	m     *Metrics
	key   string
	model string
}

func (t *tracker) TrackDuration(d time.Duration) {
	t.m.duration.WithLabelValues(t.key, t.model).Observe(d.Seconds())
	t.next.TrackDuration(d)
}

func (t *tracker) TrackTokens(u aiconfig.Usage) {
	t.m.tokens.WithLabelValues(t.key, t.model, "input").Add(float64(u.InputTokens))
	t.m.tokens.WithLabelValues(t.key, t.model, "output").Add(float64(u.OutputTokens))
	t.next.TrackTokens(u)
}

func (t *tracker) TrackSuccess() {
	t.m.calls.WithLabelValues(t.key, t.model, "success").Inc()
	t.next.TrackSuccess()
}

func (t *tracker) TrackError() {
	t.m.calls.WithLabelValues(t.key, t.model, "error").Inc()
	t.next.TrackError()
}

type telemetry struct {
	next aiconfig.Telemetry
	m    *Metrics
}

func (t *telemetry) TrackMetric(event string, id aiconfig.Identity, value float64) error {
	t.m.events.WithLabelValues(event).Inc()
	if event == judge.AccuracyEvent {
		t.m.accuracy.Observe(value)
	}
	return t.next.TrackMetric(event, id, value)
}

func (t *telemetry) Flush() {
	t.next.Flush()
}
