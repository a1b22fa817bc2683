package aiconfig

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	ld "github.com/launchdarkly/go-server-sdk/v7"
)

// Metric keys understood by the LaunchDarkly AI config monitoring views.
const (
	metricDuration     = "$ld:ai:duration:total"
	metricTokensTotal  = "$ld:ai:tokens:total"
	metricTokensInput  = "$ld:ai:tokens:input"
	metricTokensOutput = "$ld:ai:tokens:output"
	metricSuccess      = "$ld:ai:generation:success"
	metricError        = "$ld:ai:generation:error"
)

// LDClient is the subset of the LaunchDarkly server SDK client used here.
type LDClient interface {
	JSONVariation(key string, context ldcontext.Context, defaultVal ldvalue.Value) (ldvalue.Value, error)
	TrackMetric(eventName string, context ldcontext.Context, metricValue float64, data ldvalue.Value) error
	Flush()
}

var _ LDClient = (*ld.LDClient)(nil)

// Connect creates a LaunchDarkly client and waits up to wait for initialisation.
// A client that timed out is still returned together with the error; it keeps
// connecting in the background and serves fallbacks meanwhile.
func Connect(sdkKey string, wait time.Duration) (*ld.LDClient, error) {
	client, err := ld.MakeClient(sdkKey, wait)
	if err != nil && client == nil {
		return nil, fmt.Errorf("create launchdarkly client: %w", err)
	}
	return client, err
}

// LaunchDarkly resolves AI configs from JSON flag variations and reports metrics
// back as custom events.
type LaunchDarkly struct {
	client LDClient
	logger *slog.Logger
}

// NewLaunchDarkly wraps an SDK client.
func NewLaunchDarkly(client LDClient, logger *slog.Logger) *LaunchDarkly {
	if logger == nil {
		logger = slog.Default()
	}
	return &LaunchDarkly{client: client, logger: logger}
}

// Resolve implements Resolver.
func (l *LaunchDarkly) Resolve(_ context.Context, id Identity, key string, fallback Config) (Config, error) {
	if key == "" {
		return fallback, fmt.Errorf("%w: empty config key", ErrResolve)
	}
	ldCtx, err := toLDContext(id)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s: %v", ErrResolve, key, err)
	}

	value, err := l.client.JSONVariation(key, ldCtx, ldvalue.Null())
	if err != nil {
		return fallback, fmt.Errorf("%w: %s: %v", ErrResolve, key, err)
	}
	if value.IsNull() {
		return fallback, fmt.Errorf("%w: %s: empty variation", ErrResolve, key)
	}

	doc, err := decodeDocument(value.JSONString())
	if err != nil {
		return fallback, fmt.Errorf("%w: %s: %v", ErrResolve, key, err)
	}

	cfg := doc.toConfig(key, l.logger)
	cfg.Tracker = &ldTracker{
		client: l.client,
		ctx:    ldCtx,
		data: ldvalue.ObjectBuild().
			Set("configKey", ldvalue.String(key)).
			Set("variationKey", ldvalue.String(cfg.VariationKey)).
			Set("version", ldvalue.Int(cfg.Version)).
			Build(),
		logger: l.logger,
	}
	return cfg, nil
}

// TrackMetric implements Telemetry.
func (l *LaunchDarkly) TrackMetric(event string, id Identity, value float64) error {
	ldCtx, err := toLDContext(id)
	if err != nil {
		return err
	}
	return l.client.TrackMetric(event, ldCtx, value, ldvalue.Null())
}

// Flush implements Telemetry.
func (l *LaunchDarkly) Flush() {
	l.client.Flush()
}

func toLDContext(id Identity) (ldcontext.Context, error) {
	builder := ldcontext.NewBuilder(id.Key())
	for name, value := range id.Attributes() {
		builder.SetString(name, value)
	}
	ldCtx := builder.Build()
	if err := ldCtx.Err(); err != nil {
		return ldcontext.Context{}, fmt.Errorf("invalid identity %q: %w", id.Key(), err)
	}
	return ldCtx, nil
}

type ldTracker struct {
	client LDClient
	ctx    ldcontext.Context
	data   ldvalue.Value
	logger *slog.Logger
}

func (t *ldTracker) TrackDuration(d time.Duration) {
	t.track(metricDuration, float64(d.Milliseconds()))
}

func (t *ldTracker) TrackTokens(u Usage) {
	if total := u.Total(); total > 0 {
		t.track(metricTokensTotal, float64(total))
	}
	if u.InputTokens > 0 {
		t.track(metricTokensInput, float64(u.InputTokens))
	}
	if u.OutputTokens > 0 {
		t.track(metricTokensOutput, float64(u.OutputTokens))
	}
}

func (t *ldTracker) TrackSuccess() {
	t.track(metricSuccess, 1)
}

func (t *ldTracker) TrackError() {
	t.track(metricError, 1)
}

func (t *ldTracker) track(event string, value float64) {
	if err := t.client.TrackMetric(event, t.ctx, value, t.data); err != nil {
		t.logger.Debug("ai metric not tracked", "event", event, "error", err)
	}
}
