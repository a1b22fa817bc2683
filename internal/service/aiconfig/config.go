package aiconfig

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
)

// ErrResolve is wrapped by every error returned from a Resolver.
var ErrResolve = errors.New("ai config resolution failed")

// UnknownModel is reported when a config carries no model.
const UnknownModel = "Unknown"

// ModelConfig names the model to call and the extra request parameters to send.
type ModelConfig struct {
	Name       string         `json:"name" yaml:"name"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Config is one resolved AI config variation.
type Config struct {
	Key          string
	Enabled      bool
	Model        *ModelConfig
	Messages     []chat.Message
	Tracker      Tracker
	VariationKey string
	Version      int
}

// Disabled returns the fallback used when nothing could be resolved.
func Disabled() Config {
	return Config{Enabled: false}
}

// ModelName returns the configured model name or UnknownModel.
func (c Config) ModelName() string {
	if c.Model == nil || c.Model.Name == "" {
		return UnknownModel
	}
	return c.Model.Name
}

// Usable reports whether the config can drive an inference call.
func (c Config) Usable() bool {
	return c.Enabled && c.Model != nil && c.Model.Name != ""
}

// TrackerOrNop never returns nil.
func (c Config) TrackerOrNop() Tracker {
	if c.Tracker == nil {
		return NopTracker{}
	}
	return c.Tracker
}

// Usage counts the tokens of one model call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Total returns input+output, or TotalTokens when the provider only reported that.
func (u Usage) Total() int {
	if sum := u.InputTokens + u.OutputTokens; sum > 0 {
		return sum
	}
	return u.TotalTokens
}

// Tracker receives the metrics of calls made with one resolved config.
type Tracker interface {
	TrackDuration(d time.Duration)
	TrackTokens(u Usage)
	TrackSuccess()
	TrackError()
}

// NopTracker discards everything.
type NopTracker struct{}

func (NopTracker) TrackDuration(time.Duration) {}
func (NopTracker) TrackTokens(Usage)           {}
func (NopTracker) TrackSuccess()               {}
func (NopTracker) TrackError()                 {}

// Telemetry emits custom metric events attributed to an identity.
type Telemetry interface {
	TrackMetric(event string, id Identity, value float64) error
	Flush()
}

// Resolver fetches the config variation of key for id.
//
// Resolve makes a single attempt. When it fails it returns fallback together with an
// error wrapping ErrResolve, so the returned Config is always usable as a value.
type Resolver interface {
	Resolve(ctx context.Context, id Identity, key string, fallback Config) (Config, error)
}
