package aiconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static serves configs from memory. It backs local development through a YAML file
// and stands in for the remote service in tests.
type Static struct {
	mu      sync.RWMutex
	configs map[string]Config
}

// NewStatic returns a Static resolver preloaded with configs keyed by config key.
func NewStatic(configs map[string]Config) *Static {
	s := &Static{configs: make(map[string]Config, len(configs))}
	for key, cfg := range configs {
		s.Set(key, cfg)
	}
	return s
}

// staticFile is the on-disk layout read by LoadStaticFile:
//
//	configs:
//	  chat-assistant-config:
//	    _ldMeta: {enabled: true, variationKey: local}
//	    model: {name: demo-model, parameters: {temperature: 0.2}}
//	    messages:
//	      - {role: system, content: You are helpful.}
type staticFile struct {
	Configs map[string]document `yaml:"configs"`
}

// LoadStaticFile reads a YAML file of AI configs.
func LoadStaticFile(path string, logger *slog.Logger) (*Static, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ai config file %s: %w", path, err)
	}

	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ai config file %s: %w", path, err)
	}

	configs := make(map[string]Config, len(file.Configs))
	for key, doc := range file.Configs {
		configs[key] = doc.toConfig(key, logger)
	}
	return NewStatic(configs), nil
}

// Set stores or replaces the config for key.
func (s *Static) Set(key string, cfg Config) {
	cfg.Key = key
	s.mu.Lock()
	s.configs[key] = cfg
	s.mu.Unlock()
}

// Resolve implements Resolver. Every identity gets the same variation.
func (s *Static) Resolve(_ context.Context, _ Identity, key string, fallback Config) (Config, error) {
	if key == "" {
		return fallback, fmt.Errorf("%w: empty config key", ErrResolve)
	}
	s.mu.RLock()
	cfg, ok := s.configs[key]
	s.mu.RUnlock()
	if !ok {
		return fallback, fmt.Errorf("%w: %s: not found", ErrResolve, key)
	}
	cfg.Messages = append(cfg.Messages[:0:0], cfg.Messages...)
	return cfg, nil
}

// LogTelemetry writes custom metric events to a logger instead of a remote service.
type LogTelemetry struct {
	Logger *slog.Logger
}

// TrackMetric implements Telemetry.
func (t LogTelemetry) TrackMetric(event string, id Identity, value float64) error {
	t.logger().Info("custom metric", "event", event, "context_key", id.Key(), "value", value)
	return nil
}

// Flush implements Telemetry.
func (LogTelemetry) Flush() {}

func (t LogTelemetry) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
