// Package aiconfigtest provides recording fakes for aiconfig interfaces.
package aiconfigtest

import (
	"sync"
	"time"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
)

// Tracker records every call it receives.
type Tracker struct {
	mu        sync.Mutex
	Durations []time.Duration
	Tokens    []aiconfig.Usage
	Successes int
	Errors    int
}

func (t *Tracker) TrackDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Durations = append(t.Durations, d)
}

func (t *Tracker) TrackTokens(u aiconfig.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Tokens = append(t.Tokens, u)
}

func (t *Tracker) TrackSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Successes++
}

func (t *Tracker) TrackError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Errors++
}

// Event is one recorded custom metric.
type Event struct {
	Name       string
	ContextKey string
	Value      float64
}

// Telemetry records custom metrics and flushes. Setting Err makes TrackMetric fail.
type Telemetry struct {
	mu      sync.Mutex
	Events  []Event
	Flushes int
	Err     error
}

func (t *Telemetry) TrackMetric(event string, id aiconfig.Identity, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.Events = append(t.Events, Event{Name: event, ContextKey: id.Key(), Value: value})
	return nil
}

func (t *Telemetry) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Flushes++
}

// Snapshot returns a copy of the recorded events and the flush count.
func (t *Telemetry) Snapshot() ([]Event, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.Events...), t.Flushes
}
