package aiconfigtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
)

// ErrUnavailable is wrapped into the error of every failing resolution.
var ErrUnavailable = errors.New("config service unavailable")

// Resolver wraps Static and counts calls per key. Keys listed in Fail fail.
type Resolver struct {
	*aiconfig.Static
	mu    sync.Mutex
	calls map[string]int
	Fail  map[string]bool
	// Delay is applied before each resolution, to widen race windows in tests.
	Delay time.Duration
}

// NewResolver returns a counting resolver over configs.
func NewResolver(configs map[string]aiconfig.Config) *Resolver {
	return &Resolver{Static: aiconfig.NewStatic(configs), calls: map[string]int{}, Fail: map[string]bool{}}
}

// Resolve implements aiconfig.Resolver.
func (r *Resolver) Resolve(ctx context.Context, id aiconfig.Identity, key string, fallback aiconfig.Config) (aiconfig.Config, error) {
	r.mu.Lock()
	r.calls[key]++
	fail := r.Fail[key]
	delay := r.Delay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return fallback, fmt.Errorf("%w: %s: %v", aiconfig.ErrResolve, key, ErrUnavailable)
	}
	return r.Static.Resolve(ctx, id, key, fallback)
}

// Calls returns how many times key was resolved.
func (r *Resolver) Calls(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}
