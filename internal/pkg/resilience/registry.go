package resilience

import (
	"context"
	"sync"
	"time"
)

// Registry holds one breaker per operation category.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// Default per-category tuning. Webhook paths are time-sensitive and
// trip early; critical paths tolerate more before shedding.
var defaultConfigs = map[string]Config{
	CategoryWebhook:  {FailureThreshold: 3, SuccessThreshold: 2, Cooldown: 15 * time.Second, Timeout: 5 * time.Second},
	CategoryPayment:  {FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second, Timeout: 15 * time.Second},
	CategoryCritical: {FailureThreshold: 10, SuccessThreshold: 3, Cooldown: 60 * time.Second, Timeout: 30 * time.Second},
	CategoryUser:     {FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second, Timeout: 10 * time.Second},
}

// NewRegistry creates a registry with breakers for all known categories.
func NewRegistry() *Registry {
	r := &Registry{breakers: make(map[string]*Breaker, len(defaultConfigs))}
	for category, cfg := range defaultConfigs {
		r.breakers[category] = NewBreaker(category, cfg)
	}
	return r
}

// Get returns the breaker for a category, creating a default one for
// unknown categories.
func (r *Registry) Get(category string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[category]; ok {
		return b
	}
	b := NewBreaker(category, Config{})
	r.breakers[category] = b
	return b
}

// Protect runs op under the breaker for the given category.
func (r *Registry) Protect(ctx context.Context, category string, op func(ctx context.Context) error) error {
	return r.Get(category).Execute(ctx, op)
}

// Snapshots returns diagnostic stats for every breaker.
func (r *Registry) Snapshots() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

var (
	globalRegistry *Registry
	registryOnce   sync.Once
)

// GetRegistry returns the process-wide breaker registry.
func GetRegistry() *Registry {
	registryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}
