package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tradesafe-app/paygate/internal/pkg/metrics"
)

// Operation categories. Each category carries its own breaker so a
// degraded webhook path does not trip unrelated operations.
const (
	CategoryWebhook  = "webhook"
	CategoryPayment  = "payment"
	CategoryCritical = "critical"
	CategoryUser     = "user"
)

// Breaker states.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

// ErrCircuitOpen is returned without invoking the protected operation
// while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

const recentFailureWindow = 16

// Config tunes a single breaker category.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	Cooldown         time.Duration // open -> half-open wait
	HalfOpenMax      int           // trial calls admitted while half-open
	Timeout          time.Duration // per-operation deadline
}

// FailureRecord retains a recent failure for diagnostics.
type FailureRecord struct {
	At      time.Time
	Latency time.Duration
	Err     string
}

// Breaker is a thread-safe circuit breaker for one operation category.
// State is process-local; each instance sheds load under its own
// observed failure rate.
type Breaker struct {
	category string
	cfg      Config

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	halfOpenUsed int
	openedAt     time.Time
	lastFailure  time.Time

	calls       int64
	failedCalls int64
	avgLatency  time.Duration

	recent [recentFailureWindow]FailureRecord
	head   int
	stored int

	now func() time.Time
}

// NewBreaker creates a breaker for the given category.
func NewBreaker(category string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = cfg.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b := &Breaker{category: category, cfg: cfg, now: time.Now}
	metrics.BreakerState.WithLabelValues(category).Set(0)
	return b
}

// Execute runs op under the breaker's protection. While open it fails
// fast with ErrCircuitOpen; otherwise the op runs with the category
// timeout applied to its context.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		metrics.BreakerRejections.WithLabelValues(b.category).Inc()
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	start := b.now()
	err := op(opCtx)
	latency := b.now().Sub(start)

	b.record(err, latency)
	return err
}

// admit decides whether a call may proceed and performs the
// open -> half-open transition when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return fmt.Errorf("%w: category=%s", ErrCircuitOpen, b.category)
		}
		b.transition(StateHalfOpen)
		b.halfOpenUsed = 1
		return nil
	default: // half-open
		if b.halfOpenUsed >= b.cfg.HalfOpenMax {
			return fmt.Errorf("%w: category=%s (half-open limit)", ErrCircuitOpen, b.category)
		}
		b.halfOpenUsed++
		return nil
	}
}

func (b *Breaker) record(err error, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	// Rolling average: avg += (x - avg) / n
	b.avgLatency += (latency - b.avgLatency) / time.Duration(b.calls)

	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.failedCalls++
	b.lastFailure = b.now()
	b.recent[b.head] = FailureRecord{At: b.lastFailure, Latency: latency, Err: err.Error()}
	b.head = (b.head + 1) % recentFailureWindow
	if b.stored < recentFailureWindow {
		b.stored++
	}

	switch b.state {
	case StateHalfOpen:
		// Any failure while probing reopens immediately.
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	log.Warnf("[CircuitBreaker] %s: %s -> %s", b.category, b.state, to)
	b.state = to
	b.successes = 0
	b.halfOpenUsed = 0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		b.failures = 0
		metrics.BreakerState.WithLabelValues(b.category).Set(2)
	case StateHalfOpen:
		metrics.BreakerState.WithLabelValues(b.category).Set(1)
	case StateClosed:
		b.failures = 0
		metrics.BreakerState.WithLabelValues(b.category).Set(0)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a diagnostic snapshot of breaker metrics.
type Stats struct {
	Category    string          `json:"category"`
	State       string          `json:"state"`
	Calls       int64           `json:"calls"`
	Failures    int64           `json:"failures"`
	AvgLatency  time.Duration   `json:"avg_latency"`
	LastFailure time.Time       `json:"last_failure"`
	Recent      []FailureRecord `json:"recent_failures"`
}

// Snapshot returns current stats including the recent-failure ring.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	recent := make([]FailureRecord, 0, b.stored)
	for i := 0; i < b.stored; i++ {
		idx := (b.head - 1 - i + recentFailureWindow*2) % recentFailureWindow
		recent = append(recent, b.recent[idx])
	}
	return Stats{
		Category:    b.category,
		State:       b.state.String(),
		Calls:       b.calls,
		Failures:    b.failedCalls,
		AvgLatency:  b.avgLatency,
		LastFailure: b.lastFailure,
		Recent:      recent,
	}
}
