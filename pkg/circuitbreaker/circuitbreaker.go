// Copyright 2025 Certen Protocol
//
// Package circuitbreaker implements a small closed/open/half-open
// state machine fronting a downstream destination, per REDESIGN FLAGS
// ("do not depend on a specific library surface" — none of the
// retrieval pack's example repos import a breaker library either).
package circuitbreaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned by Do when the breaker is open (Allow reports
// the same condition as false).
var ErrOpen = errors.New("circuitbreaker: open")

// Config tunes when the breaker trips and recovers.
type Config struct {
	// FailureThreshold is the error ratio (0-1) over Window requests
	// that trips the breaker to open.
	FailureThreshold float64
	// Window is the minimum number of requests observed before the
	// failure ratio is evaluated.
	Window int
	// OpenTimeout is how long the breaker stays open before allowing a
	// single half-open probe.
	OpenTimeout time.Duration
	Logger      *log.Logger
}

// DefaultConfig matches the optical-post notifier's tuning in spec §4.8:
// timeout 10s (caller's concern, not the breaker's), open at 50% error
// over >= 5 requests, half-open after 30s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		Window:           5,
		OpenTimeout:      30 * time.Second,
		Logger:           log.New(log.Writer(), "[CircuitBreaker] ", log.LstdFlags),
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state        State
	failures     int
	successes    int
	openedAt     time.Time
	halfOpenSlot bool
}

// New constructs a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once OpenTimeout has elapsed and reserving the single half-open probe
// slot so concurrent callers don't all rush through at once.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = HalfOpen
		b.halfOpenSlot = true
		return true
	case HalfOpen:
		if b.halfOpenSlot {
			b.halfOpenSlot = false
			return true
		}
		return false
	default:
		return false
	}
}

// Record reports the outcome of a call previously allowed by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		if success {
			b.reset()
			b.cfg.Logger.Printf("closed after successful half-open probe")
		} else {
			b.trip()
		}
		return
	case Open:
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.successes + b.failures
	if total < b.cfg.Window {
		return
	}
	ratio := float64(b.failures) / float64(total)
	if ratio >= b.cfg.FailureThreshold {
		b.trip()
		return
	}
	b.successes, b.failures = 0, 0
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures, b.successes = 0, 0
	b.cfg.Logger.Printf("tripped open")
}

func (b *Breaker) reset() {
	b.state = Closed
	b.failures, b.successes = 0, 0
	b.halfOpenSlot = false
}

// Do runs fn if the breaker allows it, recording the outcome. Returns
// ErrOpen without calling fn if the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	b.Record(err == nil)
	return err
}
