package failover

import (
	"log/slog"
	"sync"
	"time"
)

// breakerState represents the operating mode of a failure memory.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breakerConfig holds tuning knobs for a remote endpoint's failure memory.
type breakerConfig struct {
	// maxFailures is the number of consecutive failures before the memory
	// opens and the endpoint is skipped. Default: 3.
	maxFailures int

	// resetTimeout is how long the memory stays open before allowing a probe.
	// Default: 30s.
	resetTimeout time.Duration
}

// breaker is the standing failure memory attached to remote endpoints. It is
// an optimization, never a correctness requirement: an open breaker makes the
// executor skip an endpoint that failed repeatedly moments ago, and a probe is
// allowed again after resetTimeout. Local endpoints never get one — a local
// service may simply not have finished starting, so it is retried every call.
//
// Safe for concurrent use across overlapping conversations.
type breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu              sync.Mutex
	state           breakerState
	consecutiveFail int
	lastFailure     time.Time
	probing         bool
}

func newBreaker(name string, cfg breakerConfig) *breaker {
	if cfg.maxFailures <= 0 {
		cfg.maxFailures = 3
	}
	if cfg.resetTimeout <= 0 {
		cfg.resetTimeout = 30 * time.Second
	}
	return &breaker{
		name:         name,
		maxFailures:  cfg.maxFailures,
		resetTimeout: cfg.resetTimeout,
	}
}

// allow reports whether an attempt against the endpoint should be made now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.state = stateHalfOpen
			b.probing = true
			slog.Debug("endpoint failure memory half-open, probing", "endpoint", b.name)
			return true
		}
		return false
	case stateHalfOpen:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// recordSuccess closes the memory.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateClosed {
		slog.Info("endpoint recovered", "endpoint", b.name)
	}
	b.state = stateClosed
	b.consecutiveFail = 0
	b.probing = false
}

// recordFailure opens the memory after maxFailures consecutive failures, or
// immediately when a half-open probe fails.
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	b.probing = false

	if b.state == stateHalfOpen {
		b.state = stateOpen
		slog.Warn("endpoint failure memory re-opened from probe", "endpoint", b.name)
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures && b.state == stateClosed {
		b.state = stateOpen
		slog.Warn("endpoint failure memory opened",
			"endpoint", b.name,
			"consecutive_failures", b.consecutiveFail)
	}
}
