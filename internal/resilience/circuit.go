package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is a breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Counts tallies outcomes since the breaker closed or its interval last rolled over.
type Counts struct {
	Requests            uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

func (c Counts) failureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests)
}

// BreakerSettings configures a Breaker. Zero values mean one request, a 50% failure
// ratio and a 30 second cool-off.
type BreakerSettings struct {
	// Name labels the guarded upstream in metrics and logs.
	Name         string
	MinRequests  uint32
	FailureRatio float64
	OpenFor      time.Duration
	// Interval clears closed-state counts periodically. Zero keeps them until the breaker trips.
	Interval      time.Duration
	OnStateChange func(name string, from, to State)
}

// Breaker trips once FailureRatio of at least MinRequests outcomes failed. After
// OpenFor it lets one probe through; the probe's outcome closes or reopens it.
type Breaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	state    State
	counts   Counts
	// expiry ends the open cool-off, or the closed interval when one is set.
	expiry  time.Time
	probing bool
	now     func() time.Time
}

func NewBreaker(s BreakerSettings) *Breaker {
	if s.Name == "" {
		s.Name = "default"
	}
	if s.MinRequests == 0 {
		s.MinRequests = 1
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		s.FailureRatio = 0.5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	b := &Breaker{settings: s, now: time.Now}
	b.rollInterval(b.now())
	observeState(s.Name, Closed)
	return b
}

// Name returns the label the breaker reports under.
func (b *Breaker) Name() string { return b.settings.Name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the closed-state tallies.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow reports whether a request may proceed. A nil breaker allows everything.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case Open:
		if now.Before(b.expiry) {
			return false
		}
		b.setState(ctx, HalfOpen, now)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		if !b.expiry.IsZero() && !now.Before(b.expiry) {
			b.counts = Counts{}
			b.rollInterval(now)
		}
		return true
	}
}

// Report records the outcome of a request Allow let through.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case Open:
	case HalfOpen:
		b.probing = false
		if success {
			b.setState(ctx, Closed, now)
		} else {
			b.setState(ctx, Open, now)
		}
	default:
		b.counts.Requests++
		if success {
			b.counts.ConsecutiveFailures = 0
			return
		}
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		if b.counts.Requests >= b.settings.MinRequests && b.counts.failureRatio() >= b.settings.FailureRatio {
			b.setState(ctx, Open, now)
		}
	}
}

func (b *Breaker) rollInterval(now time.Time) {
	if b.settings.Interval > 0 {
		b.expiry = now.Add(b.settings.Interval)
	} else {
		b.expiry = time.Time{}
	}
}

func (b *Breaker) setState(ctx context.Context, next State, now time.Time) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.counts = Counts{}
	switch next {
	case Open:
		b.expiry = now.Add(b.settings.OpenFor)
	case Closed:
		b.rollInterval(now)
	case HalfOpen:
		b.expiry = time.Time{}
	}

	observeTransition(b.settings.Name, prev, next)
	zerolog.Ctx(ctx).Info().
		Str("target", b.settings.Name).
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Msg("breaker_transition")
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, prev, next)
	}
}
