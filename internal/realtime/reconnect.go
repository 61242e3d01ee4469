package realtime

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tradepost/tradepost-messaging/internal/config"
)

// State is the client connection state. Every transition is reported through
// the OnState callback so UIs can drive a connection indicator.
type State string

const (
	StateConnecting      State = "connecting"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	StateReconnecting    State = "reconnecting"
	StatePollingFallback State = "polling-fallback"
)

// Policy is the reconnection schedule: exponential backoff from Base, scaled
// by Multiplier per attempt, capped at Max, at most MaxRetries attempts before
// the client degrades to polling at PollInterval.
type Policy struct {
	Base         time.Duration
	Multiplier   float64
	Max          time.Duration
	MaxRetries   int
	PollInterval time.Duration
}

// DefaultPolicy matches the server's advertised reconnection parameters.
func DefaultPolicy() Policy {
	return Policy{
		Base:         250 * time.Millisecond,
		Multiplier:   2.0,
		Max:          5 * time.Second,
		MaxRetries:   30,
		PollInterval: 10 * time.Second,
	}
}

// PolicyFromConfig builds the schedule from server configuration, so the
// parameters the server advertises and the ones the Go client runs agree.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Base:         cfg.BackoffBase,
		Multiplier:   cfg.BackoffMultiplier,
		Max:          cfg.BackoffMax,
		MaxRetries:   cfg.BackoffMaxRetries,
		PollInterval: cfg.PollInterval,
	}
}

// Delay is the pure attempt → backoff function: Base·Multiplier^attempt,
// capped at Max. Attempt counts from zero.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.Max) || math.IsInf(d, 1) {
		return p.Max
	}
	return time.Duration(d)
}

// Clock abstracts timer scheduling so the state machine is testable without
// real timers.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Reconnector drives the connection lifecycle:
//
//	Connecting → Connected → Disconnected → Reconnecting → Connected
//	                          └ retries exhausted → PollingFallback ┘
//
// dial establishes the push channel, calls Connected() once it is up, and
// blocks until the channel drops. poll performs one fallback poll cycle. In
// fallback the reconnector keeps opportunistically redialing between polls;
// a successful dial leaves fallback immediately.
type Reconnector struct {
	policy  Policy
	clock   Clock
	dial    func(ctx context.Context) error
	poll    func(ctx context.Context) error
	onState func(State)

	mu       sync.Mutex
	state    State
	attempts int
	kick     chan struct{} // manual "reconnect now"
}

func NewReconnector(policy Policy, dial, poll func(ctx context.Context) error, onState func(State)) *Reconnector {
	return &Reconnector{
		policy:  policy,
		clock:   realClock{},
		dial:    dial,
		poll:    poll,
		onState: onState,
		kick:    make(chan struct{}, 1),
	}
}

// WithClock substitutes the timer source. Test hook.
func (r *Reconnector) WithClock(clock Clock) *Reconnector {
	r.clock = clock
	return r
}

// State returns the current connection state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connected must be called by the dial callback once the push channel is up.
// It resets the retry budget, so a later drop starts backoff from the base
// delay again.
func (r *Reconnector) Connected() {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()
	r.transition(StateConnected)
}

// ReconnectNow cancels any pending backoff or poll wait and retries
// immediately.
func (r *Reconnector) ReconnectNow() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled or dial returns nil (clean close).
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		inFallback := r.attemptCount() > r.policy.MaxRetries
		if !inFallback {
			if r.attemptCount() == 0 {
				r.transition(StateConnecting)
			} else {
				r.transition(StateReconnecting)
			}
		}

		err := r.dial(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		// Recheck instead of reusing inFallback: a connection established
		// from fallback reset the budget, and its later drop must still be
		// reported.
		if r.attemptCount() <= r.policy.MaxRetries {
			r.transition(StateDisconnected)
		}

		attempt := r.bumpAttempts()
		if attempt > r.policy.MaxRetries {
			r.transition(StatePollingFallback)
			if pollErr := r.poll(ctx); pollErr != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if !r.wait(ctx, r.policy.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		if !r.wait(ctx, r.policy.Delay(attempt-1)) {
			return ctx.Err()
		}
	}
}

// wait blocks for d, a manual kick, or cancellation. Returns false only on
// cancellation.
func (r *Reconnector) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.kick:
		return true
	case <-r.clock.After(d):
		return true
	}
}

func (r *Reconnector) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) bumpAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return r.attempts
}

func (r *Reconnector) transition(next State) {
	r.mu.Lock()
	if r.state == next {
		r.mu.Unlock()
		return
	}
	r.state = next
	r.mu.Unlock()

	if r.onState != nil {
		r.onState(next)
	}
}
