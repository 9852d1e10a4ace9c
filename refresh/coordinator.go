// Package refresh coordinates access-token refresh so that at most one
// refresh exchange is in flight at a time.
//
// The Coordinator is a two-state machine, Idle or InFlight. The first caller
// to find it Idle starts a flight; every caller that arrives while the
// flight is running joins it and receives the identical Outcome. The flight
// is resolved exactly once: shared state is updated, events are emitted,
// then the done channel is closed and the coordinator returns to Idle in the
// same critical section, so the next 401 starts a genuinely new exchange.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coursemart/authclient/apierror"
	"github.com/coursemart/authclient/credential"
	"github.com/coursemart/authclient/events"
	"github.com/coursemart/authclient/metrics"
)

var (
	// ErrNoExchange is reported when the coordinator has no exchange function.
	ErrNoExchange = errors.New("refresh: no exchange configured")
	// ErrEmptyToken is reported when the server answered 2xx without a token.
	ErrEmptyToken = errors.New("refresh: response carried no access token")
	// ErrAbandoned is reported when every waiter left before the exchange finished.
	ErrAbandoned = errors.New("refresh: abandoned by all waiters")
	// ErrSuperseded is reported when a denial arrives after the credential
	// it was started for has been replaced or cleared.
	ErrSuperseded = errors.New("refresh: denial for a superseded credential")
)

// Kind is the three-way result of a refresh attempt.
type Kind int

const (
	// Indeterminate means the refresh failed without a verdict (network
	// error, 5xx, bad body). The existing session must be preserved.
	Indeterminate Kind = iota
	// Granted means a new access token was issued.
	Granted
	// Denied means the server rejected the refresh credential.
	Denied
)

func (k Kind) String() string {
	switch k {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "indeterminate"
	}
}

// Outcome is shared by every caller that observed the same flight.
type Outcome struct {
	Kind  Kind
	Token string
	Err   error
}

// ExchangeFunc performs the refresh network call and returns the new access
// token. A 401 must be reported as an error carrying that status (see
// apierror.StatusOf).
type ExchangeFunc func(ctx context.Context) (string, error)

type flight struct {
	done       chan struct{}
	outcome    Outcome
	waiters    int
	abandoned  bool
	generation uint64
	cancel     context.CancelFunc
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	state    *credential.State
	exchange ExchangeFunc
	bus      *events.Bus
	metrics  *metrics.Collector
	logger   *slog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	inflight *flight
	flights  uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBus sets the bus on which refresh and forced-logout events are emitted.
func WithBus(bus *events.Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// WithMetrics sets the collector that counts refresh outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTimeout bounds a single exchange. Zero leaves timeouts to the transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// NewCoordinator returns an Idle coordinator.
func NewCoordinator(state *credential.State, exchange ExchangeFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		state:    state,
		exchange: exchange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "refresh")
	return c
}

// Refresh starts or joins the current flight and waits for its outcome.
//
// If ctx ends first the caller gets Indeterminate with the context error;
// the exchange keeps running for the remaining waiters. When the last
// waiter leaves, the exchange is cancelled and its result is discarded.
//
// Refresh must not be called from an events handler subscribed to this
// coordinator's bus.
func (c *Coordinator) Refresh(ctx context.Context) Outcome {
	if c.exchange == nil {
		return Outcome{Kind: Indeterminate, Err: ErrNoExchange}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Kind: Indeterminate, Err: err}
	}

	c.mu.Lock()
	f := c.inflight
	var flightCtx context.Context
	if f == nil || f.abandoned {
		// An abandoned flight is already cancelled; joining it would hand
		// this caller someone else's cancellation.
		flightCtx, f = c.startLocked(ctx)
	}
	f.waiters++
	c.mu.Unlock()

	if flightCtx != nil {
		c.bus.Emit(events.RefreshStarted)
		go c.run(flightCtx, f)
	}

	select {
	case <-f.done:
		return f.outcome
	case <-ctx.Done():
		c.mu.Lock()
		f.waiters--
		abandoned := f.waiters == 0 && c.inflight == f
		if abandoned {
			f.abandoned = true
		}
		c.mu.Unlock()
		if abandoned {
			f.cancel()
		}
		return Outcome{Kind: Indeterminate, Err: ctx.Err()}
	}
}

func (c *Coordinator) startLocked(ctx context.Context) (context.Context, *flight) {
	// The exchange belongs to the flight, not to the caller that happened
	// to start it.
	base := context.WithoutCancel(ctx)
	var (
		flightCtx context.Context
		cancel    context.CancelFunc
	)
	if c.timeout > 0 {
		flightCtx, cancel = context.WithTimeout(base, c.timeout)
	} else {
		flightCtx, cancel = context.WithCancel(base)
	}
	f := &flight{done: make(chan struct{}), cancel: cancel, generation: c.state.Generation()}
	c.inflight = f
	c.flights++
	return flightCtx, f
}

func (c *Coordinator) run(ctx context.Context, f *flight) {
	defer f.cancel()

	token, err := c.exchange(ctx)
	outcome := outcomeOf(token, err)

	c.mu.Lock()
	switch {
	case f.abandoned:
		outcome = Outcome{Kind: Indeterminate, Err: ErrAbandoned}
	case outcome.Kind == Granted:
		c.state.Set(outcome.Token)
	case outcome.Kind == Denied:
		// A login or logout since the flight started owns the credential now.
		if !c.state.ClearIf(f.generation) {
			outcome = Outcome{Kind: Indeterminate, Err: fmt.Errorf("%w: %w", apierror.ErrRefreshIndeterminate, ErrSuperseded)}
		}
	}
	c.mu.Unlock()

	c.metrics.RecordRefresh(outcome.Kind.String())
	switch outcome.Kind {
	case Granted:
		c.logger.Debug("refresh granted")
		c.bus.Emit(events.RefreshGranted)
	case Denied:
		c.logger.Info("refresh denied, forcing logout")
		c.bus.Emit(events.RefreshDenied)
		c.bus.Emit(events.ForcedLogout)
	default:
		c.logger.Debug("refresh indeterminate", "error", outcome.Err)
		c.bus.Emit(events.RefreshIndeterminate)
	}

	// Waiters that joined during emission still see this outcome.
	c.mu.Lock()
	f.outcome = outcome
	if c.inflight == f {
		c.inflight = nil
	}
	close(f.done)
	c.mu.Unlock()
}

func outcomeOf(token string, err error) Outcome {
	if err != nil {
		if apierror.StatusOf(err) == http.StatusUnauthorized {
			return Outcome{Kind: Denied, Err: fmt.Errorf("%w: %w", apierror.ErrRefreshDenied, err)}
		}
		return Outcome{Kind: Indeterminate, Err: fmt.Errorf("%w: %w", apierror.ErrRefreshIndeterminate, err)}
	}
	if token == "" {
		return Outcome{Kind: Indeterminate, Err: fmt.Errorf("%w: %w", apierror.ErrRefreshIndeterminate, ErrEmptyToken)}
	}
	return Outcome{Kind: Granted, Token: token}
}

// InFlight reports whether a flight is currently running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Flights returns how many exchanges have been started.
func (c *Coordinator) Flights() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flights
}
