package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// State represents the breaker state
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
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shannon_settings_store_breaker_state",
			Help: "Current state of the storage circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shannon_settings_store_breaker_requests_total",
			Help: "Total number of storage calls seen by the circuit breaker",
		},
		[]string{"name", "result"},
	)
)

// Config holds breaker tuning
type Config struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`      // trial requests allowed while half-open
	Interval         time.Duration `mapstructure:"interval"`          // closed-state counter reset period
	Timeout          time.Duration `mapstructure:"timeout"`           // open duration before going half-open
	FailureThreshold uint32        `mapstructure:"failure_threshold"` // consecutive failures to open
	SuccessThreshold uint32        `mapstructure:"success_threshold"` // consecutive half-open successes to close
	OnStateChange    func(name string, from State, to State) `mapstructure:"-"`
}

// DefaultConfig returns defaults suited to a settings document store
func DefaultConfig() Config {
	return Config{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}
}

// Counts holds breaker statistics for the current generation
type Counts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker stops calling a failing backend until it has had time to recover
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	now        func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
	cb.resetGeneration(cb.now())
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Execute runs fn unless the breaker rejects the call. A cancelled context
// is returned without calling fn and without counting as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	generation, err := cb.admit()
	if err != nil {
		breakerRequests.WithLabelValues(cb.name, "rejected").Inc()
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(generation, false)
			panic(r)
		}
	}()

	err = fn()
	cb.record(generation, err == nil)
	if err != nil {
		breakerRequests.WithLabelValues(cb.name, "failure").Inc()
	} else {
		breakerRequests.WithLabelValues(cb.name, "success").Inc()
	}
	return err
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, advancing open to half-open once the timeout elapsed
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.current(cb.now())
	return state
}

// Counts returns the counts of the current generation
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, generation := cb.current(cb.now())
	switch {
	case state == StateOpen:
		return generation, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return generation, ErrTooManyRequests
	}
	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) record(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state, current := cb.current(now)
	if current != generation {
		return
	}

	if success {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
		return
	}

	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
		cb.transition(StateOpen, now)
	}
}

func (cb *CircuitBreaker) current(now time.Time) (State, uint64) {
	if !cb.expiry.IsZero() && cb.expiry.Before(now) {
		switch cb.state {
		case StateClosed:
			cb.resetGeneration(now)
		case StateOpen:
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.resetGeneration(now)

	breakerState.WithLabelValues(cb.name).Set(float64(to))
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	cb.logger.Warn("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) resetGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}
	switch cb.state {
	case StateClosed:
		if cb.config.Interval > 0 {
			cb.expiry = now.Add(cb.config.Interval)
		} else {
			cb.expiry = time.Time{}
		}
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	default:
		cb.expiry = time.Time{}
	}
}
