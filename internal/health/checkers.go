package health

import (
	"context"
	"time"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
)

// StoreHealthChecker pings the settings document store.
type StoreHealthChecker struct {
	store   storage.Pinger
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	// slow marks a successful ping as degraded.
	slow time.Duration
}

// NewStoreHealthChecker checks store. A non-nil breaker is reported in details.
func NewStoreHealthChecker(store storage.Pinger, breaker *circuitbreaker.CircuitBreaker) *StoreHealthChecker {
	return &StoreHealthChecker{store: store, breaker: breaker, timeout: 5 * time.Second, slow: 250 * time.Millisecond}
}

func (s *StoreHealthChecker) Name() string           { return "storage" }
func (s *StoreHealthChecker) IsCritical() bool       { return true }
func (s *StoreHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *StoreHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "storage", Critical: true, Timestamp: start}

	err := s.store.Ping(ctx)
	result.Duration = time.Since(start)
	result.Details = map[string]any{"latency_ms": result.Duration.Milliseconds()}
	if s.breaker != nil {
		result.Details["circuit_breaker"] = s.breaker.State().String()
	}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Settings store unreachable"
	case result.Duration > s.slow:
		result.Status = StatusDegraded
		result.Message = "Settings store responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Settings store healthy"
	}
	return result
}

// CatalogSource is the part of the definitions catalog a health check needs.
type CatalogSource interface {
	IsLoading() bool
	Len() int
}

// CatalogHealthChecker reports unhealthy while definitions are still loading.
type CatalogHealthChecker struct {
	catalog CatalogSource
}

func NewCatalogHealthChecker(catalog CatalogSource) *CatalogHealthChecker {
	return &CatalogHealthChecker{catalog: catalog}
}

func (c *CatalogHealthChecker) Name() string           { return "definitions" }
func (c *CatalogHealthChecker) IsCritical() bool       { return true }
func (c *CatalogHealthChecker) Timeout() time.Duration { return time.Second }

func (c *CatalogHealthChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Component: "definitions", Critical: true, Timestamp: time.Now()}
	n := c.catalog.Len()
	result.Details = map[string]any{"definitions": n}
	switch {
	case c.catalog.IsLoading():
		result.Status = StatusUnhealthy
		result.Message = "Setting definitions still loading"
	case n == 0:
		result.Status = StatusDegraded
		result.Message = "No setting definitions registered"
	default:
		result.Status = StatusHealthy
		result.Message = "Setting definitions loaded"
	}
	return result
}

// SessionSource reports the open settings session.
type SessionSource interface {
	SessionID() string
}

// SessionHealthChecker reports unhealthy when no settings session is open.
type SessionHealthChecker struct {
	session SessionSource
}

func NewSessionHealthChecker(session SessionSource) *SessionHealthChecker {
	return &SessionHealthChecker{session: session}
}

func (s *SessionHealthChecker) Name() string           { return "session" }
func (s *SessionHealthChecker) IsCritical() bool       { return true }
func (s *SessionHealthChecker) Timeout() time.Duration { return time.Second }

func (s *SessionHealthChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Component: "session", Critical: true, Timestamp: time.Now()}
	if id := s.session.SessionID(); id != "" {
		result.Status = StatusHealthy
		result.Message = "Settings session open"
		result.Details = map[string]any{"session_id": id}
		return result
	}
	result.Status = StatusUnhealthy
	result.Message = "No settings session open"
	return result
}
