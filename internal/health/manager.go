package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand.
type Manager struct {
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		logger:      logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker

	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// UnregisterChecker removes a health check
func (m *Manager) UnregisterChecker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkers[name]; !exists {
		return fmt.Errorf("checker %s not found", name)
	}
	delete(m.checkers, name)
	delete(m.lastResults, name)
	return nil
}

// CheckerNames returns registered checker names in order.
func (m *Manager) CheckerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDetailedHealth runs every checker concurrently, each bounded by its own timeout.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	components := make(map[string]CheckResult, len(results))
	summary := HealthSummary{Total: len(results)}
	for i, r := range results {
		components[checkers[i].Name()] = r
		switch r.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
		}
		if r.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}

	m.mu.Lock()
	for name, r := range components {
		m.lastResults[name] = r
	}
	m.mu.Unlock()

	overall := calculateOverallStatus(components, summary)
	overall.Timestamp = start
	overall.Duration = time.Since(start)
	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  start,
	}
}

func (m *Manager) runCheck(ctx context.Context, c Checker) (result CheckResult) {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Health checker panicked", zap.String("checker", c.Name()), zap.Any("panic", r))
			result = CheckResult{
				Status:    StatusUnhealthy,
				Error:     fmt.Sprint(r),
				Message:   "checker panicked",
				Component: c.Name(),
				Critical:  c.IsCritical(),
				Timestamp: time.Now(),
			}
		}
	}()

	result = c.Check(ctx)
	if result.Component == "" {
		result.Component = c.Name()
	}
	result.Critical = c.IsCritical()
	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("checker", c.Name()),
			zap.String("status", result.Status.String()),
			zap.String("message", result.Message),
		)
	}
	return result
}

// GetLastResults returns the results of the most recent run.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.lastResults))
	for k, v := range m.lastResults {
		out[k] = v
	}
	return out
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	return m.GetDetailedHealth(ctx).Overall
}

// IsReady returns true when no critical checker is unhealthy.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive reports process liveness; a running manager is always live.
func (m *Manager) IsLive(ctx context.Context) bool {
	return true
}

func calculateOverallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{
			Status:  StatusUnknown,
			Message: "No health checks registered",
			Ready:   true,
			Live:    true,
		}
	}

	criticalFailures, nonCriticalFailures := 0, 0
	for _, r := range components {
		if r.Status == StatusUnhealthy {
			if r.Critical {
				criticalFailures++
			} else {
				nonCriticalFailures++
			}
		}
	}

	overall := OverallHealth{Live: true, Ready: true}
	switch {
	case criticalFailures > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		overall.Ready = false
	case summary.Degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded", summary.Degraded)
	case nonCriticalFailures > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures)
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("All %d components healthy", summary.Total)
	}
	overall.Degraded = overall.Status == StatusDegraded
	return overall
}
