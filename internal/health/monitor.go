package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/model"
	"platewatch/internal/repository"
)

// Summary is the latest aggregated view of the node.
type Summary struct {
	Overall     model.OverallStatus       `json:"overall"`
	Checks      []model.HealthCheckResult `json:"checks"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Monitor runs the configured checks on a fixed cadence, appends every
// result to the health log and keeps the latest summary in memory for
// the status surface.
type Monitor struct {
	checks   []Checker
	repo     repository.HealthRepository
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	latest  Summary
}

// NewMonitor builds a monitor over a fixed check set.
func NewMonitor(checks []Checker, repo repository.HealthRepository, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		checks:   checks,
		repo:     repo,
		interval: interval,
		log:      log,
	}
}

// Start launches the monitoring loop. Idempotent while running. The
// first evaluation happens immediately so Summary is populated without
// waiting a full interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(runCtx, m.done)
	m.log.Info().Dur("interval", m.interval).Msg("health monitoring started")
}

// Stop halts the loop and waits for the in-flight evaluation.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	running := m.running
	m.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-done
	m.log.Info().Msg("health monitoring stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate runs every check once, logs the results and refreshes the
// summary. Safe to call outside the loop (on demand from the facade).
func (m *Monitor) Evaluate() Summary {
	now := time.Now().UTC()
	results := make([]model.HealthCheckResult, 0, len(m.checks))

	for _, c := range m.checks {
		res := m.runCheck(c)
		res.Timestamp = now
		results = append(results, res)

		if _, err := m.repo.Insert(&res); err != nil {
			m.log.Error().Err(err).Str("component", res.Component).
				Msg("failed to append health check result")
		}
		if res.Status != model.StatusPass {
			m.log.Warn().Str("component", res.Component).
				Str("status", string(res.Status)).Msg(res.Message)
		}
	}

	summary := Summary{
		Overall:     Aggregate(results),
		Checks:      results,
		GeneratedAt: now,
	}

	m.mu.Lock()
	m.latest = summary
	m.mu.Unlock()
	return summary
}

// runCheck shields the loop from a panicking probe; a panic is reported
// as a failing result for that component.
func (m *Monitor) runCheck(c Checker) (res model.HealthCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.HealthCheckResult{
				Component: c.Component(),
				Status:    model.StatusFail,
				Message:   fmt.Sprintf("health check panicked: %v", r),
			}
		}
	}()
	return c.Run()
}

// Summary returns the latest evaluation. Before the first run the
// overall status is "error" with no checks.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.latest.GeneratedAt.IsZero() {
		return Summary{Overall: model.OverallError, GeneratedAt: time.Now().UTC()}
	}

	out := m.latest
	out.Checks = make([]model.HealthCheckResult, len(m.latest.Checks))
	copy(out.Checks, m.latest.Checks)
	return out
}
