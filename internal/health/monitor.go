package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

// Pinger checks one dependency's reachability.
type Pinger interface {
	Health(ctx context.Context) error
}

// CircuitStats exposes the circuit breaker registry to the monitor.
type CircuitStats interface {
	Snapshot() map[string]domain.CircuitSnapshot
}

// Backlogger reports how many error reports wait in the local spool.
type Backlogger interface {
	Backlog() int
}

// Sweeper reports when the retention janitor last completed a pass.
type Sweeper interface {
	LastSweep() time.Time
}

// Monitor aggregates health status from the system's components: the
// durable store, the optional redis session store, the circuit breakers,
// the report spool, and the retention janitor. Nil dependencies are
// reported as such, not treated as failures.
type Monitor struct {
	db       Pinger
	redis    Pinger
	circuits CircuitStats
	spool    Backlogger
	sweeper  Sweeper

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
	now        func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock overrides the monitor's clock.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithSweeper adds the retention janitor to the monitored components.
func WithSweeper(s Sweeper) MonitorOption {
	return func(m *Monitor) { m.sweeper = s }
}

// NewMonitor creates a health monitor. db and redis may be nil when the
// deployment runs without them.
func NewMonitor(
	db Pinger,
	redis Pinger,
	circuits CircuitStats,
	spool Backlogger,
	opts ...MonitorOption,
) *Monitor {
	m := &Monitor{
		db:       db,
		redis:    redis,
		circuits: circuits,
		spool:    spool,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckHealth checks every component and aggregates a report. Checks are
// rate limited to once per 10s; callers inside the window get the cached
// report.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.now().Sub(m.lastCheck) < 10*time.Second && len(m.lastReport.Components) > 0 {
		return m.lastReport
	}

	components := make(map[string]ComponentHealth)

	dbHealth := ComponentHealth{Name: "database", Status: StatusHealthy}
	if m.db == nil {
		dbHealth.Detail = "in-memory store"
	} else if err := m.db.Health(ctx); err != nil {
		// Reports and checkpoints cannot be persisted without the store.
		dbHealth.Status = StatusCritical
		dbHealth.Detail = err.Error()
	}
	components["database"] = dbHealth

	if m.redis != nil {
		redisHealth := ComponentHealth{Name: "redis", Status: StatusHealthy}
		if err := m.redis.Health(ctx); err != nil {
			redisHealth.Status = StatusDegraded
			redisHealth.Detail = err.Error()
		}
		components["redis"] = redisHealth
	}

	if m.circuits != nil {
		open := 0
		for _, snap := range m.circuits.Snapshot() {
			if snap.State != domain.CircuitClosed {
				open++
			}
		}
		circuitHealth := ComponentHealth{Name: "circuits", Status: StatusHealthy}
		if open > 0 {
			circuitHealth.Status = StatusDegraded
			circuitHealth.Detail = fmt.Sprintf("%d circuits not closed", open)
		}
		components["circuits"] = circuitHealth
	}

	if m.spool != nil {
		spoolHealth := ComponentHealth{Name: "spool", Status: StatusHealthy}
		if backlog := m.spool.Backlog(); backlog > 0 {
			spoolHealth.Status = StatusDegraded
			spoolHealth.Detail = fmt.Sprintf("%d reports waiting for the store", backlog)
		}
		components["spool"] = spoolHealth
	}

	if m.sweeper != nil {
		// The janitor's interval never exceeds an hour; a pass older than
		// two means the loop stalled.
		gcHealth := ComponentHealth{Name: "janitor", Status: StatusHealthy}
		if last := m.sweeper.LastSweep(); last.IsZero() {
			gcHealth.Detail = "no sweep yet"
		} else if age := m.now().Sub(last); age > 2*time.Hour {
			gcHealth.Status = StatusDegraded
			gcHealth.Detail = fmt.Sprintf("last sweep %s ago", age.Round(time.Second))
		}
		components["janitor"] = gcHealth
	}

	report := Report{
		Status:     aggregate(components),
		Components: components,
		CheckedAt:  m.now(),
	}

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}

// Start runs periodic health checks until the context is cancelled, keeping
// the cached report warm for the HTTP handlers.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}

// aggregate picks the worst component status.
func aggregate(components map[string]ComponentHealth) SystemStatus {
	status := StatusHealthy
	for _, c := range components {
		if c.Status == StatusCritical {
			return StatusCritical
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
