package health

import (
	"context"
	"sync"
	"time"
)

// HeadFetcher reads the chain head.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// EngineStatus exposes the supervisor state.
type EngineStatus interface {
	Running() bool
	Err() error
	ActiveRules() int
	Watchers() int
}

// DBChecker pings the journal database.
type DBChecker interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the engine and the node.
type Monitor struct {
	engine   EngineStatus
	head     HeadFetcher
	db       DBChecker
	cacheTTL time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *EngineHealth
}

// NewMonitor creates a new health monitor. Reports are cached for cacheTTL
// to avoid spamming the node.
func NewMonitor(engine EngineStatus, head HeadFetcher, cacheTTL time.Duration) *Monitor {
	return &Monitor{engine: engine, head: head, cacheTTL: cacheTTL}
}

// WithDatabase adds the journal database to the report.
func (m *Monitor) WithDatabase(db DBChecker) *Monitor {
	m.db = db
	return m
}

// CheckHealth builds a health report.
func (m *Monitor) CheckHealth(ctx context.Context) EngineHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := EngineHealth{
		Status:      StatusHealthy,
		Running:     m.engine.Running(),
		ActiveRules: m.engine.ActiveRules(),
		Watchers:    m.engine.Watchers(),
	}
	if err := m.engine.Err(); err != nil {
		report.Halted = err.Error()
	}

	head, err := m.head.LatestBlock(ctx)
	if err != nil {
		report.ChainError = err.Error()
	} else {
		report.ChainHead = head
	}

	if m.db != nil {
		if err := m.db.Health(ctx); err != nil {
			report.DatabaseError = err.Error()
		}
	}

	switch {
	case !report.Running || report.Halted != "":
		report.Status = StatusCritical
	case report.ChainError != "" || report.DatabaseError != "":
		report.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}
