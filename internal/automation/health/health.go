// Package health provides engine health reporting over HTTP and gRPC.
package health

// SystemStatus represents the overall health state of the engine.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// EngineHealth is the detailed health report.
type EngineHealth struct {
	Status        SystemStatus `json:"status"`
	Running       bool         `json:"running"`
	Halted        string       `json:"halted,omitempty"`
	ChainHead     uint64       `json:"chain_head"`
	ChainError    string       `json:"chain_error,omitempty"`
	DatabaseError string       `json:"database_error,omitempty"`
	ActiveRules   int          `json:"active_rules"`
	Watchers      int          `json:"watchers"`
}
