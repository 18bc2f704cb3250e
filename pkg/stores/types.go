package stores

import (
	"context"
	"database/sql"
	"time"
)

// BuildStatus represents the status of a build
type BuildStatus string

const (
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Build is one invocation of the callable builder.
type Build struct {
	ID             string      `json:"id"`
	DatabasePath   string      `json:"database_path"`
	DatabaseDigest string      `json:"database_digest"`
	Output         string      `json:"output"`
	Components     string      `json:"components"` // JSON array
	Phases         string      `json:"phases"`     // JSON array
	Conditions     string      `json:"conditions"` // JSON object
	Parameters     string      `json:"parameters"` // JSON object
	Gradients      bool        `json:"gradients"`
	Status         BuildStatus `json:"status"`
	ErrorCode      *string     `json:"error_code,omitempty"`
	Error          *string     `json:"error,omitempty"`
	Compiled       int         `json:"compiled"`
	Reused         int         `json:"reused"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// PhaseSummary is the persisted shape of a phase record. Callables are not
// stored; Energy holds the compiled expression text.
type PhaseSummary struct {
	ID                string    `json:"id"`
	BuildID           string    `json:"build_id"`
	Phase             string    `json:"phase"`
	StateVariables    string    `json:"state_variables"` // JSON array
	Variables         string    `json:"variables"`       // JSON array
	Parameters        string    `json:"parameters"`      // JSON array
	PureElements      string    `json:"pure_elements"`   // JSON array
	NumInternalCons   int       `json:"num_internal_cons"`
	NumMultiphaseCons int       `json:"num_multiphase_cons"`
	Energy            string    `json:"energy"`
	CreatedAt         time.Time `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	BuildID   *string    `json:"build_id,omitempty"`
	Phase     *string    `json:"phase,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the build ledger
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Build operations
	CreateBuild(ctx context.Context, build *Build) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	CompleteBuild(ctx context.Context, id string, status BuildStatus, compiled, reused int, code, errMsg *string) error
	ListBuilds(ctx context.Context, limit, offset int) ([]*Build, error)
	LatestBuildByDigest(ctx context.Context, digest string) (*Build, error)
	DeleteBuild(ctx context.Context, id string) error

	// Phase record operations
	SavePhaseSummaries(ctx context.Context, summaries []*PhaseSummary) error
	ListPhaseSummaries(ctx context.Context, buildID string) ([]*PhaseSummary, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, buildID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
