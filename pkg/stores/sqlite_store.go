package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and applies connection pragmas.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if s.cfg.Path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

const buildColumns = `id, database_path, database_digest, output, components, phases, conditions, parameters,
		gradients, status, error_code, error, compiled, reused, started_at, completed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	b := &Build{}
	err := row.Scan(
		&b.ID,
		&b.DatabasePath,
		&b.DatabaseDigest,
		&b.Output,
		&b.Components,
		&b.Phases,
		&b.Conditions,
		&b.Parameters,
		&b.Gradients,
		&b.Status,
		&b.ErrorCode,
		&b.Error,
		&b.Compiled,
		&b.Reused,
		&b.StartedAt,
		&b.CompletedAt,
		&b.CreatedAt,
	)
	return b, err
}

// CreateBuild inserts a build row.
func (s *SQLiteStore) CreateBuild(ctx context.Context, build *Build) error {
	query := `INSERT INTO builds (` + buildColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if build.CreatedAt.IsZero() {
		build.CreatedAt = time.Now().UTC()
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = build.CreatedAt
	}
	if build.Status == "" {
		build.Status = BuildStatusRunning
	}

	_, err := s.db.ExecContext(ctx, query,
		build.ID,
		build.DatabasePath,
		build.DatabaseDigest,
		build.Output,
		build.Components,
		build.Phases,
		build.Conditions,
		build.Parameters,
		build.Gradients,
		build.Status,
		build.ErrorCode,
		build.Error,
		build.Compiled,
		build.Reused,
		build.StartedAt,
		build.CompletedAt,
		build.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}

	return nil
}

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return b, nil
}

// CompleteBuild records the outcome of a build.
func (s *SQLiteStore) CompleteBuild(ctx context.Context, id string, status BuildStatus, compiled, reused int, code, errMsg *string) error {
	query := `
		UPDATE builds
		SET status = ?, compiled = ?, reused = ?, error_code = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, compiled, reused, code, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete build: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("build %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListBuilds lists builds, newest first
func (s *SQLiteStore) ListBuilds(ctx context.Context, limit, offset int) ([]*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}

// LatestBuildByDigest returns the newest completed build of a database
// document with the given digest.
func (s *SQLiteStore) LatestBuildByDigest(ctx context.Context, digest string) (*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE database_digest = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`

	b, err := scanBuild(s.db.QueryRowContext(ctx, query, digest, BuildStatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build with digest %s: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}

	return b, nil
}

// DeleteBuild deletes a build and its phase records
func (s *SQLiteStore) DeleteBuild(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("build %s: %w", id, ErrNotFound)
	}

	return nil
}

// SavePhaseSummaries inserts the phase rows of one or more builds in a
// single transaction.
func (s *SQLiteStore) SavePhaseSummaries(ctx context.Context, summaries []*PhaseSummary) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO phase_records (
			id, build_id, phase, state_variables, variables, parameters, pure_elements,
			num_internal_cons, num_multiphase_cons, energy, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, p := range summaries {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, query,
			p.ID,
			p.BuildID,
			p.Phase,
			p.StateVariables,
			p.Variables,
			p.Parameters,
			p.PureElements,
			p.NumInternalCons,
			p.NumMultiphaseCons,
			p.Energy,
			p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save phase record %s: %w", p.Phase, err)
		}
	}

	return tx.Commit()
}

// ListPhaseSummaries returns the phase rows of a build ordered by phase.
func (s *SQLiteStore) ListPhaseSummaries(ctx context.Context, buildID string) ([]*PhaseSummary, error) {
	query := `
		SELECT id, build_id, phase, state_variables, variables, parameters, pure_elements,
			num_internal_cons, num_multiphase_cons, energy, created_at
		FROM phase_records
		WHERE build_id = ?
		ORDER BY phase
	`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase records: %w", err)
	}
	defer rows.Close()

	out := []*PhaseSummary{}
	for rows.Next() {
		p := &PhaseSummary{}
		err := rows.Scan(
			&p.ID,
			&p.BuildID,
			&p.Phase,
			&p.StateVariables,
			&p.Variables,
			&p.Parameters,
			&p.PureElements,
			&p.NumInternalCons,
			&p.NumMultiphaseCons,
			&p.Energy,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase record: %w", err)
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase records: %w", err)
	}

	return out, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (build_id, phase, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.BuildID,
		event.Phase,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, buildID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, build_id, phase, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR build_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, buildID, buildID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.BuildID,
			&event.Phase,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
