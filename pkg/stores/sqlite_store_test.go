package stores

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/phasec/pkg/callables"
	"github.com/openfroyo/phasec/pkg/database"
	"github.com/openfroyo/phasec/pkg/telemetry"
	"github.com/openfroyo/phasec/pkg/variables"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// Second run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to re-run migrations: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"builds", "phase_records", "events"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestBuildCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	build := &Build{
		ID:             "build-001",
		DatabasePath:   "alni.yaml",
		DatabaseDigest: "abc",
		Output:         "GM",
		Components:     `["AL","NI","VA"]`,
		Phases:         `["LIQUID"]`,
		Conditions:     `{}`,
		Parameters:     `{}`,
		Gradients:      true,
	}
	if err := store.CreateBuild(ctx, build); err != nil {
		t.Fatalf("failed to create build: %v", err)
	}

	got, err := store.GetBuild(ctx, build.ID)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if got.Status != BuildStatusRunning {
		t.Errorf("expected status %s, got %s", BuildStatusRunning, got.Status)
	}
	if !got.Gradients {
		t.Error("expected gradients to round trip")
	}
	if got.CompletedAt != nil {
		t.Error("running build should have no completion time")
	}

	code, msg := callables.ErrCodeMissingOutput, "no HM"
	if err := store.CompleteBuild(ctx, build.ID, BuildStatusFailed, 0, 0, &code, &msg); err != nil {
		t.Fatalf("failed to complete build: %v", err)
	}

	got, err = store.GetBuild(ctx, build.ID)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if got.Status != BuildStatusFailed || got.ErrorCode == nil || *got.ErrorCode != code {
		t.Errorf("unexpected completed build: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time")
	}

	if err := store.DeleteBuild(ctx, build.ID); err != nil {
		t.Fatalf("failed to delete build: %v", err)
	}
	if _, err := store.GetBuild(ctx, build.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteBuild(ctx, build.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.CompleteBuild(ctx, "missing", BuildStatusCompleted, 0, 0, nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListBuildsAndDigest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"b1", "b2", "b3"} {
		b := &Build{
			ID:             id,
			DatabaseDigest: "digest",
			Output:         "GM",
			Components:     "[]",
			Phases:         "[]",
			Conditions:     "{}",
			Parameters:     "{}",
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateBuild(ctx, b); err != nil {
			t.Fatalf("failed to create build: %v", err)
		}
	}
	if err := store.CompleteBuild(ctx, "b2", BuildStatusCompleted, 3, 1, nil, nil); err != nil {
		t.Fatalf("failed to complete build: %v", err)
	}

	builds, err := store.ListBuilds(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list builds: %v", err)
	}
	if len(builds) != 2 || builds[0].ID != "b3" || builds[1].ID != "b2" {
		t.Fatalf("unexpected order: %v", ids(builds))
	}

	latest, err := store.LatestBuildByDigest(ctx, "digest")
	if err != nil {
		t.Fatalf("failed to get latest build: %v", err)
	}
	if latest.ID != "b2" || latest.Compiled != 3 || latest.Reused != 1 {
		t.Errorf("unexpected latest build: %+v", latest)
	}

	if _, err := store.LatestBuildByDigest(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPhaseSummariesCascade(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	b := &Build{ID: "b1", Output: "GM", Components: "[]", Phases: "[]", Conditions: "{}", Parameters: "{}"}
	if err := store.CreateBuild(ctx, b); err != nil {
		t.Fatalf("failed to create build: %v", err)
	}

	rows := []*PhaseSummary{
		{ID: "p2", BuildID: "b1", Phase: "LIQUID", StateVariables: `["T"]`, Variables: "[]", Parameters: "[]", PureElements: "[]", Energy: "T"},
		{ID: "p1", BuildID: "b1", Phase: "BCC_A2", StateVariables: `["T"]`, Variables: "[]", Parameters: "[]", PureElements: "[]", NumInternalCons: 2},
	}
	if err := store.SavePhaseSummaries(ctx, rows); err != nil {
		t.Fatalf("failed to save summaries: %v", err)
	}

	got, err := store.ListPhaseSummaries(ctx, "b1")
	if err != nil {
		t.Fatalf("failed to list summaries: %v", err)
	}
	if len(got) != 2 || got[0].Phase != "BCC_A2" || got[0].NumInternalCons != 2 {
		t.Fatalf("unexpected summaries: %+v", got)
	}

	// Duplicate phase within a build is rejected and nothing is written.
	dup := []*PhaseSummary{
		{ID: "p3", BuildID: "b1", Phase: "FCC_A1", StateVariables: "[]", Variables: "[]", Parameters: "[]", PureElements: "[]"},
		{ID: "p4", BuildID: "b1", Phase: "LIQUID", StateVariables: "[]", Variables: "[]", Parameters: "[]", PureElements: "[]"},
	}
	if err := store.SavePhaseSummaries(ctx, dup); err == nil {
		t.Fatal("expected unique constraint violation")
	}
	got, _ = store.ListPhaseSummaries(ctx, "b1")
	if len(got) != 2 {
		t.Fatalf("expected rollback, got %d rows", len(got))
	}

	if err := store.DeleteBuild(ctx, "b1"); err != nil {
		t.Fatalf("failed to delete build: %v", err)
	}
	got, _ = store.ListPhaseSummaries(ctx, "b1")
	if len(got) != 0 {
		t.Fatalf("expected cascade delete, got %d rows", len(got))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	buildID := "b1"
	for _, e := range []*Event{
		{BuildID: &buildID, Type: "build.started", Level: EventLevelInfo, Message: "started"},
		{BuildID: &buildID, Type: "state_variables.unresolved", Level: EventLevelWarning, Message: "P"},
		{Type: "build.started", Level: EventLevelInfo, Message: "other"},
	} {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	events, err := store.GetEvents(ctx, &buildID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 || events[0].Message != "started" {
		t.Fatalf("unexpected events: %+v", events)
	}

	level := EventLevelWarning
	events, err = store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "state_variables.unresolved" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestLedger_RecordsBuild(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ledger := NewLedger(store)

	db, err := database.Load(filepath.Join("..", "database", "testdata", "alni.yaml"))
	if err != nil {
		t.Fatalf("failed to load database: %v", err)
	}

	events, _ := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	events.Subscribe(ledger.Subscriber(ctx, telemetry.NewNopLogger()), nil)
	tel := telemetry.NewNopTelemetry()
	tel.Events = events

	conds := map[variables.Variable]float64{variables.T: 1200, variables.X("AL"): 0.4}
	id, err := ledger.Begin(ctx, BuildInput{
		DatabasePath:   "alni.yaml",
		DatabaseDigest: db.Digest(),
		Output:         "GM",
		Components:     []string{"AL", "NI", "VA"},
		Phases:         []string{"LIQUID", "BCC_A2"},
		Conditions:     conds,
		Gradients:      true,
	})
	if err != nil {
		t.Fatalf("failed to begin build: %v", err)
	}

	res, buildErr := callables.Build(ctx, db, callables.Options{
		Components: []string{"AL", "NI", "VA"},
		Phases:     []string{"LIQUID", "BCC_A2"},
		Conditions: conds,
		Telemetry:  tel,
	})
	if buildErr != nil {
		t.Fatalf("build failed: %v", buildErr)
	}
	if err := ledger.Finish(ctx, id, res, nil); err != nil {
		t.Fatalf("failed to finish build: %v", err)
	}

	build, err := store.GetBuild(ctx, id)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if build.Status != BuildStatusCompleted || build.Compiled != 8 {
		t.Errorf("unexpected build row: %+v", build)
	}
	var stored map[string]float64
	if err := json.Unmarshal([]byte(build.Conditions), &stored); err != nil {
		t.Fatalf("conditions are not JSON: %v", err)
	}
	if stored["X_AL"] != 0.4 || stored["T"] != 1200 {
		t.Errorf("unexpected conditions: %v", stored)
	}

	summaries, err := store.ListPhaseSummaries(ctx, id)
	if err != nil {
		t.Fatalf("failed to list summaries: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Phase != "BCC_A2" || summaries[0].NumInternalCons != 2 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	if summaries[1].StateVariables != `["T"]` {
		t.Errorf("unexpected state variables: %s", summaries[1].StateVariables)
	}

	persisted, err := store.GetEvents(ctx, &res.BuildID, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(persisted) != 4 {
		t.Fatalf("expected started, two phases and completed, got %d events", len(persisted))
	}
	if persisted[0].Type != telemetry.EventTypeBuildStarted || persisted[3].Type != telemetry.EventTypeBuildCompleted {
		t.Errorf("unexpected event order: %s ... %s", persisted[0].Type, persisted[3].Type)
	}
}

func TestLedger_RecordsFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ledger := NewLedger(store)

	id, err := ledger.Begin(ctx, BuildInput{Output: "VOLUME"})
	if err != nil {
		t.Fatalf("failed to begin build: %v", err)
	}

	buildErr := callables.NewMissingOutputError("LIQUID", "VOLUME", nil)
	if err := ledger.Finish(ctx, id, nil, buildErr); err != nil {
		t.Fatalf("failed to finish build: %v", err)
	}

	build, err := store.GetBuild(ctx, id)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if build.Status != BuildStatusFailed || *build.ErrorCode != callables.ErrCodeMissingOutput {
		t.Errorf("unexpected build row: %+v", build)
	}
}

func ids(builds []*Build) []string {
	out := make([]string, len(builds))
	for i, b := range builds {
		out[i] = b.ID
	}
	return out
}
