package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "alni.yaml"))
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "alni.yaml")
	require.NoError(t, os.WriteFile(path, src, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(path, zerolog.Nop())
	w.SetReloadDelay(20 * time.Millisecond)

	reloaded := make(chan *Database, 4)
	initial, err := w.Watch(ctx, func(_ context.Context, db *Database) error {
		reloaded <- db
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()
	require.Same(t, initial, w.Current())

	// An identical rewrite keeps the digest and must not be reported.
	require.NoError(t, os.WriteFile(path, src, 0o644))
	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	changed := append(append([]byte(nil), src...), []byte("\n# edited\n")...)
	require.NoError(t, os.WriteFile(path, changed, 0o644))

	select {
	case db := <-reloaded:
		require.NotEqual(t, initial.Digest(), db.Digest())
		require.Equal(t, initial.PhaseNames(), db.PhaseNames())
		require.Same(t, db, w.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_InvalidContentKeepsPrevious(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "alni.yaml"))
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "alni.yaml")
	require.NoError(t, os.WriteFile(path, src, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(path, zerolog.Nop())
	w.SetReloadDelay(10 * time.Millisecond)

	calls := make(chan struct{}, 4)
	initial, err := w.Watch(ctx, func(context.Context, *Database) error {
		calls <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("elements: [oops"), 0o644))

	select {
	case <-calls:
		t.Fatal("reload callback ran for an invalid database")
	case <-time.After(300 * time.Millisecond):
	}
	require.Same(t, initial, w.Current())
}

func TestWatcher_MissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), zerolog.Nop())
	_, err := w.Watch(context.Background(), nil)
	require.Error(t, err)
}
