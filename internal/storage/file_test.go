package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

func writeDefinitions(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, `tasks.json`)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644), `write definitions`)
	return path
}

func TestFileStorage_Load_MissingStateSynthesizesDefaults(t *testing.T) {
	dir := t.TempDir()
	defPath := writeDefinitions(t, dir, `[
		{"id": "a", "title": "A", "enabled": true, "frequency": "hourly", "timezone": "UTC", "params": {}},
		{"id": "b", "title": "B", "enabled": false, "frequency": "daily", "timezone": "UTC", "params": {}}
	]`)

	fs := NewFileStorage(defPath, filepath.Join(dir, `state.json`))
	defs, states, err := fs.Load(context.Background())
	require.NoError(t, err, `Load()`)
	require.Len(t, defs, 2)
	require.Len(t, states, 2)
	for _, s := range states {
		if s.Status != taskdef.StatusScheduled {
			t.Errorf(`expected default status=scheduled, got %q for %q`, s.Status, s.ID)
		}
		if s.LastRunAt != nil {
			t.Errorf(`expected nil LastRunAt for fresh state %q`, s.ID)
		}
	}
}

func TestFileStorage_Load_MissingDefinitionsIsConfigError(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStorage(filepath.Join(dir, `tasks.json`), filepath.Join(dir, `state.json`))
	if _, _, err := fs.Load(context.Background()); err == nil {
		t.Fatal(`expected ConfigError for missing definitions`)
	} else {
		var cfgErr *ConfigError
		if !asConfigError(err, &cfgErr) {
			t.Errorf(`expected *ConfigError, got %T: %v`, err, err)
		}
	}
}

func TestFileStorage_Load_MalformedStateIsConfigError(t *testing.T) {
	dir := t.TempDir()
	defPath := writeDefinitions(t, dir, `[{"id": "a", "title": "A", "enabled": true, "frequency": "hourly", "timezone": "UTC", "params": {}}]`)
	statePath := filepath.Join(dir, `state.json`)
	require.NoError(t, os.WriteFile(statePath, []byte(`not json`), 0o644), `write state`)

	fs := NewFileStorage(defPath, statePath)
	if _, _, err := fs.Load(context.Background()); err == nil {
		t.Fatal(`expected ConfigError for malformed state`)
	}

	// the kernel must not have overwritten the broken file
	data, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf(`read state: %v`, err)
	}
	if string(data) != `not json` {
		t.Error(`malformed state file must not be silently overwritten`)
	}
}

func TestFileStorage_Save_AtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, `state.json`)
	fs := NewFileStorage(filepath.Join(dir, `tasks.json`), statePath)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := []taskdef.TaskState{
		{ID: `a`, Status: taskdef.StatusOK, LastRunAt: &now, LastResultSummary: `fine`},
		{ID: `b`, Status: taskdef.StatusFailed, LastError: `boom`},
	}

	require.NoError(t, fs.Save(context.Background(), want), `Save()`)

	_, err := os.Stat(statePath)
	require.NoError(t, err, `expected state file to exist`)

	// no leftover temp files in the directory
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, `read dir`)
	for _, e := range entries {
		if e.Name() != `state.json` && e.Name() != `tasks.json` {
			t.Errorf(`unexpected leftover file after atomic save: %s`, e.Name())
		}
	}

	got, err := loadStates(statePath)
	require.NoError(t, err, `loadStates()`)
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(taskdef.TaskState{})); diff != "" {
		t.Errorf(`round-trip mismatch (-want +got):\n%s`, diff)
	}
}

func TestFileStorage_Save_IdempotentReload(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, `state.json`)
	fs := NewFileStorage(filepath.Join(dir, `tasks.json`), statePath)

	states := []taskdef.TaskState{{ID: `a`, Status: taskdef.StatusOK}}
	require.NoError(t, fs.Save(context.Background(), states), `first Save()`)
	first, err := os.ReadFile(statePath)
	require.NoError(t, err, `read`)

	reloaded, err := loadStates(statePath)
	require.NoError(t, err, `loadStates()`)
	require.NoError(t, fs.Save(context.Background(), reloaded), `second Save()`)
	second, err := os.ReadFile(statePath)
	require.NoError(t, err, `read`)

	if string(first) != string(second) {
		t.Error(`save-reload-save must be byte-idempotent`)
	}
}

func asConfigError(err error, target **ConfigError) bool {
	ce, ok := err.(*ConfigError)
	if ok {
		*target = ce
	}
	return ok
}
