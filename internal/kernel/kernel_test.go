package kernel

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cronkeeper/cronkeeper/internal/notifier"
	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/storage"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

func writeDefinitions(t *testing.T, dir string, defs []taskdef.TaskDefinition) string {
	t.Helper()
	path := filepath.Join(dir, "tasks.json")
	data, err := json.Marshal(defs)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKernel_Run_HandlerFailureIsolation(t *testing.T) {
	dir := t.TempDir()
	defsPath := writeDefinitions(t, dir, []taskdef.TaskDefinition{
		{ID: "a", Title: "A", Enabled: true, Frequency: taskdef.FrequencyEveryMinute},
		{ID: "b", Title: "B", Enabled: true, Frequency: taskdef.FrequencyEveryMinute},
	})
	statePath := filepath.Join(dir, "state.json")

	reg := registry.New()
	reg.Register("a", func(context.Context, taskdef.TaskDefinition) taskdef.TaskResult {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: "boom"}
	})
	reg.Register("b", func(context.Context, taskdef.TaskDefinition) taskdef.TaskResult {
		return taskdef.TaskResult{Status: taskdef.StatusOK, Summary: "fine"}
	})

	k := &Kernel{
		Storage:  storage.NewFileStorage(defsPath, statePath),
		Registry: reg,
		Notifier: notifier.New(notifier.Config{}, zerolog.Nop()),
		Log:      zerolog.Nop(),
	}

	result, err := k.Run(context.Background(), "run-1", time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.AnyFailed {
		t.Fatal("expected AnyFailed = true")
	}

	defs, states, err := k.Storage.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_ = defs

	byID := make(map[string]taskdef.TaskState)
	for _, s := range states {
		byID[s.ID] = s
	}
	if byID["a"].Status != taskdef.StatusFailed || byID["a"].LastError != "boom" {
		t.Errorf("task a: got %+v", byID["a"])
	}
	if byID["b"].Status != taskdef.StatusOK || byID["b"].LastError != "" {
		t.Errorf("task b: got %+v", byID["b"])
	}
}

func TestKernel_Run_EmptyEligibleSet(t *testing.T) {
	dir := t.TempDir()
	defsPath := writeDefinitions(t, dir, nil)
	statePath := filepath.Join(dir, "state.json")

	k := &Kernel{
		Storage:  storage.NewFileStorage(defsPath, statePath),
		Registry: registry.New(),
		Notifier: notifier.New(notifier.Config{}, zerolog.Nop()),
		Log:      zerolog.Nop(),
	}

	result, err := k.Run(context.Background(), "run-1", time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AnyFailed {
		t.Fatal("expected no failures on an empty catalog")
	}
	if len(result.TaskOutcomes) != 0 {
		t.Fatalf("expected zero outcomes, got %d", len(result.TaskOutcomes))
	}
}

func TestInjectLastMetrics(t *testing.T) {
	defs := []taskdef.TaskDefinition{
		{ID: "rss", Params: map[string]any{"url": "http://example.com"}},
	}
	states := []taskdef.TaskState{
		{ID: "rss", LastMetrics: map[string]any{"last_seen_guid": "42"}},
	}

	out := injectLastMetrics(defs, states)
	last, ok := out[0].Params["_last_metrics"].(map[string]any)
	if !ok {
		t.Fatalf("expected _last_metrics to be injected, got %+v", out[0].Params)
	}
	if last["last_seen_guid"] != "42" {
		t.Fatalf("got %+v", last)
	}
	// original definition's Params map must not have been mutated.
	if _, ok := defs[0].Params["_last_metrics"]; ok {
		t.Fatal("original definition was mutated")
	}
}
