// Package kernel wires the scheduling and execution pipeline end to
// end: load -> filter -> execute -> save -> notify (spec.md §2's data
// flow). It is the only package that knows about every other component;
// everything downstream of it is independently testable in isolation.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cronkeeper/cronkeeper/internal/executor"
	"github.com/cronkeeper/cronkeeper/internal/notifier"
	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/storage"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Kernel holds the wiring needed to run one batch: storage, registry,
// executor tuning, and the notifier. Nothing here is a package-level
// singleton; Run is called once per process invocation (spec.md §1:
// "on each invocation (every minute)").
type Kernel struct {
	Storage        storage.Storage
	Registry       *registry.Registry
	ExecutorConfig executor.Config
	Notifier       *notifier.Notifier
	SummaryPath    string // optional; "" disables the last_run_summary.json sidecar
	Log            zerolog.Logger
}

// Result is what Run returns to the CLI entry point: enough information
// to compute the process exit code. The entry point derives the exit
// code from AnyFailed alone; NotifierOK is reported for logging and does
// not affect it.
type Result struct {
	RunID        string
	AnyFailed    bool
	NotifierOK   bool
	TaskOutcomes []executor.TaskOutcome
}

// Run executes exactly one batch: load the catalog, filter and dispatch
// eligible tasks, persist the result, and notify. now is the sole
// "current time" reference for the whole run, threaded explicitly.
func (k *Kernel) Run(ctx context.Context, runID string, now time.Time) (Result, error) {
	defs, states, err := k.Storage.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf(`kernel: load catalog: %w`, err)
	}

	augmented := injectLastMetrics(defs, states)

	newStates, outcomes := executor.Run(ctx, k.ExecutorConfig, augmented, states, k.Registry, now)

	if err := k.Storage.Save(ctx, newStates); err != nil {
		// persistence is the single synchronization point; its failure
		// is fatal because subsequent runs would observe stale state
		// (spec.md §7).
		return Result{}, fmt.Errorf(`kernel: save state: %w`, err)
	}

	k.writeSummary(runID, now, outcomes)

	card := notifier.BuildCard(runID, outcomes)
	alerts := notifier.BuildAlerts(runID, k.notifierMention(), outcomes)

	notifierOK := true
	if k.Notifier != nil {
		notifierOK = k.Notifier.Dispatch(ctx, card, alerts)
	}

	anyFailed := false
	for _, o := range outcomes {
		if o.Result.Status == taskdef.StatusFailed {
			anyFailed = true
			break
		}
	}

	return Result{RunID: runID, AnyFailed: anyFailed, NotifierOK: notifierOK, TaskOutcomes: outcomes}, nil
}

func (k *Kernel) notifierMention() string {
	if k.Notifier == nil {
		return ""
	}
	return k.Notifier.Mention()
}

// injectLastMetrics returns a copy of defs where each definition's
// Params carries an additional "_last_metrics" entry mirroring its own
// prior TaskState.LastMetrics. This lets stateful handlers (such as
// rsswatch) read their own last run's telemetry
// without the kernel exposing cross-task state or handlers gaining a
// storage dependency of their own (spec.md §4.3: "must not mutate ...
// any other task's state" -- reading one's own prior metrics is not a
// mutation of another task's state, and params is already the
// documented handler input channel).
func injectLastMetrics(defs []taskdef.TaskDefinition, states []taskdef.TaskState) []taskdef.TaskDefinition {
	stateByID := make(map[string]taskdef.TaskState, len(states))
	for _, s := range states {
		stateByID[s.ID] = s
	}

	out := make([]taskdef.TaskDefinition, len(defs))
	for i, d := range defs {
		s, ok := stateByID[d.ID]
		if !ok || s.LastMetrics == nil {
			out[i] = d
			continue
		}

		params := make(map[string]any, len(d.Params)+1)
		for k, v := range d.Params {
			params[k] = v
		}
		params["_last_metrics"] = s.LastMetrics

		d.Params = params
		out[i] = d
	}
	return out
}

// writeSummary writes the informational last_run_summary.json sidecar
// (SPEC_FULL.md §4.3). It is never read back by the kernel, so its
// failure is logged, not fatal.
func (k *Kernel) writeSummary(runID string, now time.Time, outcomes []executor.TaskOutcome) {
	if k.SummaryPath == "" {
		return
	}

	type summary struct {
		RunID     string    `json:"run_id"`
		StartedAt time.Time `json:"started_at"`
		TaskCount int       `json:"task_count"`
		OKCount   int       `json:"ok_count"`
		FailCount int       `json:"failed_count"`
		SkipCount int       `json:"skipped_count"`
	}

	s := summary{RunID: runID, StartedAt: now, TaskCount: len(outcomes)}
	for _, o := range outcomes {
		switch o.Result.Status {
		case taskdef.StatusOK:
			s.OKCount++
		case taskdef.StatusFailed:
			s.FailCount++
		case taskdef.StatusSkipped:
			s.SkipCount++
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		k.Log.Warn().Err(err).Msg("kernel: marshal run summary")
		return
	}
	if err := os.MkdirAll(filepath.Dir(k.SummaryPath), 0o755); err != nil {
		k.Log.Warn().Err(err).Msg("kernel: create summary dir")
		return
	}
	if err := os.WriteFile(k.SummaryPath, append(data, '\n'), 0o644); err != nil {
		k.Log.Warn().Err(err).Msg("kernel: write run summary")
	}
}
