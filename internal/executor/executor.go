// Package executor is the bounded worker pool that runs eligible tasks
// concurrently, applies per-task timeout and retry policy, and merges
// results back into task state (spec.md §4.4).
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cronkeeper/cronkeeper/internal/clock"
	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Config tunes the executor. Zero values of RetryBackoff, TaskTimeout and
// RunDeadline are replaced with the defaults named in spec.md §5 and §6;
// MaxConcurrency is handled as described on the field.
type Config struct {
	// MaxConcurrency bounds simultaneous handler invocations. Values < 1
	// are treated as 1, per spec.md §4.4.
	MaxConcurrency int
	// RetryBackoff is the in-worker backoff sequence applied between
	// attempts at a retriable failure. Defaults to 1s, 3s, 7s.
	RetryBackoff []time.Duration
	// TaskTimeout is the soft per-task deadline threaded into the
	// context passed to each handler. Defaults to 120s.
	TaskTimeout time.Duration
	// RunDeadline bounds the whole batch. Tasks still running when it
	// expires are surfaced as failed with run_deadline_exceeded, and
	// their state is left unchanged. Defaults to 600s.
	RunDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if len(c.RetryBackoff) == 0 {
		c.RetryBackoff = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 120 * time.Second
	}
	if c.RunDeadline <= 0 {
		c.RunDeadline = 600 * time.Second
	}
	return c
}

// TaskOutcome is one task's result as seen by the Notifier: the
// definition it belongs to, the result the handler (or the executor's
// own deadline/retry machinery) produced, and whether that result was
// actually persisted into state this run.
type TaskOutcome struct {
	Definition     taskdef.TaskDefinition
	Result         taskdef.TaskResult
	StatePersisted bool
}

// Run filters defs/states down to the eligible set, dispatches each
// through reg with bounded concurrency, and returns the full state slice
// to persist (one row per definition, in input order) alongside the
// per-task outcomes eligible this run (for the Notifier). now is the
// instant this run began; it is the sole "current time" referenced
// anywhere in this function, threaded explicitly rather than read from a
// package-level clock.
func Run(ctx context.Context, cfg Config, defs []taskdef.TaskDefinition, states []taskdef.TaskState, reg *registry.Registry, now time.Time) ([]taskdef.TaskState, []TaskOutcome) {
	cfg = cfg.withDefaults()

	stateByID := make(map[string]taskdef.TaskState, len(states))
	for _, s := range states {
		stateByID[s.ID] = s
	}

	type eligibleTask struct {
		index int // index into defs/newStates
		def   taskdef.TaskDefinition
	}

	newStates := make([]taskdef.TaskState, len(defs))
	var eligible []eligibleTask
	for i, d := range defs {
		s := stateByID[d.ID]
		newStates[i] = s // default: unchanged, overwritten below if run completes

		due, err := clock.Eligible(d, s, now)
		if err != nil {
			// unknown frequency: fails the task without ever invoking its
			// handler, same spirit as unknown_task_id.
			newStates[i] = mergeState(d, now, taskdef.TaskResult{
				Status: taskdef.StatusFailed,
				Error:  err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		eligible = append(eligible, eligibleTask{index: i, def: d})
	}

	if len(eligible) == 0 {
		return newStates, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.RunDeadline)
	defer cancel()

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))

	type indexedResult struct {
		index    int
		result   taskdef.TaskResult
		finished bool
	}
	agg := make(chan indexedResult, len(eligible))

	for _, task := range eligible {
		go func(task eligibleTask) {
			if err := sem.Acquire(runCtx, 1); err != nil {
				return // run deadline hit before this task could even start
			}
			defer sem.Release(1)

			result := runWithRetry(runCtx, task.def, reg, cfg)
			agg <- indexedResult{index: task.index, result: result, finished: true}
		}(task)
	}

	received := make(map[int]bool, len(eligible))
	outcomes := make([]TaskOutcome, 0, len(eligible))

collectLoop:
	for len(received) < len(eligible) {
		select {
		case r := <-agg:
			received[r.index] = true
			def := defs[r.index]
			newStates[r.index] = mergeState(def, now, r.result)
			outcomes = append(outcomes, TaskOutcome{Definition: def, Result: r.result, StatePersisted: true})
		case <-runCtx.Done():
			break collectLoop
		}
	}

	for _, task := range eligible {
		if received[task.index] {
			continue
		}
		// still running (or never got a worker slot) when the run
		// deadline expired: state is left unchanged (newStates[index]
		// already holds the untouched prior state), but a synthetic
		// failed row is surfaced to the notifier.
		outcomes = append(outcomes, TaskOutcome{
			Definition: task.def,
			Result: taskdef.TaskResult{
				Status: taskdef.StatusFailed,
				Error:  `run_deadline_exceeded`,
			},
			StatePersisted: false,
		})
	}

	return newStates, outcomes
}

// runWithRetry invokes reg.Dispatch for def, applying outer panic
// recovery, a soft per-task timeout, and in-worker retry for results
// flagged retriable, per spec.md §4.4 and §4.3.
func runWithRetry(runCtx context.Context, def taskdef.TaskDefinition, reg *registry.Registry, cfg Config) taskdef.TaskResult {
	start := time.Now()

	var result taskdef.TaskResult
	delays := append([]time.Duration{0}, cfg.RetryBackoff...)

	for attempt, delay := range delays {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-runCtx.Done():
				timer.Stop()
				result = taskdef.TaskResult{Status: taskdef.StatusFailed, Error: `run_deadline_exceeded`}
				result.Duration = time.Since(start)
				return result
			case <-timer.C:
			}
		}

		taskCtx, cancel := context.WithTimeout(runCtx, cfg.TaskTimeout)
		result = safeDispatch(taskCtx, def, reg)
		cancel()

		if !(result.Status == taskdef.StatusFailed && result.Retriable) {
			break
		}
	}

	result.Duration = time.Since(start)
	return normalizeResult(result)
}

// safeDispatch is the executor's outer guard: it converts a handler
// panic into a failed result instead of taking down the batch.
func safeDispatch(ctx context.Context, def taskdef.TaskDefinition, reg *registry.Registry) (result taskdef.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = taskdef.TaskResult{
				Status: taskdef.StatusFailed,
				Error:  fmt.Sprintf(`panic in handler: %v`, r),
			}
		}
	}()
	return reg.Dispatch(ctx, def)
}

// normalizeResult guards against a misbehaving handler returning a
// Status outside {ok, failed, skipped}.
func normalizeResult(result taskdef.TaskResult) taskdef.TaskResult {
	switch result.Status {
	case taskdef.StatusOK, taskdef.StatusFailed, taskdef.StatusSkipped:
		return result
	default:
		invalid := result.Status
		result.Status = taskdef.StatusFailed
		result.Error = fmt.Sprintf(`handler returned invalid status %q`, invalid)
		return result
	}
}

// mergeState folds a handler result into the next persisted TaskState,
// per spec.md §4.4 step 5.
func mergeState(def taskdef.TaskDefinition, now time.Time, result taskdef.TaskResult) taskdef.TaskState {
	next, err := clock.ComputeNextRun(now, def.Frequency)
	state := taskdef.TaskState{
		ID:                def.ID,
		Status:            result.Status,
		LastRunAt:         timePtr(now),
		LastResultSummary: taskdef.Truncate(result.Summary),
		LastError:         taskdef.Truncate(result.Error),
		LastMetrics:       result.Metrics,
	}
	if err == nil {
		state.NextRunAt = timePtr(next)
	}
	return state
}

func timePtr(t time.Time) *time.Time { return &t }
