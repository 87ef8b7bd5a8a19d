// Package storage persists the task catalog and runtime state. It
// exposes a single two-operation interface (load/save) with two
// interchangeable implementations: a local two-file JSON backend
// (FileStorage) and a DynamoDB-backed remote-table backend
// (DynamoStorage), selected per spec.md §4.2.
package storage

import (
	"context"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Storage is the kernel's only I/O surface for the task catalog and its
// runtime state. Definitions are read-only; only state is written.
type Storage interface {
	// Load returns the full catalog: every definition, paired with its
	// state (defaulted to taskdef.NewScheduledState if not yet observed).
	// A malformed or missing definitions document is a ConfigError; a
	// missing state document is not an error (defaults are synthesized).
	Load(ctx context.Context) ([]taskdef.TaskDefinition, []taskdef.TaskState, error)

	// Save atomically persists the given states, replacing the prior
	// document in full. A crash at any point during Save must leave
	// either the prior or the new document intact — never a torn write.
	Save(ctx context.Context, states []taskdef.TaskState) error
}

// ConfigError wraps a failure loading or parsing the definitions or
// state document. The kernel must abort the run before invoking any
// handler when this occurs (spec.md §7), rather than risk overwriting a
// broken file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return "storage: config error loading " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }
