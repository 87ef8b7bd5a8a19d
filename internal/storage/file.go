package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// FileStorage is the default Storage backend: a human-edited,
// commit-tracked definitions file, and a machine-written state file that
// is not expected to be committed. Only the state file is ever written,
// and it is written atomically via temp-file-then-rename (renameio),
// which fsyncs the temp file before renaming it over the target -- a
// crash between those two steps leaves the prior document intact.
type FileStorage struct {
	DefinitionsPath string
	StatePath       string
}

// NewFileStorage returns a FileStorage using the given paths.
func NewFileStorage(definitionsPath, statePath string) *FileStorage {
	return &FileStorage{DefinitionsPath: definitionsPath, StatePath: statePath}
}

var _ Storage = (*FileStorage)(nil)

func (f *FileStorage) Load(ctx context.Context) ([]taskdef.TaskDefinition, []taskdef.TaskState, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	defs, err := loadDefinitions(f.DefinitionsPath)
	if err != nil {
		return nil, nil, err
	}

	states, err := loadStates(f.StatePath)
	if err != nil {
		return nil, nil, err
	}

	return defs, mergeDefaultStates(defs, states), nil
}

func (f *FileStorage) Save(ctx context.Context, states []taskdef.TaskState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf(`storage: marshal state: %w`, err)
	}
	data = append(data, '\n')

	pending, err := renameio.NewPendingFile(f.StatePath, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf(`storage: create pending state file: %w`, err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf(`storage: write pending state file: %w`, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf(`storage: atomically replace state file: %w`, err)
	}
	return nil
}

func loadDefinitions(path string) ([]taskdef.TaskDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var defs []taskdef.TaskDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return defs, nil
}

// loadStates returns an empty slice (not an error) if the state file is
// missing -- the caller will synthesize default, scheduled states for
// every definition. A malformed (but present) state file is still a
// ConfigError: the kernel must never silently overwrite a broken file.
func loadStates(path string) ([]taskdef.TaskState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &ConfigError{Path: path, Err: err}
	}

	var states []taskdef.TaskState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return states, nil
}

// mergeDefaultStates returns exactly one state per definition, in
// definition order, synthesizing a default scheduled state for any
// definition not already present. States for IDs no longer present in
// the definitions are dropped -- the invariant is "exactly one state row
// per definition row", not the reverse.
func mergeDefaultStates(defs []taskdef.TaskDefinition, states []taskdef.TaskState) []taskdef.TaskState {
	byID := make(map[string]taskdef.TaskState, len(states))
	for _, s := range states {
		byID[s.ID] = s
	}

	merged := make([]taskdef.TaskState, 0, len(defs))
	for _, d := range defs {
		if s, ok := byID[d.ID]; ok {
			merged = append(merged, s)
		} else {
			merged = append(merged, taskdef.NewScheduledState(d.ID))
		}
	}
	return merged
}
