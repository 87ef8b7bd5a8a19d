// Package heartbeat implements the always-ok built-in handler used to
// prove liveness of the cron trigger itself (SPEC_FULL.md §4 item 4).
package heartbeat

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Handler reports process uptime and the Go runtime version as metrics.
// It never fails -- there is nothing for it to fail on.
type Handler struct {
	StartedAt time.Time
}

// New returns a Handler whose uptime is measured from startedAt.
func New(startedAt time.Time) *Handler {
	return &Handler{StartedAt: startedAt}
}

// AsHandler adapts h into a registry.Handler.
func (h *Handler) AsHandler() registry.Handler {
	return func(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
		return h.Run(ctx, def)
	}
}

func (h *Handler) Run(_ context.Context, _ taskdef.TaskDefinition) taskdef.TaskResult {
	uptime := time.Since(h.StartedAt)
	return taskdef.TaskResult{
		Status:  taskdef.StatusOK,
		Summary: fmt.Sprintf("alive, uptime %s", uptime.Round(time.Second)),
		Metrics: map[string]any{
			"uptime_sec": uptime.Seconds(),
			"go_version": runtime.Version(),
		},
	}
}
