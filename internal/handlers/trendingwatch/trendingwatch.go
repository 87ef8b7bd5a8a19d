// Package trendingwatch implements the trending-topics snapshot built-in
// handler (SPEC_FULL.md §4 item 7): calls the same search-enrichment
// provider interface as the article handler, recording the top TopN
// topics in its own last_metrics. The snapshot is informational only:
// article generation tasks do not read it, and their params.keywords
// stays required.
package trendingwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/search"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Handler snapshots trending topics via the injected search.Provider.
type Handler struct {
	Provider search.Provider
	TopN     int
}

// New returns a Handler. An empty provider defaults to search.NoopProvider.
func New(provider search.Provider, topN int) *Handler {
	if provider == nil {
		provider = search.NoopProvider{}
	}
	if topN <= 0 {
		topN = 3
	}
	return &Handler{Provider: provider, TopN: topN}
}

// AsHandler adapts h into a registry.Handler.
func (h *Handler) AsHandler() registry.Handler {
	return func(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
		return h.Run(ctx, def)
	}
}

func (h *Handler) Run(ctx context.Context, _ taskdef.TaskDefinition) taskdef.TaskResult {
	start := time.Now()

	results, err := h.Provider.Trending(ctx, h.TopN)
	if err != nil {
		return taskdef.TaskResult{
			Status:    taskdef.StatusFailed,
			Error:     fmt.Sprintf("trending fetch failed: %v", err),
			Retriable: true,
			Duration:  time.Since(start),
		}
	}

	if len(results) == 0 {
		return taskdef.TaskResult{
			Status:   taskdef.StatusSkipped,
			Summary:  "no search provider configured or no trending topics returned",
			Duration: time.Since(start),
		}
	}

	topics := make([]string, 0, len(results))
	for _, r := range results {
		topics = append(topics, r.Title)
	}

	return taskdef.TaskResult{
		Status:  taskdef.StatusOK,
		Summary: fmt.Sprintf("captured %d trending topic(s)", len(topics)),
		Metrics: map[string]any{
			"topics": topics,
		},
		Duration: time.Since(start),
	}
}
