// Package httpcheck implements the HTTP liveness built-in handler
// (SPEC_FULL.md §4 item 5): GETs a configured URL, classifying 2xx as
// ok, 4xx as a non-retriable failure, and 5xx/timeout as a retriable
// failure.
package httpcheck

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Handler performs one-shot HTTP GET checks. The transport itself never
// retries (RetryMax = 0): retry policy belongs to the executor
// (spec.md §4.4), not this handler.
type Handler struct {
	Client *retryablehttp.Client
}

// New returns a Handler using a client with the given timeout.
func New(timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	return &Handler{Client: c}
}

// AsHandler adapts h into a registry.Handler.
func (h *Handler) AsHandler() registry.Handler {
	return func(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
		return h.Run(ctx, def)
	}
}

// Params is the typed params.url schema for an httpcheck task.
type Params struct {
	URL string
}

func parseParams(raw map[string]any) (Params, error) {
	url, _ := raw["url"].(string)
	if url == "" {
		return Params{}, fmt.Errorf(`httpcheck: missing "url" in params`)
	}
	return Params{URL: url}, nil
}

func (h *Handler) Run(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
	start := time.Now()

	params, err := parseParams(def.Params)
	if err != nil {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: err.Error(), Duration: time.Since(start)}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: err.Error(), Duration: time.Since(start)}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return taskdef.TaskResult{
			Status:    taskdef.StatusFailed,
			Error:     fmt.Sprintf("request failed: %v", err),
			Retriable: true,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return taskdef.TaskResult{
			Status:   taskdef.StatusOK,
			Summary:  fmt.Sprintf("%s responded %d", params.URL, resp.StatusCode),
			Metrics:  map[string]any{"status_code": resp.StatusCode},
			Duration: time.Since(start),
		}
	case resp.StatusCode >= 500:
		return taskdef.TaskResult{
			Status:    taskdef.StatusFailed,
			Error:     fmt.Sprintf("%s responded %d", params.URL, resp.StatusCode),
			Retriable: true,
			Metrics:   map[string]any{"status_code": resp.StatusCode},
			Duration:  time.Since(start),
		}
	default:
		return taskdef.TaskResult{
			Status:    taskdef.StatusFailed,
			Error:     fmt.Sprintf("%s responded %d", params.URL, resp.StatusCode),
			Retriable: false,
			Metrics:   map[string]any{"status_code": resp.StatusCode},
			Duration:  time.Since(start),
		}
	}
}
