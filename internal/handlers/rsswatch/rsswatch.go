// Package rsswatch implements the RSS/Atom feed watcher built-in
// handler (SPEC_FULL.md §4 item 6): fetches and parses a feed, diffing
// against the last-seen item GUID persisted in the task's own
// last_metrics, and reports the new-item count.
package rsswatch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Handler fetches and diffs one RSS/Atom feed per invocation.
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

// rssFeed is the minimal subset of RSS 2.0 needed to enumerate item GUIDs.
// Atom feeds (<entry><id>) are handled by atomFeed below.
type rssFeed struct {
	Channel struct {
		Items []struct {
			GUID  string `xml:"guid"`
			Link  string `xml:"link"`
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomFeed struct {
	Entries []struct {
		ID    string `xml:"id"`
		Title string `xml:"title"`
	} `xml:"entry"`
}

func parseParams(raw map[string]any) (string, error) {
	url, _ := raw["url"].(string)
	if url == "" {
		return "", fmt.Errorf(`rsswatch: missing "url" in params`)
	}
	return url, nil
}

func (h *Handler) Run(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
	start := time.Now()

	url, err := parseParams(def.Params)
	if err != nil {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: err.Error(), Duration: time.Since(start)}
	}

	body, err := h.fetch(ctx, url)
	if err != nil {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: err.Error(), Retriable: true, Duration: time.Since(start)}
	}

	ids, err := extractIDs(body)
	if err != nil {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: err.Error(), Duration: time.Since(start)}
	}

	lastSeenGUID, _ := lastSeenFromState(def)

	newCount, newest := newItemCount(ids, lastSeenGUID)

	return taskdef.TaskResult{
		Status:  taskdef.StatusOK,
		Summary: fmt.Sprintf("%d new item(s)", newCount),
		Metrics: map[string]any{
			"new_items":      newCount,
			"last_seen_guid": newest,
		},
		Duration: time.Since(start),
	}
}

func (h *Handler) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rsswatch: build request: %w", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rsswatch: fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rsswatch: feed responded %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// extractIDs returns item identifiers in feed order (newest typically
// first, per RSS/Atom convention), trying RSS 2.0 first, then Atom.
func extractIDs(body []byte) ([]string, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		ids := make([]string, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			id := item.GUID
			if id == "" {
				id = item.Link
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, fmt.Errorf("rsswatch: parse feed: %w", err)
	}
	ids := make([]string, 0, len(atom.Entries))
	for _, e := range atom.Entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// newItemCount counts entries in ids that appear before lastSeen (feed
// order is newest-first); if lastSeen is empty or not found, every
// entry counts as new on this (first) observation, and the newest id is
// returned for persistence.
func newItemCount(ids []string, lastSeen string) (count int, newest string) {
	if len(ids) == 0 {
		return 0, lastSeen
	}
	newest = ids[0]
	if lastSeen == "" {
		return len(ids), newest
	}
	for _, id := range ids {
		if id == lastSeen {
			return count, newest
		}
		count++
	}
	return count, newest
}

func lastSeenFromState(def taskdef.TaskDefinition) (string, bool) {
	// rsswatch has no access to its own prior TaskState here (handlers
	// only see the definition, per spec.md §4.3's signature); the
	// kernel wiring threads last_metrics back in via params injection --
	// see internal/kernel, which copies last run's TaskState.LastMetrics
	// into Params["_last_metrics"] before dispatch for stateful
	// handlers like this one.
	raw, ok := def.Params["_last_metrics"].(map[string]any)
	if !ok {
		return "", false
	}
	guid, ok := raw["last_seen_guid"].(string)
	return guid, ok
}
