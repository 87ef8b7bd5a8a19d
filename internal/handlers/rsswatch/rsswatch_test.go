package rsswatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

const sampleRSS = `<?xml version="1.0"?>
<rss><channel>
<item><guid>3</guid><title>Three</title></item>
<item><guid>2</guid><title>Two</title></item>
<item><guid>1</guid><title>One</title></item>
</channel></rss>`

func TestHandler_Run_FirstObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	h := New(5 * time.Second)
	result := h.Run(context.Background(), taskdef.TaskDefinition{
		ID:     "rss",
		Params: map[string]any{"url": srv.URL},
	})

	if result.Status != taskdef.StatusOK {
		t.Fatalf("status = %v, error = %q", result.Status, result.Error)
	}
	if result.Metrics["new_items"] != 3 {
		t.Fatalf("got new_items=%v, want 3", result.Metrics["new_items"])
	}
	if result.Metrics["last_seen_guid"] != "3" {
		t.Fatalf("got last_seen_guid=%v, want 3", result.Metrics["last_seen_guid"])
	}
}

func TestHandler_Run_DiffsAgainstLastSeen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	h := New(5 * time.Second)
	result := h.Run(context.Background(), taskdef.TaskDefinition{
		ID: "rss",
		Params: map[string]any{
			"url":            srv.URL,
			"_last_metrics": map[string]any{"last_seen_guid": "2"},
		},
	})

	if result.Status != taskdef.StatusOK {
		t.Fatalf("status = %v, error = %q", result.Status, result.Error)
	}
	if result.Metrics["new_items"] != 1 {
		t.Fatalf("got new_items=%v, want 1", result.Metrics["new_items"])
	}
}

func TestHandler_Run_MissingURL(t *testing.T) {
	h := New(time.Second)
	result := h.Run(context.Background(), taskdef.TaskDefinition{ID: "rss", Params: map[string]any{}})
	if result.Status != taskdef.StatusFailed {
		t.Fatalf("status = %v, want failed", result.Status)
	}
}
