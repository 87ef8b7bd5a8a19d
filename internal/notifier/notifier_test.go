package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cronkeeper/cronkeeper/internal/executor"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

func TestBuildCard(t *testing.T) {
	outcomes := []executor.TaskOutcome{
		{
			Definition: taskdef.TaskDefinition{ID: "a", Title: "Task A"},
			Result:     taskdef.TaskResult{Status: taskdef.StatusOK, Summary: "fine", Duration: time.Second},
		},
		{
			Definition: taskdef.TaskDefinition{ID: "b"},
			Result:     taskdef.TaskResult{Status: taskdef.StatusFailed, Error: "boom", Duration: 2 * time.Second},
		},
	}

	card := BuildCard("run-1", outcomes)
	if card.OKCount != 1 || card.FailedCount != 1 || card.SkippedCount != 0 {
		t.Fatalf("got counts ok=%d failed=%d skipped=%d", card.OKCount, card.FailedCount, card.SkippedCount)
	}
	if card.TotalDuration != 3 {
		t.Fatalf("got total duration %v", card.TotalDuration)
	}
	if card.Rows[1].Title != "Untitled" {
		t.Fatalf("expected null title to default to Untitled, got %q", card.Rows[1].Title)
	}
}

func TestBuildAlerts(t *testing.T) {
	outcomes := []executor.TaskOutcome{
		{Definition: taskdef.TaskDefinition{ID: "a"}, Result: taskdef.TaskResult{Status: taskdef.StatusOK}},
		{Definition: taskdef.TaskDefinition{ID: "b"}, Result: taskdef.TaskResult{Status: taskdef.StatusFailed, Error: "boom"}},
		{Definition: taskdef.TaskDefinition{ID: "c"}, Result: taskdef.TaskResult{Status: taskdef.StatusSkipped}},
	}

	alerts := BuildAlerts("run-1", "@oncall", outcomes)
	if len(alerts) != 1 || alerts[0].TaskID != "b" {
		t.Fatalf("got %+v", alerts)
	}
	if alerts[0].Mention != "@oncall" {
		t.Fatalf("got mention %q", alerts[0].Mention)
	}
}

func TestDispatchPostsSignedPayload(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Cronkeeper-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{WebhookURL: srv.URL, SigningSecret: "shh"}, zerolog.Nop())
	card := BuildCard("run-1", nil)
	n.Dispatch(context.Background(), card, nil)

	if gotSig == "" {
		t.Fatal("expected a signature header to be set")
	}
}

func TestDispatchWithoutWebhookURLIsNoop(t *testing.T) {
	n := New(Config{}, zerolog.Nop())
	n.Dispatch(context.Background(), BuildCard("run-1", nil), nil)
}
