// Package notifier assembles and dispatches the per-run notifications:
// one consolidated summary card, plus an immediate alert for each failed
// task (spec.md §4.5). Transport failures here are logged, never fatal
// -- the kernel's exit code reflects handler outcomes only (spec.md §7).
package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/cronkeeper/cronkeeper/internal/executor"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Config tunes the Notifier. A zero-value WebhookURL disables transport
// entirely -- card/alert assembly still happens (useful for tests and
// dry-run invocations), but Dispatch becomes a no-op that never errors.
type Config struct {
	WebhookURL    string
	SigningSecret string // optional; see signPayload
	Mention       string
	HTTPClient    *retryablehttp.Client
}

// Notifier builds and sends the consolidated card and per-failure
// alerts for one run.
type Notifier struct {
	cfg Config
	log zerolog.Logger
}

// New returns a Notifier. An empty cfg.HTTPClient is replaced with a
// default retryablehttp.Client (best-effort, a handful of retries,
// short timeout -- this is a best-effort side channel, not a critical
// path per spec.md §4.5).
func New(cfg Config, log zerolog.Logger) *Notifier {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaultHTTPClient()
	}
	return &Notifier{cfg: cfg, log: log}
}

// Mention returns the configured failure-alert mention string.
func (n *Notifier) Mention() string { return n.cfg.Mention }

func defaultHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = nil
	c.HTTPClient.Timeout = 10 * time.Second
	return c
}

// Card is the consolidated summary sent once per run.
type Card struct {
	RunID         string    `json:"run_id"`
	OKCount       int       `json:"ok_count"`
	FailedCount   int       `json:"failed_count"`
	SkippedCount  int       `json:"skipped_count"`
	TotalDuration float64   `json:"total_duration_sec"`
	Rows          []CardRow `json:"rows"`
	Mention       string    `json:"mention,omitempty"`
}

// CardRow is one task's row on the consolidated card.
type CardRow struct {
	TaskID      string  `json:"task_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	Summary     string  `json:"summary"`
	Error       string  `json:"error,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	Provider    string  `json:"provider,omitempty"`
}

// Alert is one immediate per-failure notification.
type Alert struct {
	RunID   string `json:"run_id"`
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Error   string `json:"error"`
	Mention string `json:"mention,omitempty"`
}

// BuildCard assembles the consolidated card from a run's outcomes. Null
// or empty fields are replaced with explicit defaults -- "Untitled",
// "unknown", 0 -- never propagated as nulls into the rendered payload
// (spec.md §4.5).
func BuildCard(runID string, outcomes []executor.TaskOutcome) Card {
	card := Card{RunID: defaultString(runID, "unknown")}

	var total time.Duration
	for _, o := range outcomes {
		total += o.Result.Duration

		switch o.Result.Status {
		case taskdef.StatusOK:
			card.OKCount++
		case taskdef.StatusFailed:
			card.FailedCount++
		case taskdef.StatusSkipped:
			card.SkippedCount++
		}

		title := defaultString(o.Definition.Title, "Untitled")
		summary := defaultString(o.Result.Summary, "unknown")
		card.Rows = append(card.Rows, CardRow{
			TaskID:      defaultString(o.Definition.ID, "unknown"),
			Title:       title,
			Status:      string(o.Result.Status),
			Summary:     taskdef.Truncate(summary),
			Error:       taskdef.Truncate(o.Result.Error),
			DurationSec: o.Result.Duration.Seconds(),
			Provider:    providerFromMetrics(o.Result.Metrics),
		})
	}

	card.TotalDuration = total.Seconds()
	return card
}

// BuildAlerts returns one Alert per task whose outcome is failed (not
// skipped); order matches outcomes' order, which spec.md §4.5 leaves
// unspecified.
func BuildAlerts(runID, mention string, outcomes []executor.TaskOutcome) []Alert {
	var alerts []Alert
	for _, o := range outcomes {
		if o.Result.Status != taskdef.StatusFailed {
			continue
		}
		alerts = append(alerts, Alert{
			RunID:   defaultString(runID, "unknown"),
			TaskID:  defaultString(o.Definition.ID, "unknown"),
			Title:   defaultString(o.Definition.Title, "Untitled"),
			Error:   taskdef.Truncate(defaultString(o.Result.Error, "unknown")),
			Mention: mention,
		})
	}
	return alerts
}

// Dispatch sends every alert, then the consolidated card, returning
// whether every send succeeded. Each transport failure is logged and
// does not block subsequent sends (spec.md §4.5: "A transport error on
// an alert is logged and does not block subsequent alerts nor the
// summary card"); the return value is informational only -- per spec.md
// §7, the kernel's exit code reflects handler outcomes, never notifier
// transport outcomes.
func (n *Notifier) Dispatch(ctx context.Context, card Card, alerts []Alert) bool {
	ok := true
	for _, a := range alerts {
		if err := n.send(ctx, a); err != nil {
			n.log.Warn().Err(err).Str("task_id", a.TaskID).Msg("notifier: failed to send failure alert")
			ok = false
		}
	}
	if err := n.send(ctx, card); err != nil {
		n.log.Warn().Err(err).Str("run_id", card.RunID).Msg("notifier: failed to send summary card")
		ok = false
	}
	return ok
}

func (n *Notifier) send(ctx context.Context, payload any) error {
	if n.cfg.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf(`notifier: marshal payload: %w`, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf(`notifier: build request: %w`, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sig := signPayload(n.cfg.SigningSecret, body); sig != "" {
		req.Header.Set("X-Cronkeeper-Signature", sig)
	}

	resp, err := n.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf(`notifier: post webhook: %w`, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf(`notifier: webhook responded %d`, resp.StatusCode)
	}
	return nil
}

// signPayload returns the hex-encoded HMAC-SHA256 digest of body keyed
// by secret, or "" if secret is empty (signing is optional -- spec.md's
// original scope has no auth requirement on the webhook, this is a pure
// addition per SPEC_FULL.md §4.1).
func signPayload(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// providerFromMetrics extracts a best-effort "provider" extension field
// from handler metrics (spec.md §4.5: "provider-specific extensions
// (e.g., the LLM provider used)"). Absence is not an error -- most
// handlers carry no such field.
func providerFromMetrics(metrics map[string]any) string {
	if metrics == nil {
		return ""
	}
	if v, ok := metrics["provider"].(string); ok {
		return v
	}
	// article handler's metrics carry provider per successful item, not
	// at the top level; surface the first successful item's provider
	// as a representative value for the card row.
	if items, ok := metrics["successful_items"].([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				// in-memory results carry the handler's own item structs;
				// read their "provider" JSON field via a re-encode.
				b, err := json.Marshal(raw)
				if err != nil || json.Unmarshal(b, &item) != nil {
					continue
				}
			}
			if v, ok := item["provider"].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
