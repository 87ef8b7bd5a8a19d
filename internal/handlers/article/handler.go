// Package article implements the article generation handler exemplar
// (spec.md §4.6): a multi-provider LLM pipeline with search enrichment,
// provider fallback, per-keyword partial success, artifact
// materialization, and a dual-status (success/skipped/failed) contract.
package article

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/cronkeeper/cronkeeper/internal/llmclient"
	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/search"
	"github.com/cronkeeper/cronkeeper/internal/taskdef"
)

// Clock abstracts "now" for testability (the handler writes dated
// directories and created_at timestamps); production callers pass
// time.Now.
type Clock func() time.Time

// Handler is the injected-dependency article generation pipeline
// (spec.md §9: "the article handler's provider factory is an injected
// value, not a looked-up symbol; tests supply a fake factory").
type Handler struct {
	Factory      llmclient.Factory
	Search       search.Provider
	OutputRoot   string
	SearchTopN   int
	Now          Clock
	RetryBackoff []time.Duration // in-provider backoff sequence, shared with cfg.RetryBackoff
}

// New returns a Handler with production defaults filled in for any zero
// fields (Search defaults to search.NoopProvider, Now to time.Now).
func New(h Handler) *Handler {
	if h.Search == nil {
		h.Search = search.NoopProvider{}
	}
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.SearchTopN <= 0 {
		h.SearchTopN = 3
	}
	if len(h.RetryBackoff) == 0 {
		h.RetryBackoff = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}
	}
	return &h
}

// AsHandler adapts h into a registry.Handler for registration.
func (h *Handler) AsHandler() registry.Handler {
	return func(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
		return h.Run(ctx, def)
	}
}

type itemOutcome struct {
	keyword string
	style   string
	success *successItem
	failed  *failedItem
	skipped *skippedItem
}

type successItem struct {
	Title     string `json:"title"`
	Path      string `json:"path"`
	WordCount int    `json:"word_count"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	CoverPath string `json:"cover_path,omitempty"`
	CoverMode string `json:"cover_mode,omitempty"`
}

type failedItem struct {
	Keyword string `json:"keyword"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type skippedItem struct {
	Keyword string `json:"keyword"`
	Reason  string `json:"reason"`
}

// articleMetadata is the JSON sidecar written alongside each article's
// markdown body (spec.md §4.6).
type articleMetadata struct {
	Title     string   `json:"title"`
	Keyword   string   `json:"keyword"`
	Language  string   `json:"language"`
	WordCount int      `json:"word_count"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Sources   []string `json:"sources"`
	CreatedAt string   `json:"created_at"`
	CoverPath string   `json:"cover_path,omitempty"`
	CoverMode string   `json:"cover_mode,omitempty"`
}

// Run executes the full per-keyword pipeline and aggregates outcomes
// into a single TaskResult, per spec.md §4.6.
func (h *Handler) Run(ctx context.Context, def taskdef.TaskDefinition) taskdef.TaskResult {
	start := h.Now()

	params, err := ParseParams(def.Params)
	if err != nil {
		return taskdef.TaskResult{Status: taskdef.StatusFailed, Error: err.Error(), Duration: h.Now().Sub(start)}
	}

	dateDir := start.UTC().Format("2006-01-02")
	outputDir := filepath.Join(h.OutputRoot, dateDir)

	usedSlugs := make(map[string]bool)
	var outcomes []itemOutcome

	for _, keyword := range params.Keywords {
		results := h.fetchContext(ctx, keyword)

		for _, style := range params.Styles {
			outcomes = append(outcomes, h.runOne(ctx, keyword, style, params.Language, results, outputDir, usedSlugs, start))
		}
	}

	return aggregate(outcomes, start, h.Now())
}

func (h *Handler) fetchContext(ctx context.Context, keyword string) []search.Result {
	results, err := h.Search.Search(ctx, keyword, h.SearchTopN)
	if err != nil {
		return nil
	}
	return results
}

func (h *Handler) runOne(ctx context.Context, keyword, style, language string, results []search.Result, outputDir string, usedSlugs map[string]bool, now time.Time) itemOutcome {
	snippets := snippetTexts(results)

	resp, providerName, err := llmclient.Complete(ctx, h.Factory, llmclient.Request{
		Keyword:  keyword,
		Language: language,
		Context:  snippets,
		Style:    style,
	}, h.RetryBackoff)
	if err != nil {
		return classifyKeywordError(keyword, err)
	}

	if !validMarkdown(resp.Body) {
		return itemOutcome{keyword: keyword, style: style, failed: &failedItem{
			Keyword: keyword, Kind: string(llmclient.KindOther), Message: "rendered body failed markdown validation",
		}}
	}

	slug := DisambiguateSlug(Slugify(resp.Title), usedSlugs)
	mdPath := filepath.Join(outputDir, slug+".md")
	jsonPath := filepath.Join(outputDir, slug+".json")
	coverPath := filepath.Join(outputDir, slug+"-cover.png")

	cover := CoverImage(ctx, h.Search, &Material{Sources: sourceURLs(results)}, coverPath)

	wordCount := WordCount(language, resp.Body)
	meta := articleMetadata{
		Title:     resp.Title,
		Keyword:   keyword,
		Language:  language,
		WordCount: wordCount,
		Provider:  providerName,
		Model:     resp.Model,
		Sources:   snippets,
		CreatedAt: now.UTC().Format(time.RFC3339),
		CoverPath: cover.Path,
		CoverMode: string(cover.Mode),
	}

	if err := writeArticle(mdPath, jsonPath, resp.Body, meta); err != nil {
		return itemOutcome{keyword: keyword, style: style, failed: &failedItem{
			Keyword: keyword, Kind: string(llmclient.KindOther), Message: err.Error(),
		}}
	}

	return itemOutcome{keyword: keyword, style: style, success: &successItem{
		Title: resp.Title, Path: mdPath, WordCount: wordCount, Provider: providerName, Model: resp.Model,
		CoverPath: cover.Path, CoverMode: string(cover.Mode),
	}}
}

func snippetTexts(results []search.Result) []string {
	if len(results) == 0 {
		return nil
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Snippet)
	}
	return out
}

// sourceURLs extracts candidate source URLs for the cover-image
// sub-step. A keyword with no search results yields a nil slice, which
// CoverImage treats as "no hints" (attempts no real lookup, falls back
// to a placeholder) rather than the explicit-skip case reserved for a
// caller-supplied empty slice.
func sourceURLs(results []search.Result) []string {
	if len(results) == 0 {
		return nil
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.URL != "" {
			out = append(out, r.URL)
		}
	}
	return out
}

// classifyKeywordError maps a fallback-exhausted llmclient error into
// the keyword-level outcome per spec.md §4.6's exception taxonomy
// table.
func classifyKeywordError(keyword string, err error) itemOutcome {
	classified, ok := llmclient.AsError(err)
	if !ok {
		return itemOutcome{keyword: keyword, failed: &failedItem{Keyword: keyword, Kind: string(llmclient.KindOther), Message: err.Error()}}
	}

	switch classified.Kind {
	case llmclient.KindMissingAPIKey:
		return itemOutcome{keyword: keyword, skipped: &skippedItem{Keyword: keyword, Reason: "missing_api_key"}}
	case llmclient.KindInsufficientQuota:
		return itemOutcome{keyword: keyword, skipped: &skippedItem{Keyword: keyword, Reason: "quota_exhausted"}}
	default:
		return itemOutcome{keyword: keyword, failed: &failedItem{Keyword: keyword, Kind: string(classified.Kind), Message: classified.Error()}}
	}
}

func validMarkdown(body string) bool {
	var buf strings.Builder
	return goldmark.Convert([]byte(body), &buf) == nil
}

func writeArticle(mdPath, jsonPath, body string, meta articleMetadata) error {
	if err := os.MkdirAll(filepath.Dir(mdPath), 0o755); err != nil {
		return fmt.Errorf(`article: create output dir: %w`, err)
	}
	if err := os.WriteFile(mdPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf(`article: write markdown: %w`, err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf(`article: marshal metadata: %w`, err)
	}
	if err := os.WriteFile(jsonPath, append(metaBytes, '\n'), 0o644); err != nil {
		return fmt.Errorf(`article: write metadata: %w`, err)
	}
	return nil
}

// aggregate folds per-keyword outcomes into the task-level TaskResult,
// per spec.md §4.6's aggregation rule and DESIGN.md's tie-break decision
// (any retriable-exhausted failure forces task-level failed; an
// all-skipped result is skipped).
func aggregate(outcomes []itemOutcome, start, end time.Time) taskdef.TaskResult {
	var successes []successItem
	var failures []failedItem
	var skips []skippedItem

	for _, o := range outcomes {
		switch {
		case o.success != nil:
			successes = append(successes, *o.success)
		case o.failed != nil:
			failures = append(failures, *o.failed)
		case o.skipped != nil:
			skips = append(skips, *o.skipped)
		}
	}

	status := taskdef.StatusFailed
	switch {
	case len(successes) > 0:
		status = taskdef.StatusOK
	case len(failures) == 0 && len(skips) > 0:
		status = taskdef.StatusSkipped
	case len(failures) > 0:
		status = taskdef.StatusFailed
	default:
		// no keywords produced any outcome at all (empty catalog edge
		// case); treat as skipped rather than a spurious failure.
		status = taskdef.StatusSkipped
	}

	summary := fmt.Sprintf("%d ok, %d failed, %d skipped in %.1fs", len(successes), len(failures), len(skips), end.Sub(start).Seconds())

	var errSummary string
	if len(failures) > 0 {
		msgs := make([]string, 0, len(failures))
		for _, f := range failures {
			msgs = append(msgs, f.Keyword+": "+f.Message)
		}
		errSummary = strings.Join(msgs, "; ")
	}

	metrics := map[string]any{
		"successful_items": toAnySlice(successes),
		"failed_items":     toAnySlice(failures),
		"skipped_items":    toAnySlice(skips),
	}

	return taskdef.TaskResult{
		Status:    status,
		Summary:   summary,
		Error:     errSummary,
		Retriable: status == taskdef.StatusFailed,
		Metrics:   metrics,
		Duration:  end.Sub(start),
	}
}

func toAnySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
