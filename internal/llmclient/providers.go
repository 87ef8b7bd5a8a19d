package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// httpProvider implements Provider against an OpenAI-compatible chat
// completions endpoint -- both groq and openai expose this shape, so one
// struct parameterized by base URL/model covers both (spec.md §4.6
// treats them as interchangeable candidates in the priority chain).
type httpProvider struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  *retryablehttp.Client
}

// NewGroqProvider returns a Provider for Groq's chat completions API.
// An empty apiKey is not rejected here: MissingAPIKey is raised lazily,
// on Complete, per spec.md §4.6 step 2 ("if the credential is present,
// attempt the call").
func NewGroqProvider(apiKey, model string) Provider {
	return &httpProvider{
		name:    "groq",
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.groq.com/openai/v1/chat/completions",
		client:  newHTTPClient(),
	}
}

// NewOpenAIProvider returns a Provider for OpenAI's chat completions API.
func NewOpenAIProvider(apiKey, model string) Provider {
	return &httpProvider{
		name:    "openai",
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1/chat/completions",
		client:  newHTTPClient(),
	}
}

func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0 // Complete's own backoff loop owns retries, not this transport
	c.Logger = nil
	c.HTTPClient.Timeout = 60 * time.Second
	return c
}

func (p *httpProvider) Name() string { return p.name }

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *httpProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, &Error{Provider: p.name, Kind: KindMissingAPIKey, Err: fmt.Errorf("%s: no API key configured", p.name)}
	}

	prompt := buildPrompt(req)
	body, err := json.Marshal(chatCompletionRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write publish-ready articles. Respond with the article title on the first line, then the markdown body."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Response{}, &Error{Provider: p.name, Kind: KindOther, Err: err}
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Provider: p.name, Kind: KindOther, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, &Error{Provider: p.name, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Provider: p.name, Kind: KindTransient, Err: err}
	}

	if kind, ok := classifyStatus(resp.StatusCode); !ok {
		return Response{}, &Error{Provider: p.name, Kind: kind, Err: fmt.Errorf("%s: http %d: %s", p.name, resp.StatusCode, truncateForError(respBody))}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, &Error{Provider: p.name, Kind: KindTransient, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &Error{Provider: p.name, Kind: KindTransient, Err: fmt.Errorf("%s: empty choices", p.name)}
	}

	title, bodyText := splitTitleAndBody(parsed.Choices[0].Message.Content, req.Keyword)
	return Response{Title: title, Body: bodyText, Model: p.model}, nil
}

// classifyStatus maps an HTTP status to a Kind; ok is false for any
// status outside the 2xx range.
func classifyStatus(status int) (Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", true
	case status == http.StatusTooManyRequests:
		return KindRateLimit, false
	case status == http.StatusPaymentRequired, status == http.StatusForbidden:
		return KindInsufficientQuota, false
	case status >= 500:
		return KindTransient, false
	default:
		return KindOther, false
	}
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an article about %q in %s.", req.Keyword, req.Language)
	if req.Style != "" {
		fmt.Fprintf(&b, " Style: %s.", req.Style)
	}
	if len(req.Context) > 0 {
		b.WriteString(" Background notes:\n")
		for _, snippet := range req.Context {
			b.WriteString("- ")
			b.WriteString(snippet)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func splitTitleAndBody(content, fallbackKeyword string) (title, body string) {
	content = strings.TrimSpace(content)
	lines := strings.SplitN(content, "\n", 2)
	title = strings.TrimSpace(strings.TrimPrefix(lines[0], "# "))
	if title == "" {
		title = fallbackKeyword
	}
	if len(lines) > 1 {
		body = strings.TrimSpace(lines[1])
	}
	if body == "" {
		body = content
	}
	return title, body
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func truncateForError(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}

// dryRunProvider is the last-resort provider in the default chain
// (spec.md §4.6: default priority order "groq, openai, dry_run"). It
// never fails and requires no credential, guaranteeing the chain always
// terminates in a usable result -- used by tests and by operators
// running without any configured LLM credentials.
type dryRunProvider struct{}

// NewDryRunProvider returns a Provider that fabricates deterministic
// content without calling any external service.
func NewDryRunProvider() Provider { return dryRunProvider{} }

func (dryRunProvider) Name() string { return "dry_run" }

func (dryRunProvider) Complete(_ context.Context, req Request) (Response, error) {
	title := fmt.Sprintf("About %s", capitalize(req.Keyword))
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "This is a placeholder article about **%s**, generated in dry-run mode.\n\n", req.Keyword)
	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s.\n\n", req.Style)
	}
	for _, snippet := range req.Context {
		fmt.Fprintf(&b, "- %s\n", snippet)
	}
	return Response{Title: title, Body: b.String(), Model: "dry_run"}, nil
}
