// Package llmclient implements the provider factory and exception
// taxonomy for the article generation handler's LLM fallback chain
// (spec.md §4.6). It knows nothing about keywords, articles, or
// rendering -- only "give me a completion for this prompt, or a typed
// error telling the caller whether it's worth retrying or falling
// through to the next provider".
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind tags a provider failure with the taxonomy from spec.md §4.6,
// deciding both retriability and whether the provider chain should fall
// through to the next candidate.
type Kind string

const (
	KindMissingAPIKey     Kind = "missing_api_key"
	KindInsufficientQuota Kind = "quota_exhausted"
	KindRateLimit         Kind = "rate_limit"
	KindTransient         Kind = "transient"
	KindOther             Kind = "other"
)

// Retriable reports whether k should be retried in-worker before the
// chain falls through to the next provider, per spec.md §4.6's table.
func (k Kind) Retriable() bool {
	switch k {
	case KindMissingAPIKey, KindInsufficientQuota:
		return false
	default:
		return true
	}
}

// Error wraps a provider failure with its taxonomy Kind and the
// provider that produced it.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf(`llmclient: %s: %s: %v`, e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether e.Kind should be retried before falling
// through to the next provider.
func (e *Error) Retriable() bool { return e.Kind.Retriable() }

// AsError is a convenience wrapper around errors.As for *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Request is one completion request passed to a Provider.
type Request struct {
	Keyword  string
	Language string
	Context  []string // search-enrichment snippets, may be empty
	Style    string   // optional style hint, empty for the default style
}

// Response is a provider's completion output.
type Response struct {
	Title string
	Body  string
	Model string
}

// Provider is a single LLM backend. Implementations classify every
// failure into an *Error with the correct Kind -- a provider must never
// return a bare, unclassified error, since the factory's fallback
// decision depends entirely on Kind.
type Provider interface {
	// Name identifies the provider for metrics/logging (e.g. "groq").
	Name() string
	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (Response, error)
}

// Factory selects and constructs providers in priority order. It is
// injected into the article handler rather than looked up via a
// package-level registry (spec.md §9's redesign flag on module-level
// lazy imports: tests supply a fake Factory instead of monkey-patching a
// global).
type Factory interface {
	// Providers returns the configured provider chain in priority
	// order. A provider whose required credential is absent is still
	// returned here; calling Complete on it is what raises
	// KindMissingAPIKey, consistent with spec.md §4.6 step 2.
	Providers() []Provider
}

// staticFactory is the default Factory: a fixed, pre-built provider
// slice in priority order.
type staticFactory struct {
	providers []Provider
}

// NewStaticFactory returns a Factory that always returns providers, in
// the given order.
func NewStaticFactory(providers ...Provider) Factory {
	return &staticFactory{providers: providers}
}

func (f *staticFactory) Providers() []Provider { return f.providers }

// Complete runs req through factory's provider chain in order, applying
// the fallback rule from spec.md §4.6 step 2: a provider either
// succeeds, or produces a classified *Error. Non-retriable errors
// (MissingAPIKey, InsufficientQuota) fall through to the next provider
// immediately; retriable errors (RateLimit, Transient) are backed off
// and retried against the same provider, per spec.md §4.6's taxonomy
// table ("backoff-retry within provider; on exhaustion, mark keyword
// failed"), before the chain falls through. backoff is the delay
// sequence between retries (the caller's cfg.RetryBackoff); an empty
// backoff means a single attempt per provider.
func Complete(ctx context.Context, factory Factory, req Request, backoff []time.Duration) (Response, string, error) {
	providers := factory.Providers()
	if len(providers) == 0 {
		return Response{}, "", &Error{Provider: "none", Kind: KindOther, Err: errors.New("no providers configured")}
	}

	var lastErr error
	for _, p := range providers {
		resp, err := completeWithRetry(ctx, p, req, backoff)
		if err == nil {
			return resp, p.Name(), nil
		}
		lastErr = err
	}

	return Response{}, "", lastErr
}

// completeWithRetry calls p.Complete, backing off and retrying in place
// while the classified error is Retriable. Non-retriable errors
// (MissingAPIKey, InsufficientQuota) return on the first attempt so the
// chain can fall through to the next provider without wasting a backoff
// cycle on a credential that will never become valid mid-run.
func completeWithRetry(ctx context.Context, p Provider, req Request, backoff []time.Duration) (Response, error) {
	delays := append([]time.Duration{0}, backoff...)

	var lastErr error
	for attempt, delay := range delays {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Response{}, lastErr
			case <-timer.C:
			}
		}

		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		var classified *Error
		if !errors.As(err, &classified) {
			// a provider that forgot to classify its error is treated
			// as a retriable "other" failure, never silently dropped.
			classified = &Error{Provider: p.Name(), Kind: KindOther, Err: err}
		}
		lastErr = classified
		if !classified.Retriable() {
			return Response{}, lastErr
		}
		// retriable: loop again after the next backoff delay, or fall
		// through to the caller once delays are exhausted.
	}

	return Response{}, lastErr
}
