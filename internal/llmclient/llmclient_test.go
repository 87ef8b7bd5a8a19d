package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	name string
	err  error
	resp Response
}

func (f fakeProvider) Name() string { return f.name }

func (f fakeProvider) Complete(context.Context, Request) (Response, error) {
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
}

// countingProvider behaves like fakeProvider but records how many times
// Complete was invoked, so tests can assert the in-provider retry loop
// actually retried rather than falling through on the first failure.
type countingProvider struct {
	name  string
	err   error
	resp  Response
	calls *int
}

func (c countingProvider) Name() string { return c.name }

func (c countingProvider) Complete(context.Context, Request) (Response, error) {
	if c.calls != nil {
		*c.calls++
	}
	if c.err != nil {
		return Response{}, c.err
	}
	return c.resp, nil
}

func TestComplete(t *testing.T) {
	t.Run("first provider succeeds", func(t *testing.T) {
		factory := NewStaticFactory(
			fakeProvider{name: "groq", resp: Response{Title: "t", Body: "b"}},
			fakeProvider{name: "dry_run", resp: Response{Title: "unused"}},
		)
		resp, provider, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != "groq" || resp.Title != "t" {
			t.Fatalf("got provider=%s resp=%+v", provider, resp)
		}
	})

	t.Run("missing api key falls through to next provider", func(t *testing.T) {
		factory := NewStaticFactory(
			fakeProvider{name: "groq", err: &Error{Provider: "groq", Kind: KindMissingAPIKey, Err: errors.New("no key")}},
			fakeProvider{name: "dry_run", resp: Response{Title: "fallback"}},
		)
		resp, provider, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != "dry_run" || resp.Title != "fallback" {
			t.Fatalf("got provider=%s resp=%+v", provider, resp)
		}
	})

	t.Run("all providers exhausted returns classified error", func(t *testing.T) {
		factory := NewStaticFactory(
			fakeProvider{name: "groq", err: &Error{Provider: "groq", Kind: KindMissingAPIKey, Err: errors.New("no key")}},
		)
		_, _, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		classified, ok := AsError(err)
		if !ok || classified.Kind != KindMissingAPIKey {
			t.Fatalf("got %#v", err)
		}
	})

	t.Run("no providers configured", func(t *testing.T) {
		factory := NewStaticFactory()
		_, _, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("retriable error is backed off and retried before falling through", func(t *testing.T) {
		var groqCalls int
		factory := NewStaticFactory(
			countingProvider{
				name:  "groq",
				err:   &Error{Provider: "groq", Kind: KindRateLimit, Err: errors.New("429")},
				calls: &groqCalls,
			},
			fakeProvider{name: "dry_run", resp: Response{Title: "fallback"}},
		)
		backoff := []time.Duration{time.Millisecond, time.Millisecond}
		resp, provider, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, backoff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != "dry_run" || resp.Title != "fallback" {
			t.Fatalf("got provider=%s resp=%+v", provider, resp)
		}
		if groqCalls != 3 { // 1 initial attempt + 2 backoff retries
			t.Fatalf("groq calls = %d, want 3", groqCalls)
		}
	})

	t.Run("retriable error exhausts backoff and surfaces failed", func(t *testing.T) {
		var calls int
		factory := NewStaticFactory(
			countingProvider{
				name:  "groq",
				err:   &Error{Provider: "groq", Kind: KindTransient, Err: errors.New("503")},
				calls: &calls,
			},
		)
		backoff := []time.Duration{time.Millisecond}
		_, _, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, backoff)
		if err == nil {
			t.Fatal("expected error")
		}
		classified, ok := AsError(err)
		if !ok || classified.Kind != KindTransient {
			t.Fatalf("got %#v", err)
		}
		if calls != 2 { // 1 initial attempt + 1 backoff retry, then exhausted
			t.Fatalf("calls = %d, want 2", calls)
		}
	})

	t.Run("non-retriable error skips retry entirely", func(t *testing.T) {
		var calls int
		factory := NewStaticFactory(
			countingProvider{
				name:  "groq",
				err:   &Error{Provider: "groq", Kind: KindMissingAPIKey, Err: errors.New("no key")},
				calls: &calls,
			},
			fakeProvider{name: "dry_run", resp: Response{Title: "fallback"}},
		)
		backoff := []time.Duration{time.Second, time.Second} // would time out the test if actually slept
		resp, provider, err := Complete(context.Background(), factory, Request{Keyword: "ai"}, backoff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if provider != "dry_run" || resp.Title != "fallback" {
			t.Fatalf("got provider=%s resp=%+v", provider, resp)
		}
		if calls != 1 {
			t.Fatalf("groq calls = %d, want 1 (non-retriable must not retry)", calls)
		}
	})
}

func TestKindRetriable(t *testing.T) {
	cases := map[Kind]bool{
		KindMissingAPIKey:     false,
		KindInsufficientQuota: false,
		KindRateLimit:         true,
		KindTransient:         true,
		KindOther:             true,
	}
	for kind, want := range cases {
		if got := kind.Retriable(); got != want {
			t.Errorf("%s.Retriable() = %v, want %v", kind, got, want)
		}
	}
}

func TestBuildFactory(t *testing.T) {
	factory := BuildFactory([]string{"groq", "dry_run"}, "", "model", "", "model")
	providers := factory.Providers()
	if len(providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(providers))
	}
	if providers[0].Name() != "groq" || providers[1].Name() != "dry_run" {
		t.Fatalf("unexpected order: %v, %v", providers[0].Name(), providers[1].Name())
	}
}
