// Package config builds the immutable Config struct threaded explicitly
// through the kernel (spec.md §9: "global configuration singleton...
// replaced by an immutable configuration record passed to the kernel
// entry point"). Loading from the environment, and the optional TOML
// overlay, is an ambient concern layered on top of that struct -- the
// struct itself is what the rest of this repository depends on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cronkeeper/cronkeeper/internal/storage"
)

// Config is the immutable configuration record, built once at startup
// and never mutated afterward.
type Config struct {
	WebhookURL           string
	WebhookSigningSecret string
	Mention              string
	LLMProvider          string
	GroqAPIKey           string
	GroqModel            string
	OpenAIAPIKey         string
	OpenAIModel          string
	SearchAPIKey         string
	StateFile            string
	DefinitionsFile      string
	MaxConcurrency       int
	RetryBackoff         []time.Duration
	TopN                 int
	TaskTimeout          time.Duration
	RunDeadline          time.Duration
	OutputRoot           string
	Dynamo               storage.DynamoConfig
}

// overlay is the shape of the optional config.toml file: non-secret
// tunables only. Every field here is also settable by environment
// variable, which always takes precedence (spec.md §6's environment
// surface is never narrowed by this addition).
type overlay struct {
	MaxConcurrency int      `toml:"max_concurrency"`
	RetryBackoff   []string `toml:"retry_backoff"`
	TopN           int      `toml:"top_n"`
	TaskTimeout    string   `toml:"task_timeout"`
	RunDeadline    string   `toml:"run_deadline"`
	LLMProvider    string   `toml:"llm_provider"`
}

// defaults mirror spec.md §6's table.
const (
	defaultLLMProvider    = "groq"
	defaultGroqModel      = "llama-3.1-8b-instant"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultStateFile      = "state.json"
	defaultDefinitions    = "tasks.json"
	defaultMaxConcurrency = 5
	defaultTopN           = 3
	defaultTaskTimeout    = 120 * time.Second
	defaultRunDeadline    = 600 * time.Second
	defaultOutputRoot     = "outputs/articles"
)

var defaultRetryBackoff = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}

// Load builds a Config from the process environment, optionally layered
// on top of a config.toml overlay (searched for at overlayPath; a
// missing overlay file is not an error).
func Load(overlayPath string) (Config, error) {
	ov, err := loadOverlay(overlayPath)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		WebhookURL:           os.Getenv("WEBHOOK_URL"),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		Mention:              os.Getenv("MENTION"),
		LLMProvider:          firstNonEmpty(os.Getenv("LLM_PROVIDER"), ov.LLMProvider, defaultLLMProvider),
		GroqAPIKey:           os.Getenv("GROQ_API_KEY"),
		GroqModel:            firstNonEmpty(os.Getenv("GROQ_MODEL"), defaultGroqModel),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          firstNonEmpty(os.Getenv("OPENAI_MODEL"), defaultOpenAIModel),
		SearchAPIKey:         os.Getenv("SEARCH_API_KEY"),
		StateFile:            firstNonEmpty(os.Getenv("STATE_FILE"), defaultStateFile),
		DefinitionsFile:      firstNonEmpty(os.Getenv("DEFINITIONS_FILE"), defaultDefinitions),
		OutputRoot:           firstNonEmpty(os.Getenv("OUTPUT_ROOT"), defaultOutputRoot),
		MaxConcurrency:       intEnvOr("MAX_CONCURRENCY", firstPositiveInt(ov.MaxConcurrency, defaultMaxConcurrency)),
		TopN:                 intEnvOr("TOP_N", firstPositiveInt(ov.TopN, defaultTopN)),
		TaskTimeout:          durationEnvOr("TASK_TIMEOUT", firstDuration(ov.TaskTimeout, defaultTaskTimeout)),
		RunDeadline:          durationEnvOr("RUN_DEADLINE", firstDuration(ov.RunDeadline, defaultRunDeadline)),
		Dynamo: storage.DynamoConfig{
			Region:           os.Getenv("DYNAMO_REGION"),
			DefinitionsTable: os.Getenv("DYNAMO_DEFINITIONS_TABLE"),
			StateTable:       os.Getenv("DYNAMO_STATE_TABLE"),
			Endpoint:         os.Getenv("DYNAMO_ENDPOINT"),
		},
	}

	backoff, err := parseBackoff(os.Getenv("RETRY_BACKOFF"), ov.RetryBackoff)
	if err != nil {
		return Config{}, fmt.Errorf(`config: RETRY_BACKOFF: %w`, err)
	}
	cfg.RetryBackoff = backoff

	return cfg, nil
}

func loadOverlay(path string) (overlay, error) {
	var ov overlay
	if path == "" {
		return ov, nil
	}
	if _, err := os.Stat(path); err != nil {
		return ov, nil // missing overlay is not an error
	}
	if _, err := toml.DecodeFile(path, &ov); err != nil {
		return overlay{}, fmt.Errorf(`config: decode %s: %w`, path, err)
	}
	return ov, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositiveInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func intEnvOr(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func durationEnvOr(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseBackoff(envVal string, overlayVal []string) ([]time.Duration, error) {
	raw := strings.TrimSpace(envVal)
	var parts []string
	switch {
	case raw != "":
		parts = strings.Split(raw, ",")
	case len(overlayVal) > 0:
		parts = overlayVal
	default:
		return defaultRetryBackoff, nil
	}

	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		secs, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf(`invalid backoff component %q: %w`, p, err)
		}
		out = append(out, time.Duration(secs*float64(time.Second)))
	}
	if len(out) == 0 {
		return defaultRetryBackoff, nil
	}
	return out, nil
}
