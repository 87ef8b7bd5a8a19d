// Command cronkeeper is the CLI entry point (spec.md §6): it loads
// configuration from the environment, runs one batch, and exits 0 iff
// no task ended failed. Notifier transport failures are logged and do
// not change the exit code. It is a thin shim per spec.md §1 -- all real behavior
// lives in internal/kernel and the packages it wires.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pbnjay/memory"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cronkeeper/cronkeeper/internal/config"
	"github.com/cronkeeper/cronkeeper/internal/executor"
	"github.com/cronkeeper/cronkeeper/internal/handlers/article"
	"github.com/cronkeeper/cronkeeper/internal/handlers/heartbeat"
	"github.com/cronkeeper/cronkeeper/internal/handlers/httpcheck"
	"github.com/cronkeeper/cronkeeper/internal/handlers/rsswatch"
	"github.com/cronkeeper/cronkeeper/internal/handlers/trendingwatch"
	"github.com/cronkeeper/cronkeeper/internal/kernel"
	"github.com/cronkeeper/cronkeeper/internal/llmclient"
	"github.com/cronkeeper/cronkeeper/internal/logging"
	"github.com/cronkeeper/cronkeeper/internal/notifier"
	"github.com/cronkeeper/cronkeeper/internal/registry"
	"github.com/cronkeeper/cronkeeper/internal/search"
	"github.com/cronkeeper/cronkeeper/internal/storage"
)

var processStart = time.Now()

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.New(os.Stdout, logging.LevelFromString(os.Getenv("LOG_LEVEL")))

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) { log.Debug().Msgf(format, args...) })); err != nil {
		log.Warn().Err(err).Msg("cronkeeper: failed to set GOMAXPROCS")
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		log.Debug().Err(err).Msg("cronkeeper: no container memory limit detected")
	}
	log.Debug().Uint64("system_memory_bytes", memory.TotalMemory()).Msg("cronkeeper: starting")

	cfg, err := config.Load("config.toml")
	if err != nil {
		log.Error().Err(err).Msg("cronkeeper: failed to load configuration")
		return 1
	}

	store := buildStorage(cfg)
	reg := buildRegistry(cfg)

	k := &kernel.Kernel{
		Storage:  store,
		Registry: reg,
		ExecutorConfig: executor.Config{
			MaxConcurrency: cfg.MaxConcurrency,
			RetryBackoff:   cfg.RetryBackoff,
			TaskTimeout:    cfg.TaskTimeout,
			RunDeadline:    cfg.RunDeadline,
		},
		Notifier: notifier.New(notifier.Config{
			WebhookURL:    cfg.WebhookURL,
			SigningSecret: cfg.WebhookSigningSecret,
			Mention:       cfg.Mention,
		}, log),
		SummaryPath: "last_run_summary.json",
		Log:         log,
	}

	runID := newRunID()
	result, err := k.Run(context.Background(), runID, time.Now())
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("cronkeeper: run failed")
		return 1
	}

	log.Info().
		Str("run_id", runID).
		Int("task_count", len(result.TaskOutcomes)).
		Bool("any_failed", result.AnyFailed).
		Bool("notifier_ok", result.NotifierOK).
		Msg("cronkeeper: run complete")

	if result.AnyFailed {
		return 1
	}
	return 0
}

func buildStorage(cfg config.Config) storage.Storage {
	if cfg.Dynamo.Configured() {
		dyn, err := storage.NewDynamoStorage(cfg.Dynamo)
		if err == nil {
			return dyn
		}
	}
	return storage.NewFileStorage(cfg.DefinitionsFile, cfg.StateFile)
}

func buildRegistry(cfg config.Config) *registry.Registry {
	reg := registry.New()

	searchProvider := search.Provider(search.NoopProvider{})
	if cfg.SearchAPIKey != "" {
		searchProvider = search.NewHTTPProvider(cfg.SearchAPIKey, "")
	}

	factory := llmclient.BuildFactory(
		[]string{cfg.LLMProvider, "groq", "openai", "dry_run"},
		cfg.GroqAPIKey, cfg.GroqModel,
		cfg.OpenAIAPIKey, cfg.OpenAIModel,
	)

	articleHandler := article.New(article.Handler{
		Factory:      factory,
		Search:       searchProvider,
		OutputRoot:   cfg.OutputRoot,
		SearchTopN:   cfg.TopN,
		RetryBackoff: cfg.RetryBackoff,
	})
	reg.Register("article_generation", articleHandler.AsHandler())

	reg.Register("heartbeat", heartbeat.New(processStart).AsHandler())
	reg.Register("http_check", httpcheck.New(cfg.TaskTimeout).AsHandler())
	reg.Register("rss_watch", rsswatch.New(cfg.TaskTimeout).AsHandler())
	reg.Register("trending_watch", trendingwatch.New(searchProvider, cfg.TopN).AsHandler())

	return reg
}

func newRunID() string {
	return fmt.Sprintf("run-%d", time.Now().UnixNano())
}
