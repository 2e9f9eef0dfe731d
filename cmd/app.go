package cmd

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/slackreports/internal/config"
	"github.com/slackreports/internal/fetcher"
	"github.com/slackreports/internal/logging"
	"github.com/slackreports/internal/retry"
	"github.com/slackreports/internal/slack"
	"github.com/slackreports/internal/summary"
	"github.com/slackreports/internal/tasks"
)

// setup loads and validates the configuration, configures logging and
// Sentry. The returned func flushes Sentry and must be deferred.
func setup(c *cli.Context, needQueue bool) (*config.Config, func(), error) {
	if envFile := c.String("env-file"); envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	validate := config.Validate
	if needQueue {
		validate = config.ValidateQueue
	}
	if err := validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Log.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	logging.Setup(level, cfg.Log.Pretty)

	flush := func() {}
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "slackreports@" + c.App.Version,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("sentry.Init: %w", err)
		}
		flush = func() { sentry.Flush(2 * time.Second) }
		log.Debug().Str("environment", cfg.Sentry.Environment).Msg("Sentry enabled")
	}

	return cfg, flush, nil
}

// upstreamRetry is the rate-limit retry policy shared by fetching and profile lookups
func upstreamRetry(cfg *config.Config) retry.RetryConfig {
	rc := retry.RateLimitConfig(slack.IsRateLimited)
	if cfg.Fetch.RetryMaxElapsed > 0 {
		rc.MaxElapsedTime = cfg.Fetch.RetryMaxElapsed
	}
	if cfg.Fetch.RetryBaseDelay > 0 {
		rc.BaseDelay = cfg.Fetch.RetryBaseDelay
	}
	rc.MaxDelay = cfg.Fetch.RetryMaxDelay
	return rc
}

// newRunner wires the upstream client, fetcher, resolver and summarizer
func newRunner(cfg *config.Config) *tasks.Runner {
	client := slack.New(slack.Config{
		Token:             cfg.Slack.Token,
		APIURL:            cfg.Slack.APIURL,
		RequestsPerMinute: cfg.Slack.RequestsPerMinute,
	})

	rc := upstreamRetry(cfg)
	f := fetcher.New(client, cfg.Slack.Home,
		fetcher.WithPageSize(cfg.Fetch.PageSize),
		fetcher.WithRetry(rc),
	)

	summarizer := summary.New(summary.Options{
		DefaultProvider: summary.Provider(cfg.LLM.Provider),
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
	})

	runner := tasks.NewRunner(f, f, client, summarizer)
	runner.ChunkDays = cfg.Fetch.ChunkDays
	runner.ResolverRetry = rc
	return runner
}
