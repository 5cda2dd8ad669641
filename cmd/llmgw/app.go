package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/cache"
	"github.com/fyrsmithlabs/llmgw/internal/config"
	"github.com/fyrsmithlabs/llmgw/internal/gateway"
	"github.com/fyrsmithlabs/llmgw/internal/logging"
	"github.com/fyrsmithlabs/llmgw/internal/pipeline"
	"github.com/fyrsmithlabs/llmgw/internal/prefilter"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
	"github.com/fyrsmithlabs/llmgw/internal/resilience"
	"github.com/fyrsmithlabs/llmgw/internal/secrets"
	"github.com/fyrsmithlabs/llmgw/internal/session"
	"github.com/fyrsmithlabs/llmgw/internal/telemetry"
)

// app holds every initialized component.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *provider.Registry
	executor  *resilience.Executor
	sessions  *session.Manager
	store     cache.Store
	sources   *prefilter.Registry
	gateway   *gateway.Gateway
}

// newApp wires the gateway from configuration. Logs go to logOut.
//
// Initialization order:
//  1. Logger and telemetry
//  2. Provider adapters and per-provider limits
//  3. Cache store, secret scrubber and source registry
//  4. Session manager, pipeline and gateway
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLoggerWithWriter(logCfg, logOut, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	a.registry, a.executor, err = buildProviders(cfg, zl.Named("resilience"))
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.store, err = buildStore(ctx, cfg.Cache, cfg.Pipeline)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	scrubber, err := buildScrubber(cfg.Secrets)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.Pipeline.RegistryPath != "" {
		a.sources, err = prefilter.LoadRegistry(cfg.Pipeline.RegistryPath)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to load source registry: %w", err)
		}
	}

	ranker := prefilter.New(prefilter.Config{
		TopK:                cfg.Prefilter.TopK,
		TierWeight:          cfg.Prefilter.TierWeight,
		ConceptWeight:       cfg.Prefilter.ConceptWeight,
		Saturation:          cfg.Prefilter.Saturation,
		MaxCapitalizedTerms: cfg.Prefilter.MaxCapitalizedTerms,
	})
	metrics, err := pipeline.NewMetrics(tel.Meter(pipeline.InstrumentationName))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	a.sessions = session.NewManager(session.Config{
		IdleTTL:       cfg.Session.IdleTTL.Duration(),
		SweepInterval: cfg.Session.SweepInterval.Duration(),
		TombstoneTTL:  cfg.Session.TombstoneTTL.Duration(),
	}, zl.Named("session"))

	orch, err := pipeline.New(pipeline.Config{
		ConstraintLadder:     cfg.Pipeline.ConstraintLadder,
		MaxSelectionAttempts: cfg.Pipeline.MaxSelectionAttempts,
		MaxInputChars:        cfg.Pipeline.MaxInputChars,
		SelectionTTL:         cfg.Pipeline.SelectionTTL.Duration(),
		EnhancementTTL:       cfg.Pipeline.EnhancementTTL.Duration(),
	}, pipeline.Deps{
		Registry:  a.registry,
		Executor:  a.executor,
		Sessions:  a.sessions,
		Prefilter: ranker,
		Cache:     cache.New(a.store, zl.Named("cache")),
		Scrubber:  scrubber,
		Logger:    zl.Named("pipeline"),
		Metrics:   metrics,
		Tracer:    tel.Tracer(pipeline.InstrumentationName),
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	a.gateway, err = gateway.New(gateway.Config{
		DispatchTimeout: cfg.Dispatch.Timeout.Duration(),
		DefaultProvider: cfg.DefaultProvider,
	}, gateway.Deps{
		Registry: a.registry,
		Executor: a.executor,
		Sessions: a.sessions,
		Pipeline: orch,
		Sources:  a.sources,
		Logger:   zl.Named("gateway"),
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	zl.Info("gateway initialized",
		zap.Strings("providers", a.registry.Names()),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Bool("secrets_scrubbing", scrubber.Enabled()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)
	return a, nil
}

// buildProviders creates one adapter per configured provider and installs
// its rate limits.
func buildProviders(cfg *config.Config, logger *zap.Logger) (*provider.Registry, *resilience.Executor, error) {
	defaults := resilience.Limits{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		TokensPerMinute:   cfg.RateLimit.TokensPerMinute,
		MaxWait:           cfg.RateLimit.MaxWait.Duration(),
		RequestTimeout:    cfg.RateLimit.RequestTimeout.Duration(),
	}
	executor := resilience.NewExecutor(resilience.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
		MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
		Multiplier:     cfg.Retry.Multiplier,
		Jitter:         cfg.Retry.Jitter,
	}, defaults, logger)

	registry := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		adapter, err := provider.New(pc.Type, provider.Options{
			Name:         name,
			APIKey:       pc.APIKey.Value(),
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if err := registry.Register(adapter, provider.ModelParams{
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		}); err != nil {
			return nil, nil, err
		}

		limits := defaults
		if pc.RequestsPerMinute > 0 {
			limits.RequestsPerMinute = pc.RequestsPerMinute
		}
		if pc.TokensPerMinute > 0 {
			limits.TokensPerMinute = pc.TokensPerMinute
		}
		executor.SetLimits(name, limits)
	}
	return registry, executor, nil
}

func buildStore(ctx context.Context, cfg config.CacheConfig, pc config.PipelineConfig) (cache.Store, error) {
	switch cfg.Driver {
	case "none":
		return cache.NopStore{}, nil
	case "redis":
		store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			URL:       cfg.Redis.URL,
			Password:  cfg.Redis.Password.Value(),
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, nil
	default:
		return cache.NewMemoryStore(pc.SelectionTTL.Duration(), cfg.CleanupInterval.Duration()), nil
	}
}

func buildScrubber(cfg config.SecretsConfig) (secrets.Scrubber, error) {
	if !cfg.Enabled {
		return secrets.Nop{}, nil
	}
	sc := secrets.DefaultConfig()
	if cfg.Engine != "" {
		sc.Engine = cfg.Engine
	}
	if cfg.Redaction != "" {
		sc.Redaction = cfg.Redaction
	}
	sc.AllowList = cfg.AllowList
	scrubber, err := secrets.New(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}
	return scrubber, nil
}

// Close releases resources in reverse initialization order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync
	}
	return errors.Join(errs...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
