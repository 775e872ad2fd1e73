package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rendis/docflow/internal/compiler"
	"github.com/rendis/docflow/internal/engine"
	"github.com/rendis/docflow/internal/expressions"
	"github.com/rendis/docflow/internal/failures"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/internal/settings"
	"github.com/rendis/docflow/internal/store"
	"github.com/rendis/docflow/internal/telemetry"
	"github.com/rendis/docflow/internal/validation"
	"github.com/rendis/docflow/internal/worker"
)

// core is the queue-independent part of the worker.
type core struct {
	cfg       *Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *telemetry.Metrics
	blobs     store.BlobStore
	settings  *settings.Client
	redis     *settings.RedisStore // nil unless settings_cache is redis
	loader    *compiler.Loader
	workflows *compiler.Cache
	processor *worker.Processor

	closers []io.Closer
}

func (c *core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	return errors.Join(errs...)
}

// engines are the expression engines shared by validation, compilation
// and routing.
type engines struct {
	conditions *expressions.CELEngine
	templates  *expressions.ExprEngine
	filters    *expressions.GoJQEngine
}

func newValidator() (*validation.WorkflowValidator, *engines, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, nil, fmt.Errorf("create condition engine: %w", err)
	}
	e := &engines{conditions: cel, templates: expressions.NewExprEngine(), filters: expressions.NewGoJQEngine()}
	v, err := validation.NewWorkflowValidator(validation.Checkers{
		Conditions: e.conditions,
		Templates:  e.templates,
		Filters:    e.filters,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create workflow validator: %w", err)
	}
	return v, e, nil
}

// buildCore wires storage, settings, compilation and the processor. Every
// workflow must load and validate before the worker starts.
func buildCore(ctx context.Context, cfg *Config, logger *slog.Logger) (*core, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &core{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewMetrics(c.registry)
	if err != nil {
		return nil, err
	}
	c.metrics = metrics

	validator, exprs, err := newValidator()
	if err != nil {
		return nil, err
	}
	c.loader = compiler.NewLoader(cfg.WorkflowsDir, validator)
	if _, err := c.loader.LoadAll(); err != nil {
		return nil, err
	}
	logger.Info("workflows loaded", "dir", cfg.WorkflowsDir, "workflows", c.loader.Names())

	if cfg.BlobDBPath != "" {
		libsql, err := store.NewLibSQLStore(cfg.BlobDBPath)
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		c.blobs = libsql
	} else {
		c.blobs = store.NewMemoryStore()
	}
	c.closers = append(c.closers, c.blobs)

	var responses settings.ResponseStore = settings.NewMemoryStore(0)
	if cfg.SettingsCache == "redis" {
		redisStore, err := settings.NewRedisStoreFromURL(ctx, cfg.RedisURL, settings.WithRedisLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect settings cache: %w", err)
		}
		c.closers = append(c.closers, redisStore)
		c.redis = redisStore
		responses = redisStore
	}
	c.settings, err = settings.NewClient(cfg.SettingsServiceURL,
		settings.WithTimeout(cfg.SettingsHTTPTimeout),
		settings.WithResponseStore(responses),
		settings.WithMetrics(metrics),
		settings.WithLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, err
	}

	ttl, _ := cfg.cacheTTL()
	opts := []compiler.Option{
		compiler.WithValidator(validator),
		compiler.WithExpressions(exprs.conditions, exprs.templates),
		compiler.WithMetrics(metrics),
		compiler.WithLogger(logger),
	}
	if history, ok := c.blobs.(store.CompilationLog); ok {
		opts = append(opts, compiler.WithCompilationLog(history))
	}
	c.workflows = compiler.NewCache(compiler.New(c.loader, c.blobs, opts...), ttl)

	c.processor = worker.NewProcessor(worker.Deps{
		Workflows:  c.workflows,
		Settings:   settings.NewResolver(c.settings, nil, logger),
		Engine:     engine.New(exprs.conditions, exprs.templates, engine.WithMetrics(metrics), engine.WithLogger(logger)),
		Reconciler: failures.NewReconciler(failures.WithMetrics(metrics), failures.WithLogger(logger)),
		Fields:     failures.NewFieldsManager(logger),
		Filter:     exprs.filters,
		Metrics:    metrics,
		Logger:     logger,
	}, worker.Config{
		WorkerName:    cfg.WorkerName,
		WorkerVersion: cfg.WorkerVersion,
		WarningFilter: cfg.WarningFilter,
	})
	return c, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return logging.NewLogger(w, cfg.LogLevel, cfg.LogFormat)
}
