package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/docflow/internal/health"
	"github.com/rendis/docflow/internal/mq"
	"github.com/rendis/docflow/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(cfgFn func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume documents from the input queue and route them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cfgFn()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg, os.Stderr)

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("closing resources", "error", err)
		}
	}()

	conn, err := mq.Dial(cfg.AMQPURL, logger)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	topology := mq.Topology{Input: cfg.InputQueue, Output: cfg.OutputQueue, Failure: cfg.FailureQueue}
	if err := topology.Declare(conn); err != nil {
		return err
	}

	pool := worker.NewPool(cfg.Threads, logger)
	host := worker.NewHost(c.processor, mq.NewPublisher(conn, logger),
		worker.Queues{Output: cfg.OutputQueue, Failure: cfg.FailureQueue}, logger)
	consumer := mq.NewConsumer(conn, mq.ConsumerConfig{
		Queue:      cfg.InputQueue,
		Handler:    host.Handle,
		Prefetch:   cfg.Prefetch,
		Dispatcher: pool,
	}, logger)

	monitor, err := health.NewMonitor(cfg.HealthSchedule, cfg.SettingsHTTPTimeout, c.metrics, logger)
	if err != nil {
		return err
	}
	monitor.Register("settings-service", c.settings.CheckHealth)
	monitor.Register("blob-store", c.blobs.Ping)
	monitor.Register("broker", conn.Ping)
	if c.redis != nil {
		monitor.Register("settings-cache", c.redis.Ping)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", monitor.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}))
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("consuming documents", "queue", cfg.InputQueue, "threads", pool.Size(), "prefetch", cfg.Prefetch)
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		monitor.Stop()
		poolErr := pool.Close(shutdownCtx)
		return errors.Join(poolErr, srv.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	stats := pool.Stats()
	logger.Info("worker stopped", "completed", stats.Completed, "failed", stats.Failed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
