// Package app wires the gateway's infrastructure clients and background
// workers together and runs the HTTP server until the context is canceled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hookline/gateway/internal/breaker"
	"github.com/hookline/gateway/internal/capture"
	"github.com/hookline/gateway/internal/config"
	"github.com/hookline/gateway/internal/cpclient"
	"github.com/hookline/gateway/internal/csclient"
	"github.com/hookline/gateway/internal/flush"
	"github.com/hookline/gateway/internal/httpserver"
	"github.com/hookline/gateway/internal/kv"
	"github.com/hookline/gateway/internal/platform"
	"github.com/hookline/gateway/internal/retention"
	"github.com/hookline/gateway/internal/search"
	"github.com/hookline/gateway/internal/telemetry"
	"github.com/hookline/gateway/internal/warmer"
)

// shutdownDrain is how long Run waits after ctx is canceled before returning,
// giving the flush pool's final best-effort drain pass time to complete.
const shutdownDrain = 5 * time.Second

// Run connects to infrastructure using cfg, starts every background worker,
// and serves HTTP until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.Debug)

	logger.Info("starting hookline gateway", "listen", cfg.ListenAddr())

	rdb, err := platform.NewRedisClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	store := kv.New(rdb, logger, cfg.EndpointCacheTTLSecs, cfg.QuotaCacheTTLSecs)
	br := breaker.New(store, logger)
	cp := cpclient.New(cfg.ConvexSiteURL, cfg.CaptureSharedSecret, br)

	var cs *csclient.Client
	if cfg.ClickHouseEnabled() {
		cs = csclient.New(cfg.ClickHouseBaseURL(), cfg.ClickHouseUser, cfg.ClickHousePassword, cfg.ClickHouseDatabase)
		if !cs.Ping(ctx) {
			logger.Warn("column store configured but unreachable at startup; continuing, writes will fail until it recovers")
		}
	} else {
		logger.Info("column store disabled (CLICKHOUSE_HOST not set): no dual-write, no search, retention worker idle")
	}

	metricsReg := telemetry.NewMetricsRegistry()

	captureHandler := capture.New(store, cp, logger)

	// cs is a possibly-nil *csclient.Client; passing a nil pointer through an
	// interface-typed parameter produces a non-nil interface, so every
	// CS-dependent component is constructed with an explicit nil literal
	// instead when the column store isn't configured.
	var searchHandler *search.Handler
	var flushPool *flush.Pool
	var retentionWorker *retention.Worker
	flushInterval := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if cs != nil {
		searchHandler = search.New(cs, cfg.ClickHouseDatabase, cfg.CaptureSharedSecret, logger)
		flushPool = flush.New(store, cp, cs, br, logger, cfg.FlushWorkers, cfg.BatchMaxSize, flushInterval)
		retentionWorker = retention.New(cp, cs, logger)
	} else {
		searchHandler = search.New(nil, cfg.ClickHouseDatabase, cfg.CaptureSharedSecret, logger)
		flushPool = flush.New(store, cp, nil, br, logger, cfg.FlushWorkers, cfg.BatchMaxSize, flushInterval)
		retentionWorker = retention.New(cp, nil, logger)
	}

	srv := httpserver.NewServer(logger, metricsReg, store, br, captureHandler, searchHandler, cfg.CaptureSharedSecret)

	cacheWarmer := warmer.New(store, cp, br, logger)

	go flushPool.Run(ctx)
	go cacheWarmer.Run(ctx)
	go retentionWorker.Run(ctx)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining in-flight work", "drain", shutdownDrain)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		// Give background workers (principally the flush pool) time for a
		// final drain pass before the process exits.
		time.Sleep(shutdownDrain)
		return nil
	case err := <-errCh:
		return err
	}
}
