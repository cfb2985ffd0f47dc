// Package warmer proactively refreshes endpoint and quota caches for active
// slugs before their TTLs expire, so a busy slug's capture requests never
// have to pay a blocking control-plane round trip.
package warmer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/gateway/internal/breaker"
	"github.com/hookline/gateway/internal/telemetry"
	"github.com/hookline/gateway/internal/types"
)

const (
	warmInterval       = 5 * time.Second
	endpointTTLRefresh = 10 // seconds remaining
	quotaTTLRefresh    = 5  // seconds remaining
	maxConcurrentWarms = 8
)

// store is the subset of *kv.Store the cache warmer depends on.
type store interface {
	ActiveSlugs(ctx context.Context) ([]string, error)
	EndpointTTL(ctx context.Context, slug string) (int64, error)
	QuotaTTL(ctx context.Context, slug string) (int64, error)
	SetEndpoint(ctx context.Context, slug string, info *types.EndpointInfo) error
	SetQuota(ctx context.Context, slug string, remaining, limit int64, periodEnd int64, isUnlimited bool, userID string) error
}

// cpClient is the subset of *cpclient.Client the cache warmer depends on.
type cpClient interface {
	FetchAndCacheEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error)
	FetchAndCacheQuota(ctx context.Context, slug, userID string) (*types.QuotaResponse, error)
}

// Warmer periodically sweeps active slugs for near-expiry caches.
type Warmer struct {
	store   store
	cp      cpClient
	breaker *breaker.Breaker
	logger  *slog.Logger
}

func New(store store, cp cpClient, br *breaker.Breaker, logger *slog.Logger) *Warmer {
	return &Warmer{store: store, cp: cp, breaker: br, logger: logger}
}

// Run sweeps every warmInterval until ctx is canceled.
func (w *Warmer) Run(ctx context.Context) {
	w.logger.Info("cache warmer started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cache warmer shutting down")
			return
		default:
		}

		w.warmCaches(ctx)

		select {
		case <-time.After(warmInterval):
		case <-ctx.Done():
		}
	}
}

func (w *Warmer) warmCaches(ctx context.Context) {
	if w.breaker.IsDegraded(ctx) {
		return
	}

	slugs, err := w.store.ActiveSlugs(ctx)
	if err != nil {
		w.logger.Warn("listing active slugs for warming failed", "error", err)
		return
	}

	sem := make(chan struct{}, maxConcurrentWarms)
	var wg sync.WaitGroup

	for _, slug := range slugs {
		needsEndpoint := w.ttlBelow(ctx, slug, w.store.EndpointTTL, endpointTTLRefresh)
		needsQuota := w.ttlBelow(ctx, slug, w.store.QuotaTTL, quotaTTLRefresh)
		if !needsEndpoint && !needsQuota {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(slug string, needsEndpoint, needsQuota bool) {
			defer wg.Done()
			defer func() { <-sem }()
			w.warmSlug(ctx, slug, needsEndpoint, needsQuota)
		}(slug, needsEndpoint, needsQuota)
	}

	wg.Wait()
}

func (w *Warmer) ttlBelow(ctx context.Context, slug string, ttlFn func(context.Context, string) (int64, error), threshold int64) bool {
	ttl, err := ttlFn(ctx, slug)
	if err != nil || ttl < 0 {
		return false
	}
	return ttl < threshold
}

func (w *Warmer) warmSlug(ctx context.Context, slug string, needsEndpoint, needsQuota bool) {
	if needsEndpoint {
		w.logger.Debug("proactively refreshing endpoint cache", "slug", slug)
		info, err := w.cp.FetchAndCacheEndpoint(ctx, slug)
		switch {
		case err != nil:
			w.logger.Warn("cache warmer endpoint fetch failed", "slug", slug, "error", err)
			telemetry.WarmerRefreshesTotal.WithLabelValues("endpoint", "error").Inc()
		case info == nil:
			telemetry.WarmerRefreshesTotal.WithLabelValues("endpoint", "success").Inc()
		default:
			if info.Error == "" {
				if err := w.store.SetEndpoint(ctx, slug, info); err != nil {
					w.logger.Warn("cache warmer endpoint write failed", "slug", slug, "error", err)
				}
			}
			telemetry.WarmerRefreshesTotal.WithLabelValues("endpoint", "success").Inc()
		}
	}
	if needsQuota {
		w.logger.Debug("proactively refreshing quota cache", "slug", slug)
		quota, err := w.cp.FetchAndCacheQuota(ctx, slug, "")
		switch {
		case err != nil:
			w.logger.Warn("cache warmer quota fetch failed", "slug", slug, "error", err)
			telemetry.WarmerRefreshesTotal.WithLabelValues("quota", "error").Inc()
		case quota == nil || quota.Error != "":
			telemetry.WarmerRefreshesTotal.WithLabelValues("quota", "success").Inc()
		default:
			periodEnd := int64(0)
			if quota.PeriodEnd != nil {
				periodEnd = *quota.PeriodEnd
			}
			isUnlimited := quota.Remaining == -1
			if err := w.store.SetQuota(ctx, slug, quota.Remaining, quota.Limit, periodEnd, isUnlimited, quota.UserID); err != nil {
				w.logger.Warn("cache warmer quota write failed", "slug", slug, "error", err)
			}
			telemetry.WarmerRefreshesTotal.WithLabelValues("quota", "success").Inc()
		}
	}
}
