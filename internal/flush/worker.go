// Package flush implements the worker pool that drains the KV request
// buffer slug-by-slug and ships batches to the control plane, fanning
// successful batches out to the column store on a best-effort basis.
package flush

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookline/gateway/internal/breaker"
	"github.com/hookline/gateway/internal/cpclient"
	"github.com/hookline/gateway/internal/csclient"
	"github.com/hookline/gateway/internal/telemetry"
	"github.com/hookline/gateway/internal/types"
)

// circuitOpenBackoff is how long a worker waits before retrying when the
// breaker reports the control plane as degraded.
const circuitOpenBackoff = 5 * time.Second

// csWriteConcurrency bounds the number of in-flight fire-and-forget writes
// to the column store; exhaustion drops the write rather than applying
// back-pressure to ingestion.
const csWriteConcurrency = 16

// store is the subset of *kv.Store the flush pool depends on.
type store interface {
	ActiveSlugs(ctx context.Context) ([]string, error)
	TakeBatch(ctx context.Context, slug string, count int) ([]*types.BufferedRequest, error)
	RemoveActive(ctx context.Context, slug string) error
	Requeue(ctx context.Context, slug string, reqs []*types.BufferedRequest) error
	GetEndpoint(ctx context.Context, slug string) (*types.EndpointInfo, error)
}

// cpClient is the subset of *cpclient.Client the flush pool depends on.
type cpClient interface {
	CaptureBatch(ctx context.Context, payload types.BatchPayload) (*types.CaptureResponse, error)
}

// csClient is the subset of *csclient.Client the flush pool depends on. A
// nil csClient means the column store sink is not configured.
type csClient interface {
	InsertRequests(ctx context.Context, rows []csclient.Row) error
}

// Pool runs worker_count goroutines draining the buffer on a shared cadence.
type Pool struct {
	store         store
	cp            cpClient
	cs            csClient
	breaker       *breaker.Breaker
	logger        *slog.Logger
	workerCount   int
	batchMaxSize  int
	flushInterval time.Duration

	csSem chan struct{}
}

func New(store store, cp cpClient, cs csClient, br *breaker.Breaker, logger *slog.Logger, workerCount, batchMaxSize int, flushInterval time.Duration) *Pool {
	return &Pool{
		store:         store,
		cp:            cp,
		cs:            cs,
		breaker:       br,
		logger:        logger,
		workerCount:   workerCount,
		batchMaxSize:  batchMaxSize,
		flushInterval: flushInterval,
		csSem:         make(chan struct{}, csWriteConcurrency),
	}
}

// Run starts worker_count workers and blocks until ctx is canceled. Each
// worker performs one final best-effort drain pass before returning, unless
// the control plane is currently degraded.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		go func(workerID int) {
			p.runWorker(ctx, workerID)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.workerCount; i++ {
		<-done
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	p.logger.Info("flush worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			if !p.breaker.IsDegraded(context.WithoutCancel(ctx)) {
				p.drainPass(context.WithoutCancel(ctx), workerID)
			}
			p.logger.Info("flush worker shutting down", "worker_id", workerID)
			return
		default:
		}

		if p.breaker.IsDegraded(ctx) {
			p.logger.Debug("circuit breaker open, backing off", "worker_id", workerID)
			select {
			case <-time.After(circuitOpenBackoff):
			case <-ctx.Done():
			}
			continue
		}

		didWork := p.drainPass(ctx, workerID)
		if !didWork {
			select {
			case <-time.After(p.flushInterval):
			case <-ctx.Done():
			}
		}
	}
}

// drainPass processes every active slug the worker is responsible for in a
// single, fairness-shuffled sweep, reporting whether any batch was taken.
func (p *Pool) drainPass(ctx context.Context, workerID int) bool {
	slugs, err := p.store.ActiveSlugs(ctx)
	if err != nil {
		p.logger.Warn("listing active slugs failed", "worker_id", workerID, "error", err)
		return false
	}
	if len(slugs) == 0 {
		return false
	}

	shuffle(slugs, seedFor(workerID))

	didWork := false
	for idx := workerID; idx < len(slugs); idx += p.workerCount {
		slug := slugs[idx]
		if p.drainSlug(ctx, slug) {
			didWork = true
		}
	}
	return didWork
}

func (p *Pool) drainSlug(ctx context.Context, slug string) bool {
	batch, err := p.store.TakeBatch(ctx, slug, p.batchMaxSize)
	if err != nil {
		p.logger.Warn("take batch failed", "slug", slug, "error", err)
		return false
	}
	if len(batch) == 0 {
		if err := p.store.RemoveActive(ctx, slug); err != nil {
			p.logger.Warn("remove active slug failed", "slug", slug, "error", err)
		}
		return false
	}

	requests := make([]types.BufferedRequest, len(batch))
	for i, r := range batch {
		requests[i] = *r
	}

	resp, err := p.cp.CaptureBatch(ctx, types.BatchPayload{Slug: slug, Requests: requests})
	switch {
	case err != nil:
		if cpclient.IsCircuitOpen(err) {
			p.logger.Warn("circuit open, re-enqueuing batch", "slug", slug, "count", len(batch))
			if rqErr := p.store.Requeue(ctx, slug, batch); rqErr != nil {
				p.logger.Error("requeue failed", "slug", slug, "error", rqErr)
			}
			telemetry.FlushBatchesTotal.WithLabelValues("requeued").Inc()
		} else {
			p.logger.Error("batch capture failed, dropping batch", "slug", slug, "count", len(batch), "error", err)
			telemetry.FlushBatchesTotal.WithLabelValues("dropped").Inc()
		}
	case resp.Error != "":
		p.logger.Warn("control plane capture_batch returned error", "slug", slug, "error", resp.Error)
		telemetry.FlushBatchesTotal.WithLabelValues("error").Inc()
	default:
		p.logger.Debug("flushed batch", "slug", slug, "inserted", resp.Inserted)
		telemetry.FlushBatchesTotal.WithLabelValues("success").Inc()
		telemetry.FlushBatchSize.Observe(float64(len(batch)))
		if p.cs != nil {
			p.writeToCS(context.WithoutCancel(ctx), slug, batch)
		}
	}
	return true
}

// writeToCS is the fire-and-forget dual write to the column store, bounded
// by a concurrency semaphore so a slow or unavailable CS can never push
// back on ingestion.
func (p *Pool) writeToCS(ctx context.Context, slug string, batch []*types.BufferedRequest) {
	select {
	case p.csSem <- struct{}{}:
	default:
		p.logger.Warn("CS write semaphore exhausted, dropping batch", "slug", slug, "count", len(batch))
		telemetry.CSWritesTotal.WithLabelValues("dropped_backpressure").Inc()
		return
	}

	go func() {
		defer func() { <-p.csSem }()

		info, err := p.store.GetEndpoint(ctx, slug)
		if err != nil || info == nil {
			telemetry.CSWritesTotal.WithLabelValues("skipped_no_endpoint").Inc()
			return
		}

		rows := make([]csclient.Row, len(batch))
		for i, req := range batch {
			rows[i] = csclient.RowFromBuffered(slug, req, info)
		}

		if err := p.cs.InsertRequests(ctx, rows); err != nil {
			p.logger.Warn("CS insert failed", "slug", slug, "error", err)
			telemetry.CSWritesTotal.WithLabelValues("error").Inc()
			return
		}
		telemetry.CSWritesTotal.WithLabelValues("success").Inc()
	}()
}
