// Package breaker provides the gateway's view of the control-plane circuit
// breaker: a thin, fail-open wrapper over the KV-backed state machine so
// callers never need to reason about Redis errors versus breaker state.
package breaker

import (
	"context"
	"log/slog"

	"github.com/hookline/gateway/internal/kv"
	"github.com/hookline/gateway/internal/telemetry"
)

// circuitStateValue maps a CircuitState to the value CircuitStateGauge's
// help text documents: 0=closed, 1=half-open, 2=open.
func circuitStateValue(s kv.CircuitState) float64 {
	switch s {
	case kv.CircuitHalfOpen:
		return 1
	case kv.CircuitOpen:
		return 2
	default:
		return 0
	}
}

// store is the subset of *kv.Store the breaker depends on.
type store interface {
	AllowRequest(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) (int64, error)
	State(ctx context.Context) (kv.CircuitState, error)
	IsDegraded(ctx context.Context) (bool, error)
}

// Breaker guards calls to the control plane, tripping open after repeated
// failures and fails open to "allow" whenever Redis itself is unreachable —
// a KV outage must never be compounded by blocking every capture request.
type Breaker struct {
	store  store
	logger *slog.Logger
}

func New(store store, logger *slog.Logger) *Breaker {
	return &Breaker{store: store, logger: logger}
}

// Allow reports whether the caller should attempt a control-plane request.
func (b *Breaker) Allow(ctx context.Context) bool {
	allowed, err := b.store.AllowRequest(ctx)
	if err != nil {
		b.logger.Warn("breaker allow-request check failed, failing open", "error", err)
		return true
	}
	return allowed
}

// RecordSuccess closes the breaker after a successful control-plane call.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	if err := b.store.RecordSuccess(ctx); err != nil {
		b.logger.Warn("breaker record-success failed", "error", err)
	}
}

// RecordFailure registers a control-plane failure, possibly tripping the
// breaker open.
func (b *Breaker) RecordFailure(ctx context.Context) {
	count, err := b.store.RecordFailure(ctx)
	if err != nil {
		b.logger.Warn("breaker record-failure failed", "error", err)
		return
	}
	telemetry.BreakerFailuresTotal.Inc()
	b.logger.Debug("breaker recorded failure", "count", count)
}

// RecordSuccessAsync and RecordFailureAsync let callers update breaker state
// without blocking the request path that triggered the update — mirrors the
// fire-and-forget pattern the control-plane client uses for every outcome.
func (b *Breaker) RecordSuccessAsync(ctx context.Context) {
	go b.RecordSuccess(context.WithoutCancel(ctx))
}

func (b *Breaker) RecordFailureAsync(ctx context.Context) {
	go b.RecordFailure(context.WithoutCancel(ctx))
}

// State returns the breaker's current state label (closed/open/half-open).
func (b *Breaker) State(ctx context.Context) kv.CircuitState {
	state, err := b.store.State(ctx)
	if err != nil {
		b.logger.Warn("breaker state check failed, reporting closed", "error", err)
		telemetry.CircuitStateGauge.Set(circuitStateValue(kv.CircuitClosed))
		return kv.CircuitClosed
	}
	telemetry.CircuitStateGauge.Set(circuitStateValue(state))
	return state
}

// IsDegraded reports whether the breaker is anything but fully closed.
func (b *Breaker) IsDegraded(ctx context.Context) bool {
	degraded, err := b.store.IsDegraded(ctx)
	if err != nil {
		b.logger.Warn("breaker degraded check failed, reporting healthy", "error", err)
		return false
	}
	return degraded
}
