package kv

import "context"

const (
	cbStateKey    = "cb:state"
	cbFailuresKey = "cb:failures"
	cbProbeKey    = "cb:probe"

	cbThreshold          = 5
	cbCooldownSecs       = 30
	cbHalfOpenTTLSecs    = 60
	cbFailuresExpireSecs = 300
)

// CircuitState mirrors the three states the control-plane breaker can be in.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// AllowRequest reports whether a call to the control plane should proceed,
// transitioning open -> half-open once the cooldown elapses and admitting
// only a single in-flight probe while half-open.
func (s *Store) AllowRequest(ctx context.Context) (bool, error) {
	res, err := s.conn.Eval(ctx, allowRequestScript, []string{cbStateKey, cbProbeKey}, cbHalfOpenTTLSecs)
	if err != nil {
		return true, err
	}
	return toInt64(res) == 1, nil
}

// RecordSuccess closes the breaker and clears its failure counter and probe
// lock.
func (s *Store) RecordSuccess(ctx context.Context) error {
	if err := s.conn.Set(ctx, cbStateKey, string(CircuitClosed), 0); err != nil {
		return err
	}
	if err := s.conn.Del(ctx, cbFailuresKey); err != nil {
		return err
	}
	return s.conn.Del(ctx, cbProbeKey)
}

// RecordFailure increments the failure counter, opening the breaker once
// threshold consecutive failures (within the failures-expire window) are
// reached, or immediately re-opening a half-open probe that failed.
func (s *Store) RecordFailure(ctx context.Context) (int64, error) {
	res, err := s.conn.Eval(ctx, recordFailureScript,
		[]string{cbStateKey, cbFailuresKey, cbProbeKey},
		cbThreshold, cbCooldownSecs, cbFailuresExpireSecs)
	if err != nil {
		return 0, err
	}
	return toInt64(res), nil
}

// State returns the breaker's current state, defaulting to closed when no
// state key exists yet.
func (s *Store) State(ctx context.Context) (CircuitState, error) {
	v, err := s.conn.Get(ctx, cbStateKey)
	if IsNotFound(err) {
		return CircuitClosed, nil
	}
	if err != nil {
		return CircuitClosed, err
	}
	return CircuitState(v), nil
}

// IsDegraded reports whether the breaker is anything other than fully closed.
func (s *Store) IsDegraded(ctx context.Context) (bool, error) {
	state, err := s.State(ctx)
	if err != nil {
		return false, err
	}
	return state != CircuitClosed, nil
}
