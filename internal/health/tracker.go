package health

import "sync"

// Tracker is C2: the single source of truth for per-account health signals,
// exposing the operations spec.md §4.2 names. It owns one nodeMetrics and one
// breaker entry per account id, created lazily on first use.
type Tracker struct {
	mu      sync.Mutex
	nodes   map[string]*nodeMetrics
	breaker *CircuitBreaker
}

// NewTracker creates a Tracker with the given breaker tuning.
func NewTracker(cfg BreakerConfig) *Tracker {
	return &Tracker{
		nodes:   make(map[string]*nodeMetrics),
		breaker: NewCircuitBreakerWithConfig(cfg),
	}
}

func (t *Tracker) node(accountID string) *nodeMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[accountID]
	if !ok {
		n = &nodeMetrics{}
		t.nodes[accountID] = n
	}
	return n
}

// OnRequestStart increments active connections for accountID. Every call
// must be paired with exactly one terminal OnSuccess, OnFailure, or
// OnRequestAbandoned — callers should use defer or an equivalent
// deferred-call mechanism to guarantee the pairing even on panic or early
// return.
func (t *Tracker) OnRequestStart(accountID string) {
	t.node(accountID).onRequestStart()
}

// OnRequestAbandoned releases the connection slot taken by OnRequestStart
// without recording an outcome. Used when a dispatch is rejected after an
// account was already selected but before anything reached the upstream —
// a client-side failure is not evidence about the account's health.
func (t *Tracker) OnRequestAbandoned(accountID string) {
	t.node(accountID).onAbandoned()
}

// OnSuccess records a successful response, advancing the latency EMA and
// resetting the error streak, then informs the breaker.
func (t *Tracker) OnSuccess(accountID string, latencyMs uint64) {
	t.node(accountID).onSuccess(latencyMs)
	t.breaker.RecordSuccess(accountID)
}

// OnFailure records a failed response and informs the breaker.
func (t *Tracker) OnFailure(accountID string) {
	t.node(accountID).onFailure()
	t.breaker.RecordFailure(accountID)
}

// CanExecute consults (and possibly advances) the breaker state for accountID.
func (t *Tracker) CanExecute(accountID string) bool {
	return t.breaker.CanExecute(accountID)
}

// BreakerState returns a human-readable breaker state for metrics export.
func (t *Tracker) BreakerState(accountID string) string {
	return t.breaker.StateLabel(accountID)
}

// Snapshot returns a read-only copy of accountID's accumulated metrics. An
// account with no recorded activity yet returns the zero-value Metrics
// (SuccessRate() on it still reports 1.0, per the documented prior).
func (t *Tracker) Snapshot(accountID string) Metrics {
	t.mu.Lock()
	n, ok := t.nodes[accountID]
	t.mu.Unlock()
	if !ok {
		return Metrics{AccountID: accountID}
	}
	return n.snapshot(accountID)
}

// SnapshotAll returns read-only copies of every tracked account's metrics.
func (t *Tracker) SnapshotAll() map[string]Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Metrics, len(t.nodes))
	for id, n := range t.nodes {
		out[id] = n.snapshot(id)
	}
	return out
}
