// Package balancer is C3: given a set of candidate accounts already filtered
// for suitability by the router (C4), picks one according to a named
// strategy. It consults C2 (internal/health) for the live signal each
// strategy needs but owns no health state of its own.
package balancer

import (
	"errors"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/health"
)

// Strategy names a load-balancing algorithm, carried from
// original_source/.../business/services/load_balancer.rs LoadBalancingStrategy.
type Strategy string

const (
	RoundRobin         Strategy = "round_robin"
	WeightedRoundRobin Strategy = "weighted_round_robin"
	LeastConnections   Strategy = "least_connections"
	FastestResponse    Strategy = "fastest_response"
	HealthBased        Strategy = "health_based"
	Adaptive           Strategy = "adaptive"
	Geographic         Strategy = "geographic"
)

// ErrNoCandidates is returned when the candidate list is empty or every
// candidate is rejected by the circuit breaker.
var ErrNoCandidates = errors.New("balancer: no available candidates")

// Balancer selects one account from a candidate set per a named strategy.
// Safe for concurrent use.
type Balancer struct {
	tracker *health.Tracker
	rrIndex uint64
}

// New creates a Balancer backed by tracker for health/breaker signal.
func New(tracker *health.Tracker) *Balancer {
	return &Balancer{tracker: tracker}
}

// candidate pairs an account with its live metrics snapshot, computed once
// per Select call so every strategy sees a consistent view.
type candidate struct {
	account credential.Account
	metrics health.Metrics
}

// Select filters candidates down to the ones the breaker currently allows,
// then dispatches to the strategy-specific selection function. recentProvider
// is the provider of the account most recently chosen for this logical
// request stream (used by Adaptive's provider-diversity term); pass "" if
// unknown.
func (b *Balancer) Select(accounts []credential.Account, strategy Strategy, recentProvider credential.ServiceProvider) (credential.Account, error) {
	avail := b.available(accounts)
	if len(avail) == 0 {
		return credential.Account{}, ErrNoCandidates
	}

	switch strategy {
	case WeightedRoundRobin:
		return b.weightedRoundRobin(avail), nil
	case LeastConnections:
		return b.leastConnections(avail), nil
	case FastestResponse:
		return b.fastestResponse(avail), nil
	case HealthBased, Geographic:
		// Geographic delegates to HealthBased: spec.md's regional affinity
		// is advisory only, the candidate set is already region-filtered by
		// the router before PreferredRegion ever reaches here.
		return b.healthBased(avail), nil
	case Adaptive:
		return b.adaptive(avail, recentProvider), nil
	case RoundRobin:
		fallthrough
	default:
		return b.roundRobin(avail), nil
	}
}

func (b *Balancer) available(accounts []credential.Account) []candidate {
	out := make([]candidate, 0, len(accounts))
	for _, a := range accounts {
		if !a.Active {
			continue
		}
		if b.tracker != nil && !b.tracker.CanExecute(a.ID) {
			continue
		}
		m := health.Metrics{AccountID: a.ID}
		if b.tracker != nil {
			m = b.tracker.Snapshot(a.ID)
		}
		out = append(out, candidate{account: a, metrics: m})
	}
	return out
}

func (b *Balancer) roundRobin(cs []candidate) credential.Account {
	i := atomic.AddUint64(&b.rrIndex, 1) - 1
	return cs[int(i)%len(cs)].account
}

// dynamicWeight mirrors load_balancer.rs get_dynamic_weight: a base weight of
// 100, multiplied by 1.0 if the account is active with valid credentials, or
// 0.1 otherwise. Every candidate here already passed the Active/breaker
// filter, so the only remaining check is credential validity.
func dynamicWeight(a credential.Account) float64 {
	base := 100.0
	valid := credential.ValidateCredentials(a.Credentials, a.Provider.AuthMethod) == nil
	if a.Active && valid {
		return base
	}
	return base * 0.1
}

func (b *Balancer) weightedRoundRobin(cs []candidate) credential.Account {
	total := 0.0
	weights := make([]float64, len(cs))
	for i, c := range cs {
		w := dynamicWeight(c.account)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return cs[0].account
	}
	pick := rand.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if pick < acc {
			return cs[i].account
		}
	}
	return cs[len(cs)-1].account
}

func (b *Balancer) leastConnections(cs []candidate) credential.Account {
	best := cs[0]
	for _, c := range cs[1:] {
		if c.metrics.ActiveConnections < best.metrics.ActiveConnections {
			best = c
		}
	}
	return best.account
}

func (b *Balancer) fastestResponse(cs []candidate) credential.Account {
	best := cs[0]
	bestMs := responseMsOrMax(best.metrics)
	for _, c := range cs[1:] {
		ms := responseMsOrMax(c.metrics)
		if ms < bestMs {
			best, bestMs = c, ms
		}
	}
	return best.account
}

func responseMsOrMax(m health.Metrics) float64 {
	if m.AverageResponseTimeMs <= 0 {
		return 1.0e18
	}
	return m.AverageResponseTimeMs
}

func (b *Balancer) healthBased(cs []candidate) credential.Account {
	sorted := append([]candidate(nil), cs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return healthOrDefault(sorted[i].metrics) > healthOrDefault(sorted[j].metrics)
	})
	return sorted[0].account
}

func healthOrDefault(m health.Metrics) float64 {
	if m.TotalRequests == 0 {
		return 0.5
	}
	return m.HealthScore()
}

// adaptive mirrors load_balancer.rs adaptive_select: a weighted composite of
// health (0.25), success rate (0.25), response score (0.20), load score
// (0.15) and provider diversity (0.15), with the top 3 scored candidates
// entering a random pick so the gateway doesn't pin every request to a
// single marginally-best account.
func (b *Balancer) adaptive(cs []candidate, recentProvider credential.ServiceProvider) credential.Account {
	type scored struct {
		account credential.Account
		score   float64
	}
	ranked := make([]scored, len(cs))
	for i, c := range cs {
		diversity := 1.0
		if recentProvider != "" && c.account.Provider.Service == recentProvider {
			diversity = 0.5
		}
		score := 0.25*healthOrDefault(c.metrics) +
			0.25*c.metrics.SuccessRate() +
			0.20*c.metrics.ResponseScore() +
			0.15*c.metrics.LoadScore() +
			0.15*diversity
		ranked[i] = scored{c.account, score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := 3
	if top > len(ranked) {
		top = len(ranked)
	}
	return ranked[rand.Intn(top)].account
}
