// Package router is C4: the smart routing layer sitting between the
// dispatch pipeline (C6) and the load balancer (C3). It narrows a user's
// account pool down to suitable candidates, picks a balancing strategy from
// request priority and user preference, and explains the decision it made.
//
// Grounded on
// original_source/.../business/services/smart_router.rs, reshaped for Go: the
// Rust source keeps one IntelligentLoadBalancer per strategy; this package
// keeps a single balancer.Balancer and passes the strategy per call, which is
// the more idiomatic shape once the balancer itself is stateless per-account.
package router

import (
	"strings"
	"sync"

	"github.com/nulpointcorp/llm-gateway/internal/balancer"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/health"
)

// RequestPriority classifies how urgently a request needs a strong account.
type RequestPriority string

const (
	PriorityLow      RequestPriority = "low"
	PriorityNormal   RequestPriority = "normal"
	PriorityHigh     RequestPriority = "high"
	PriorityCritical RequestPriority = "critical"
)

// RequestType is a coarse classification of what the request is for, used
// only to enrich the human-readable routing reasoning.
type RequestType string

const (
	RequestChat            RequestType = "chat"
	RequestCodeGeneration  RequestType = "code_generation"
	RequestSummarization   RequestType = "summarization"
	RequestTranslation     RequestType = "translation"
	RequestAnalysis        RequestType = "analysis"
	RequestCreativeWriting RequestType = "creative_writing"
)

// RequestFeatures describes one inbound request for routing purposes,
// extracted by the dispatch pipeline's BuildFeatures stage.
type RequestFeatures struct {
	Model           string
	EstimatedTokens int
	Priority        RequestPriority
	UserRegion      string
	RequestType     RequestType
	Streaming       bool
}

// UserPreferences tunes routing for one gateway user. Zero value is not
// meaningful; use DefaultUserPreferences.
type UserPreferences struct {
	UserID                 string
	PreferredProviders     []credential.ServiceProvider
	MaxAcceptableLatencyMs int
	CostSensitivity        float64 // 0 (ignore cost) .. 1 (minimize cost)
	QualityPreference      float64 // 0 (cheap/fast) .. 1 (best quality)
	SmartRoutingEnabled    bool
}

// DefaultUserPreferences mirrors smart_router.rs UserPreferences::default().
func DefaultUserPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:                 userID,
		MaxAcceptableLatencyMs: 10000,
		CostSensitivity:        0.5,
		QualityPreference:      0.8,
		SmartRoutingEnabled:    true,
	}
}

// ProviderCapabilities describes what one vendor's accounts are generally
// good for. The suitability filter falls back to these provider-level
// declarations when an account doesn't carry its own Capabilities/MaxTokens/
// streaming data, mirroring smart_router.rs get_provider_capabilities.
type ProviderCapabilities struct {
	SupportedModels   []string
	MaxTokens         int
	CostPer1KTokens   float64
	QualityScore      float64
	Specialties       []string
	SupportsStreaming bool
}

// RoutingDecision is C4's output, consumed by the dispatch pipeline and
// written into the usage record for observability.
type RoutingDecision struct {
	SelectedAccount credential.Account
	StrategyUsed    balancer.Strategy
	ConfidenceScore float64
	Reasoning       string
}

// Router holds per-user preferences and dispatches to the balancer once a
// suitable candidate set and strategy have been determined.
type Router struct {
	mu          sync.RWMutex
	preferences map[string]UserPreferences
	balancer    *balancer.Balancer
	tracker     *health.Tracker
	providerCap map[credential.ServiceProvider]ProviderCapabilities
}

// New creates a Router. providerCap may be nil; unknown providers fall back
// to a neutral ProviderCapabilities zero value during confidence scoring.
func New(b *balancer.Balancer, tracker *health.Tracker, providerCap map[credential.ServiceProvider]ProviderCapabilities) *Router {
	if providerCap == nil {
		providerCap = map[credential.ServiceProvider]ProviderCapabilities{}
	}
	return &Router{
		preferences: make(map[string]UserPreferences),
		balancer:    b,
		tracker:     tracker,
		providerCap: providerCap,
	}
}

// SetUserPreferences stores prefs for future RouteRequest calls. Routing
// reads a snapshot copy, so concurrent SetUserPreferences calls never race a
// RouteRequest in progress (spec.md §3's copy-on-write preference table).
func (r *Router) SetUserPreferences(prefs UserPreferences) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[prefs.UserID] = prefs
}

func (r *Router) userPreferences(userID string) UserPreferences {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.preferences[userID]; ok {
		return p
	}
	return DefaultUserPreferences(userID)
}

// ErrNoSuitableAccount is returned when no candidate survives suitability
// filtering, even under the relaxed fallback.
var ErrNoSuitableAccount = balancer.ErrNoCandidates

// RouteRequest selects one account from accounts for features, honoring
// userID's preferences. accounts should already be narrowed to the owning
// user's pool (credential.Store.ListActiveForUser).
func (r *Router) RouteRequest(userID string, accounts []credential.Account, features RequestFeatures) (RoutingDecision, error) {
	prefs := r.userPreferences(userID)

	if !prefs.SmartRoutingEnabled {
		acct, err := r.balancer.Select(accounts, balancer.RoundRobin, "")
		if err != nil {
			return RoutingDecision{}, err
		}
		return RoutingDecision{
			SelectedAccount: acct,
			StrategyUsed:    balancer.RoundRobin,
			ConfidenceScore: 0.5,
			Reasoning:       "smart routing disabled for user; used round robin",
		}, nil
	}

	suitable := r.filterSuitable(accounts, prefs, features, true)
	relaxed := false
	if len(suitable) == 0 {
		suitable = r.filterSuitable(accounts, prefs, features, false)
		relaxed = true
	}
	if len(suitable) == 0 {
		return RoutingDecision{}, ErrNoSuitableAccount
	}

	strategy := selectStrategy(features.Priority, prefs)
	acct, err := r.balancer.Select(suitable, strategy, "")
	if err != nil {
		return RoutingDecision{}, err
	}

	confidence := r.calculateConfidence(acct, prefs, features)
	reasoning := r.generateReasoning(acct, strategy, features, confidence, relaxed)

	return RoutingDecision{
		SelectedAccount: acct,
		StrategyUsed:    strategy,
		ConfidenceScore: confidence,
		Reasoning:       reasoning,
	}, nil
}

// RecordRequestResult feeds an outcome back into C2 so future routing
// decisions reflect it.
func (r *Router) RecordRequestResult(accountID string, success bool, latencyMs uint64) {
	if success {
		r.tracker.OnSuccess(accountID, latencyMs)
	} else {
		r.tracker.OnFailure(accountID)
	}
}

// filterSuitable mirrors smart_router.rs filter_suitable_accounts. strict
// requires model-capability and token/streaming fit in addition to the
// active+preferred-provider base filter; the relaxed pass (strict=false)
// keeps only the base filter so a request never dead-ends just because no
// account advertises the exact model name. An account that declares no
// capability data of its own falls back to its provider's declared
// capabilities, as the Rust source filters against.
func (r *Router) filterSuitable(accounts []credential.Account, prefs UserPreferences, features RequestFeatures, strict bool) []credential.Account {
	out := make([]credential.Account, 0, len(accounts))
	for _, a := range accounts {
		if !a.Active {
			continue
		}
		if len(prefs.PreferredProviders) > 0 && !containsProvider(prefs.PreferredProviders, a.Provider.Service) {
			continue
		}
		if !strict {
			out = append(out, a)
			continue
		}
		pcap, hasCap := r.providerCap[a.Provider.Service]
		if !a.SupportsModel(features.Model) && !(hasCap && capSupportsModel(pcap, features.Model)) {
			continue
		}
		maxTokens := a.MaxTokens
		if maxTokens == 0 && hasCap {
			maxTokens = pcap.MaxTokens
		}
		if features.EstimatedTokens > 0 && maxTokens > 0 && features.EstimatedTokens > maxTokens {
			continue
		}
		if features.Streaming && !a.SupportsStream && !(hasCap && pcap.SupportsStreaming) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func capSupportsModel(c ProviderCapabilities, model string) bool {
	for _, m := range c.SupportedModels {
		if m == "*" || strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

func containsProvider(list []credential.ServiceProvider, p credential.ServiceProvider) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

// selectStrategy mirrors smart_router.rs select_optimal_strategy.
func selectStrategy(priority RequestPriority, prefs UserPreferences) balancer.Strategy {
	switch priority {
	case PriorityCritical:
		return balancer.FastestResponse
	case PriorityHigh:
		return balancer.HealthBased
	case PriorityLow:
		return balancer.RoundRobin
	case PriorityNormal:
		fallthrough
	default:
		switch {
		case prefs.CostSensitivity > 0.7:
			return balancer.LeastConnections
		case prefs.QualityPreference > 0.8:
			return balancer.Adaptive
		default:
			return balancer.WeightedRoundRobin
		}
	}
}

// calculateConfidence mirrors smart_router.rs calculate_confidence: a 0.5
// base, adjusted for specialty/model/streaming/provider-preference fit, and
// then by the account's current health classification. No other terms — the
// adjustment list is closed.
func (r *Router) calculateConfidence(acct credential.Account, prefs UserPreferences, features RequestFeatures) float64 {
	score := 0.5

	if features.RequestType != "" && acct.HasSpecialty(string(features.RequestType)) {
		score += 0.2
	}
	if acct.SupportsModel(features.Model) {
		score += 0.15
	}
	if features.Streaming && acct.SupportsStream {
		score += 0.1
	}
	if containsProvider(prefs.PreferredProviders, acct.Provider.Service) {
		score += 0.1
	}

	m := r.tracker.Snapshot(acct.ID)
	switch healthClass(m) {
	case "healthy":
		score += 0.15
	case "degraded":
		score -= 0.05
	case "unhealthy":
		score -= 0.2
	default:
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func healthClass(m health.Metrics) string {
	if m.TotalRequests == 0 {
		return "unknown"
	}
	switch {
	case m.HealthScore() >= 0.8:
		return "healthy"
	case m.HealthScore() >= 0.5:
		return "degraded"
	default:
		return "unhealthy"
	}
}

func (r *Router) generateReasoning(acct credential.Account, strategy balancer.Strategy, features RequestFeatures, confidence float64, relaxed bool) string {
	var b strings.Builder
	b.WriteString("strategy=")
	b.WriteString(string(strategy))
	b.WriteString(" provider=")
	b.WriteString(string(acct.Provider.Service))
	b.WriteString(" health=")
	b.WriteString(healthClass(r.tracker.Snapshot(acct.ID)))
	if features.RequestType != "" {
		b.WriteString(" request_type=")
		b.WriteString(string(features.RequestType))
	}
	if features.Priority != "" {
		b.WriteString(" priority=")
		b.WriteString(string(features.Priority))
	}
	if relaxed {
		b.WriteString(" filter=relaxed")
	}
	b.WriteString(" confidence=")
	b.WriteString(formatScore(confidence))
	return b.String()
}

func formatScore(f float64) string {
	// Two decimal places without pulling in fmt.Sprintf's float formatting
	// cost on a line this hot; reasoning strings are generated once per
	// routed request.
	scaled := int(f*100 + 0.5)
	return padScore(scaled)
}

func padScore(scaled int) string {
	whole := scaled / 100
	frac := scaled % 100
	digits := "0123456789"
	out := []byte{digits[whole], '.', digits[frac/10], digits[frac%10]}
	return string(out)
}
