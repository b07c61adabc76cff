// Package proxy is C6, the dispatch pipeline: Accept → AuthenticateKey →
// CheckRateLimit → BuildFeatures → Route → EnsureToken → BuildUpstreamRequest
// → DialUpstream → StreamResponseBack → RecordUsage → Finalize.
//
// Key design constraints carried from the teacher's original gateway:
//   - Logger, metrics, and rate limiter are optional and nil-safe.
//   - All I/O uses context.Context so timeouts propagate correctly.
//   - Streaming responses are pass-through (SSE); the vendor's wire bytes
//     are never decoded into a gateway-owned shape.
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/health"
	"github.com/nulpointcorp/llm-gateway/internal/logger"
	"github.com/nulpointcorp/llm-gateway/internal/metrics"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/nulpointcorp/llm-gateway/internal/router"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
)

// maxMaterializedBody bounds how much of a non-streaming (or error) response
// body is read into memory at once.
const maxMaterializedBody = 32 << 20 // 32MB

// statusClientClosedRequest is nginx's convention for "client went away
// mid-response"; neither net/http nor fasthttp names it.
const statusClientClosedRequest = 499

// upstreamOutcome classifies how an account-backed dispatch ended, which
// decides what feeds back into C2. Only outcomes that originate upstream
// (transport failure, upstream error status, auth expiry) may poison the
// selected account; a client-side rejection such as a malformed body, or a
// gateway wiring error before any dial, must not.
type upstreamOutcome int

const (
	outcomeClientSide upstreamOutcome = iota
	outcomeUpstreamSuccess
	outcomeUpstreamFailure
)

// GatewayOptions holds optional tuning parameters for a Gateway.
type GatewayOptions struct {
	// Logger is the structured logger used for request events.
	// Defaults to a no-op logger when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are disabled.
	Metrics *metrics.Registry

	// DefaultRateLimitPerMinute / DefaultRateLimitPerDay are applied to
	// gateway keys that carry no per-key override.
	DefaultRateLimitPerMinute int
	DefaultRateLimitPerDay    int
}

// Gateway wires C1–C5 behind the dispatch pipeline. All dependencies are
// injected via the constructor so they can be replaced with test doubles.
type Gateway struct {
	creds    *credential.Store
	gwKeys   *credential.GatewayKeyStore
	tokens   *credential.TokenStore
	tracker  *health.Tracker
	router   *router.Router
	adapters *adapter.Registry
	limiter  *ratelimit.Limiter
	clients  *clientCache

	baseCtx context.Context
	log     *slog.Logger
	metrics *metrics.Registry

	reqLogger *logger.Logger

	corsOrigins []string
}

// Deps bundles the components Gateway dispatches across — C1 (creds,
// gwKeys, tokens), C2 (tracker), C3/C4 (router), C5 (adapters), plus the
// rate limiter. All fields are required except where noted.
type Deps struct {
	Creds    *credential.Store
	GWKeys   *credential.GatewayKeyStore
	Tokens   *credential.TokenStore
	Tracker  *health.Tracker
	Router   *router.Router
	Adapters *adapter.Registry
	Limiter  *ratelimit.Limiter // optional; nil disables rate limiting
}

// NewGateway creates a Gateway with the given dependencies and options.
func NewGateway(ctx context.Context, deps Deps, opts GatewayOptions) *Gateway {
	if ctx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Gateway{
		creds:    deps.Creds,
		gwKeys:   deps.GWKeys,
		tokens:   deps.Tokens,
		tracker:  deps.Tracker,
		router:   deps.Router,
		adapters: deps.Adapters,
		limiter:  deps.Limiter,
		clients:  newClientCache(),
		baseCtx:  ctx,
		log:      log,
		metrics:  opts.Metrics,
	}
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// SetLogger injects the async request logger.
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// dispatchCtx carries per-request pipeline state between stages. Its Close
// always runs OnRequestStart's matching terminal call and writes one Usage
// Record — Testable Properties 2 and 3.
type dispatchCtx struct {
	requestID string
	method    string
	path      string
	start     time.Time

	gatewayKeyID string
	account      credential.Account
	hasAccount   bool
	strategy     string
	confidence   float64
	reasoning    string

	retryCount int
}

// Dispatch is the fasthttp entry point for every vendor-native route
// (/v1/messages, /v1/chat/completions, and the rest of /v1/*).
func (g *Gateway) Dispatch(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)
	if reqID == "" {
		reqID = uuid.New().String()
	}

	d := &dispatchCtx{
		requestID: reqID,
		method:    string(ctx.Method()),
		path:      string(ctx.Path()),
		start:     start,
	}

	if g.metrics != nil {
		g.metrics.IncInFlight()
		defer g.metrics.DecInFlight()
	}

	body := append([]byte(nil), ctx.PostBody()...)

	// AuthenticateKey
	secret, headerName := extractSecret(ctx)
	if secret == "" {
		g.fail(ctx, d, apierr.New(apierr.KindMissingCredentials, "no credential presented", nil))
		return
	}

	authResult, authErr := g.gwKeys.Lookup(secret, time.Now())
	switch {
	case authErr == nil:
		d.gatewayKeyID = authResult.Key.ID
		g.dispatchAuthenticated(ctx, d, body, authResult)
		return
	case authErr == credential.ErrKeyNotFound:
		// Not one of our own keys — may be the client bringing their own
		// upstream credential (spec.md §4.6 AuthenticateKey, S6). A secret
		// carrying the gateway's own prefix can't be a vendor key, though:
		// forwarding it upstream would leak a revoked-or-mistyped gateway
		// secret to a third party.
		if credential.LooksLikeGatewayKey(secret) {
			g.fail(ctx, d, apierr.New(apierr.KindInvalidCredentials, "credential rejected", authErr))
			return
		}
		g.dispatchPassthrough(ctx, d, body, secret, headerName)
		return
	case authErr == credential.ErrKeyExpired:
		g.fail(ctx, d, apierr.New(apierr.KindKeyExpired, "gateway key expired", authErr))
		return
	default: // ErrKeyInactive, ErrUserInactive, or anything else
		g.fail(ctx, d, apierr.New(apierr.KindInvalidCredentials, "credential rejected", authErr))
		return
	}
}

// extractSecret pulls the presented credential from, in order, x-api-key,
// anthropic-api-key, and a Bearer Authorization header (spec.md §4.6/§6).
func extractSecret(ctx *fasthttp.RequestCtx) (secret, headerName string) {
	if v := strings.TrimSpace(string(ctx.Request.Header.Peek("x-api-key"))); v != "" {
		return v, "x-api-key"
	}
	if v := strings.TrimSpace(string(ctx.Request.Header.Peek("anthropic-api-key"))); v != "" {
		return v, "anthropic-api-key"
	}
	if v := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization"))); v != "" {
		if tok := parseBearerToken(v); tok != "" {
			return tok, "authorization"
		}
	}
	return "", ""
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// dispatchAuthenticated runs CheckRateLimit through Finalize for a request
// backed by a real gateway key.
func (g *Gateway) dispatchAuthenticated(ctx *fasthttp.RequestCtx, d *dispatchCtx, body []byte, auth credential.AuthResult) {
	// CheckRateLimit
	if g.limiter != nil {
		res, err := g.limiter.Check(ctx, auth.Key.ID, auth.Key.RateLimitPerMinute, auth.Key.RateLimitPerDay)
		if err == nil && !res.Allowed {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("denied")
			}
			g.writeRateLimitBody(ctx, res)
			g.logFailure(d, fasthttp.StatusTooManyRequests)
			return
		}
		if g.metrics != nil {
			g.metrics.RecordRateLimit("allowed")
		}
	}

	// BuildFeatures
	features := buildFeatures(body)

	// Route
	accounts := g.creds.ListActiveForUser(auth.User.ID)
	decision, err := g.router.RouteRequest(auth.User.ID, accounts, features)
	if err != nil {
		if g.metrics != nil {
			for _, a := range accounts {
				if !g.tracker.CanExecute(a.ID) {
					g.metrics.RecordCircuitBreakerRejection(string(a.Provider.Service), g.tracker.BreakerState(a.ID))
				}
			}
		}
		g.fail(ctx, d, apierr.New(apierr.KindNoUpstreamAvailable, "no suitable upstream account", err))
		return
	}
	d.account = decision.SelectedAccount
	d.hasAccount = true
	d.strategy = string(decision.StrategyUsed)
	d.confidence = decision.ConfidenceScore
	d.reasoning = decision.Reasoning

	g.tracker.OnRequestStart(d.account.ID)
	outcome := outcomeClientSide
	reqStart := time.Now()
	defer func() {
		latency := uint64(time.Since(reqStart).Milliseconds())
		switch outcome {
		case outcomeUpstreamSuccess:
			g.router.RecordRequestResult(d.account.ID, true, latency)
		case outcomeUpstreamFailure:
			g.router.RecordRequestResult(d.account.ID, false, latency)
		default:
			// The request never reached the upstream for a reason the
			// account can't be blamed for; release the connection slot
			// without touching the breaker or the success counters.
			g.tracker.OnRequestAbandoned(d.account.ID)
		}
		g.observeBreakerState(d.account.ID, string(d.account.Provider.Service))
	}()

	// EnsureToken
	token, err := g.tokens.EnsureFreshToken(ctx, d.account.ID)
	if err != nil {
		outcome = outcomeUpstreamFailure
		g.fail(ctx, d, apierr.New(apierr.KindUpstreamAuthExpired, "oauth refresh failed", err))
		return
	}

	ad, err := g.adapters.For(d.account.Provider)
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindInternal, "no adapter for account provider", err))
		return
	}

	outcome = g.forward(ctx, d, ad, d.account, token, body, features)
}

// dispatchPassthrough forwards an unrecognized secret verbatim, skipping
// account selection and gateway-key-scoped usage accounting — spec.md §4.6
// AuthenticateKey "not found" branch and S6.
func (g *Gateway) dispatchPassthrough(ctx *fasthttp.RequestCtx, d *dispatchCtx, body []byte, secret, headerName string) {
	provider := inferPassthroughProvider(headerName, d.path, body)
	ad, err := g.adapters.For(provider)
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindBadRequest, "unrecognized credential and no inferable provider", err))
		return
	}

	url, err := ad.BuildUpstreamURL(credential.Account{Provider: provider}, d.path, string(ctx.URI().QueryString()))
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindInternal, "failed building upstream url", err))
		return
	}

	headers := cloneHeaders(ctx)
	isOAuth := provider.AuthMethod == credential.OAuth
	ad.FilterHeaders(headers, isOAuth)
	mergeHeaders(headers, ad.ProviderHeaders(isOAuth))
	mergeHeaders(headers, ad.AuthHeaders(secret))

	g.dialAndStream(ctx, d, ad, credential.Account{}, fastModel(body), url, headers, body, false)
}

// inferPassthroughProvider guesses the vendor from which header carried the
// secret, falling back to the request model when the header is ambiguous
// (a bare Authorization: Bearer could be any vendor).
func inferPassthroughProvider(headerName, path string, body []byte) credential.ProviderConfig {
	switch headerName {
	case "x-api-key", "anthropic-api-key":
		return credential.ProviderConfig{Service: credential.Anthropic, AuthMethod: credential.ApiKey}
	}
	if strings.HasPrefix(path, "/v1/messages") {
		return credential.ProviderConfig{Service: credential.Anthropic, AuthMethod: credential.ApiKey}
	}
	model := fastModel(body)
	return credential.ProviderConfig{Service: adapter.InferProviderFromModel(model), AuthMethod: credential.ApiKey}
}

func fastModel(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}

// forward runs BuildUpstreamRequest through RecordUsage for an
// account-backed dispatch. Returns how the attempt should be classified for
// C2 feedback — a rejected body or URL never counts against the account.
func (g *Gateway) forward(ctx *fasthttp.RequestCtx, d *dispatchCtx, ad adapter.Adapter, acct credential.Account, token string, body []byte, features router.RequestFeatures) upstreamOutcome {
	url, err := ad.BuildUpstreamURL(acct, d.path, string(ctx.URI().QueryString()))
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindInternal, "failed building upstream url", err))
		return outcomeClientSide
	}

	transformed, err := ad.TransformRequestBody(body, acct, d.requestID)
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindBadRequest, "request body transform failed", err))
		return outcomeClientSide
	}

	headers := cloneHeaders(ctx)
	isOAuth := acct.Provider.AuthMethod == credential.OAuth
	ad.FilterHeaders(headers, isOAuth)
	mergeHeaders(headers, ad.ProviderHeaders(isOAuth))
	mergeHeaders(headers, ad.AuthHeaders(token))

	return g.dialAndStream(ctx, d, ad, acct, features.Model, url, headers, transformed, true)
}

// cloneHeaders copies the inbound fasthttp headers into an http.Header the
// adapter layer can mutate freely.
func cloneHeaders(ctx *fasthttp.RequestCtx) http.Header {
	h := make(http.Header)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	return h
}

func mergeHeaders(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = vs
	}
}

// dialAndStream performs DialUpstream, StreamResponseBack, and RecordUsage.
// trackUsage is false for passthrough dispatch (no gateway-key-scoped
// accounting per S6). Returns the C2 classification of the attempt for
// account-backed dispatch.
func (g *Gateway) dialAndStream(ctx *fasthttp.RequestCtx, d *dispatchCtx, ad adapter.Adapter, acct credential.Account, model, url string, headers http.Header, body []byte, trackUsage bool) upstreamOutcome {
	proxyCfg, hasProxy := credential.ProxyConfig{}, false
	if trackUsage && g.creds != nil {
		proxyCfg, hasProxy = g.creds.ResolveProxy(acct)
	}
	client, err := g.clients.For(proxyCfg, hasProxy)
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindInternal, "failed building upstream client", err))
		return outcomeClientSide
	}

	dialCtx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dialCtx, d.method, url, newBodyReader(body))
	if err != nil {
		g.fail(ctx, d, apierr.New(apierr.KindInternal, "failed building upstream request", err))
		return outcomeClientSide
	}
	req.Header = headers
	req.ContentLength = int64(len(body))

	provider := string(acct.Provider.Service)
	route := d.path

	upstreamStart := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if g.metrics != nil {
			g.metrics.ObserveUpstreamAttempt(provider, route, "error", time.Since(upstreamStart))
		}
		g.fail(ctx, d, apierr.New(apierr.KindUpstreamTransport, "upstream dial failed", err))
		if trackUsage {
			g.recordUsageRecord(d, ad, acct, model, fasthttp.StatusBadGateway, adapter.Usage{}, time.Since(d.start), 0)
		}
		return outcomeUpstreamFailure
	}
	defer resp.Body.Close()

	if g.metrics != nil {
		outcome := "success"
		if resp.StatusCode >= 400 {
			outcome = "error"
		}
		g.metrics.ObserveUpstreamAttempt(provider, route, outcome, time.Since(upstreamStart))
	}

	// StreamResponseBack
	ctx.Response.Header.Reset()
	ctx.SetStatusCode(resp.StatusCode)
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "Content-Encoding") {
			continue
		}
		for _, v := range vs {
			ctx.Response.Header.Add(k, v)
		}
	}

	if resp.StatusCode == fasthttp.StatusUnauthorized {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxMaterializedBody))
		g.log.ErrorContext(ctx, "upstream_401",
			slog.String("request_id", d.requestID),
			slog.String("body", string(respBody)),
		)
		ctx.SetBody(respBody)
		if trackUsage {
			g.recordUsageRecord(d, ad, acct, model, resp.StatusCode, adapter.Usage{}, time.Since(d.start), 0)
		}
		return outcomeUpstreamFailure
	}

	contentType := resp.Header.Get("Content-Type")
	streaming := strings.Contains(contentType, "text/event-stream")

	var usage adapter.Usage
	var firstByteMs uint32
	recordStatus := resp.StatusCode

	if streaming {
		accum := ad.NewStreamAccumulator(model)
		firstByte := time.Time{}
		clientGone := false
		// fasthttp drains SetBodyStreamWriter's callback on its own goroutine
		// after this function returns, so dialAndStream must block on done
		// before computing usage/latency or returning — otherwise the
		// deferred cancel() above fires while the copy is still in flight and
		// truncates the response.
		done := make(chan struct{})
		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			defer close(done)
			buf := make([]byte, 32*1024)
			for {
				n, rerr := resp.Body.Read(buf)
				if n > 0 {
					if firstByte.IsZero() {
						firstByte = time.Now()
					}
					chunk := buf[:n]
					accum.Feed(chunk)
					if _, werr := w.Write(chunk); werr != nil {
						clientGone = true
						break
					}
					_ = w.Flush()
				}
				if rerr != nil {
					break
				}
			}
		})
		<-done
		if !firstByte.IsZero() {
			firstByteMs = uint32(firstByte.Sub(upstreamStart).Milliseconds())
		}
		usage = accum.Usage()
		if clientGone {
			// Client disconnected mid-stream; the Usage Record still goes
			// out with whatever the accumulator saw so far, but under 499 so
			// abandoned streams are distinguishable from completed ones.
			recordStatus = statusClientClosedRequest
		}
	} else {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxMaterializedBody))
		ctx.SetBody(respBody)
		usage = ad.ParseUsage(respBody, model)
		firstByteMs = uint32(time.Since(upstreamStart).Milliseconds())
	}

	if trackUsage {
		g.recordUsageRecord(d, ad, acct, model, recordStatus, usage, time.Since(d.start), firstByteMs)
	}
	// The C2 outcome keys off what the upstream did, not whether the client
	// stayed around to read it — a disconnect must not poison the account.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return outcomeUpstreamSuccess
	}
	return outcomeUpstreamFailure
}

// newBodyReader wraps a request body so a zero-length body sends no Body at
// all (matters for GET-shaped passthrough paths some vendors expose).
func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}

// recordUsageRecord implements RecordUsage: parse usage/cost and write one
// Usage Record, success or failure alike (Testable Property 2).
func (g *Gateway) recordUsageRecord(d *dispatchCtx, ad adapter.Adapter, acct credential.Account, model string, status int, usage adapter.Usage, latency time.Duration, firstByteMs uint32) {
	if g.metrics != nil {
		provider := string(acct.Provider.Service)
		cache := "miss"
		if usage.CacheReadTokens > 0 {
			cache = "hit"
		}
		g.metrics.RecordRequest(provider, status, latency.Milliseconds())
		g.metrics.AddTokens(provider, d.path, int(usage.InputTokens), int(usage.OutputTokens), usage.CacheReadTokens > 0)
		g.metrics.ObserveGatewayRequest(provider, d.path, cache, latency)
	}

	if g.reqLogger == nil {
		return
	}

	var cost float64
	if ad != nil {
		cost = ad.CalculateCost(model, usage)
	}

	tps, _ := adapter.CalculateTokensPerSecond(usage.OutputTokens, uint64(latency.Milliseconds()))

	reqUUID, _ := uuid.Parse(d.requestID)
	latencyMs := uint32(latency.Milliseconds())

	g.reqLogger.Log(logger.RequestLog{
		ID:                  reqUUID,
		GatewayKeyID:        d.gatewayKeyID,
		UpstreamAccountID:   acct.ID,
		Method:              d.method,
		Path:                d.path,
		Status:              uint16(status),
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheCreationTokens: usage.CacheCreationTokens,
		CacheReadTokens:     usage.CacheReadTokens,
		TotalTokens:         usage.Total(),
		EstimatedCostUSD:    cost,
		LatencyMs:           latencyMs,
		FirstTokenLatencyMs: firstByteMs,
		TokensPerSecond:     tps,
		RetryCount:          uint16(d.retryCount),
		Strategy:            d.strategy,
		Confidence:          d.confidence,
		Reasoning:           d.reasoning,
		CreatedAt:           time.Now(),
	})
}

// logFailure writes a degraded Usage Record for a request rejected before an
// account was selected (e.g. rate limit), so dropped traffic is still
// observable.
func (g *Gateway) logFailure(d *dispatchCtx, status int) {
	if g.reqLogger == nil {
		return
	}
	reqUUID, _ := uuid.Parse(d.requestID)
	g.reqLogger.Log(logger.RequestLog{
		ID:           reqUUID,
		GatewayKeyID: d.gatewayKeyID,
		Method:       d.method,
		Path:         d.path,
		Status:       uint16(status),
		CreatedAt:    time.Now(),
	})
}

// fail writes e to the client and logs a degraded Usage Record.
func (g *Gateway) fail(ctx *fasthttp.RequestCtx, d *dispatchCtx, e *apierr.Error) {
	g.log.WarnContext(ctx, "dispatch_error",
		slog.String("request_id", d.requestID),
		slog.String("kind", string(e.Kind)),
		slog.String("message", e.Message),
	)
	if g.metrics != nil {
		provider := "unknown"
		if d.hasAccount {
			provider = string(d.account.Provider.Service)
		}
		g.metrics.RecordError(provider, string(e.Kind))
	}
	apierr.WriteKindError(ctx, e)
	g.logFailure(d, ctx.Response.StatusCode())
}

// observeBreakerState exports accountID's current breaker state and derived
// health status under provider's label, called once per dispatch so the
// circuit_breaker_state gauge tracks reality even for accounts that never
// trip the breaker.
func (g *Gateway) observeBreakerState(accountID, provider string) {
	if g.metrics == nil || accountID == "" {
		return
	}
	var state int64
	switch g.tracker.BreakerState(accountID) {
	case "open":
		state = 1
	case "half_open":
		state = 2
	}
	g.metrics.SetCircuitBreaker(provider, state)
	g.metrics.SetProviderHealth(provider, state != 1)
}

// writeRateLimitBody renders the 429 body spec.md §6 defines.
func (g *Gateway) writeRateLimitBody(ctx *fasthttp.RequestCtx, res ratelimit.Result) {
	ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", res.ResetInSeconds))
	ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
	ctx.SetContentType("application/json")
	body := fmt.Sprintf(
		`{"error":"rate_limit_exceeded","limit":%d,"reset_in_seconds":%d,"limit_type":%q}`,
		res.Limit, res.ResetInSeconds, res.LimitType,
	)
	ctx.SetBodyString(body)
}
