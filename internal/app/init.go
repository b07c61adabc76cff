package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/balancer"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/health"
	"github.com/nulpointcorp/llm-gateway/internal/logger"
	"github.com/nulpointcorp/llm-gateway/internal/metrics"
	"github.com/nulpointcorp/llm-gateway/internal/proxy"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/nulpointcorp/llm-gateway/internal/router"
)

// oauthRefreshTimeout bounds the OAuth token refresh HTTP call (spec.md §4.1).
const oauthRefreshTimeout = 30 * time.Second

// initInfra establishes optional external connections. Redis is only
// required when rate limiting is configured — without it CheckRateLimit
// degrades to "allow" (spec.md §4.6).
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		a.log.Info("rate limiting disabled: no REDIS_URL configured")
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")

	return nil
}

// initCore builds C1-C5: the credential store and its seeded accounts, the
// gateway key store, the health tracker, the load balancer, the smart
// router, and the per-vendor adapter registry.
func (a *App) initCore(_ context.Context) error {
	a.creds = credential.NewStore(a.cfg.SystemProxyConfig())

	accounts, err := a.cfg.BuildAccounts()
	if err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no upstream accounts configured")
	}
	for _, acct := range accounts {
		a.creds.Put(acct)
	}
	a.log.Info("accounts loaded", slog.Int("count", len(accounts)))

	a.gwKeys = credential.NewGatewayKeyStore()
	for _, u := range a.cfg.BuildUsers() {
		a.gwKeys.PutUser(u)
	}
	for _, k := range a.cfg.BuildGatewayKeys() {
		a.gwKeys.PutKey(k)
	}
	a.log.Info("gateway keys loaded", slog.Int("count", len(a.cfg.GatewayKeys)))

	a.tracker = health.NewTracker(a.cfg.BreakerConfig())

	a.tokens = credential.NewTokenStore(a.creds, &http.Client{Timeout: oauthRefreshTimeout})
	a.tokens.SetUnhealthyMarker(a.tracker)

	a.bal = balancer.New(a.tracker)
	a.rtr = router.New(a.bal, a.tracker, a.cfg.BuildProviderCapabilities())

	a.adapters = adapter.NewRegistry(a.cfg.CostTable())

	return nil
}

// initServices creates the async request logger and the Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	reqLogger, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	if a.rdb != nil {
		perMinute := a.cfg.RateLimit.DefaultPerMinute
		perDay := a.cfg.RateLimit.DefaultPerDay
		a.limiter = ratelimit.NewLimiter(a.rdb, perMinute, perDay)
		a.log.Info("rate limiting enabled",
			slog.Int("default_per_minute", perMinute),
			slog.Int("default_per_day", perDay),
		)
	}

	return nil
}

// initGateway wires C1-C5 behind the C6 dispatch pipeline and sets up
// management routes.
func (a *App) initGateway(ctx context.Context) error {
	deps := proxy.Deps{
		Creds:    a.creds,
		GWKeys:   a.gwKeys,
		Tokens:   a.tokens,
		Tracker:  a.tracker,
		Router:   a.rtr,
		Adapters: a.adapters,
		Limiter:  a.limiter,
	}

	opts := proxy.GatewayOptions{
		Logger:                    a.log,
		Metrics:                   a.prom,
		DefaultRateLimitPerMinute: a.cfg.RateLimit.DefaultPerMinute,
		DefaultRateLimitPerDay:    a.cfg.RateLimit.DefaultPerDay,
	}

	gw := proxy.NewGateway(ctx, deps, opts)
	gw.SetCORSOrigins(a.cfg.CORSOrigins)
	gw.SetLogger(a.reqLogger)

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
