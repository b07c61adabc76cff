package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the proxy routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start in proxy-only mode.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
// Every path other than /health, /readiness, and /metrics falls through to
// Dispatch — spec.md §6: "the gateway speaks vendor-native paths… full
// /v1/* is forwarded," and OpenAI/Gemini/Qwen paths are forwarded unchanged,
// so the route table can't enumerate every vendor path up front.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)
	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}
	r.NotFound = g.Dispatch

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		g.observeHTTP,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler: handler,
		// Must outlast DialUpstream's own 300s upstream timeout, since a
		// streaming response can legitimately take that long to drain.
		ReadTimeout:  totalTimeout + 10*time.Second,
		WriteTimeout: totalTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	snap := g.tracker.SnapshotAll()
	out := map[string]any{"status": "ok", "accounts": snap}
	if g.reqLogger != nil {
		out["dropped_usage_records"] = g.reqLogger.DroppedLogs()
	}
	writeJSON(ctx, out)
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"status": "ok"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
