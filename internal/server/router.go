// Package server wires the HTTP API of the site.
package server

import (
	"net/http"

	"github.com/maruel/orgsite/internal/config"
	"github.com/maruel/orgsite/internal/metrics"
	"github.com/maruel/orgsite/internal/server/handlers"
	"github.com/maruel/orgsite/internal/server/ipgeo"
	"github.com/maruel/orgsite/internal/server/ratelimit"
)

// Options configures the router.
type Options struct {
	Svc     *handlers.Services
	Version string
	Quotas  config.Quotas
	// Limits may be nil to disable rate limiting.
	Limits *ratelimit.Tiers
	// Geo may be nil.
	Geo *ipgeo.Checker
	// Metrics may be nil, in which case /metrics is not served.
	Metrics *metrics.Metrics
}

// Server holds what the wrappers and middlewares need.
type Server struct {
	svc     *handlers.Services
	quotas  config.Quotas
	geo     *ipgeo.Checker
	metrics *metrics.Metrics
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts *Options) http.Handler {
	s := &Server{svc: opts.Svc, quotas: opts.Quotas, geo: opts.Geo, metrics: opts.Metrics}
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(opts.Version)
	authHandler := &handlers.AuthHandler{Svc: opts.Svc}
	collHandler := &handlers.CollectionHandler{Svc: opts.Svc}
	assetHandler := &handlers.AssetHandler{Svc: opts.Svc}
	historyHandler := &handlers.HistoryHandler{Svc: opts.Svc}

	mux.Handle("GET /api/health", Wrap(s, healthHandler.Health))
	mux.Handle("POST /api/auth/login", Wrap(s, authHandler.Login))

	// Reads are public.
	mux.Handle("GET /api/collections/{name}", Wrap(s, collHandler.List))
	mux.Handle("GET /api/collections/{name}/{id}", Wrap(s, collHandler.Get))
	mux.Handle("GET /api/schema/{name}", Wrap(s, collHandler.Schema))
	mux.Handle("GET /api/roster", Wrap(s, collHandler.GetRoster))

	// Writes require the admin token.
	mux.Handle("POST /api/collections/{name}", WrapAdmin(s, collHandler.Create))
	mux.Handle("PUT /api/collections/{name}/{id}", WrapAdmin(s, collHandler.Update))
	mux.Handle("DELETE /api/collections/{name}/{id}", WrapAdmin(s, collHandler.Delete))
	mux.Handle("PUT /api/roster", WrapAdmin(s, collHandler.ReplaceRoster))
	mux.Handle("POST /api/assets/{category}", WrapAdminRaw(s, assetHandler.Upload))
	mux.Handle("GET /api/history", WrapAdmin(s, historyHandler.List))

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	// Uploaded assets and the placeholder.
	mux.HandleFunc("GET /{path...}", assetHandler.Serve)

	var h http.Handler = mux
	if opts.Limits != nil {
		h = opts.Limits.Middleware(h)
	}
	h = s.accessLog(h)
	return s.requestMetadata(h)
}
