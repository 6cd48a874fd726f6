package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/events"
	"github.com/ryanbastic/go-diary/internal/fhe"
	"github.com/ryanbastic/go-diary/internal/ledger"
	"github.com/ryanbastic/go-diary/internal/metrics"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// Deps are the components the HTTP surface is built on.
type Deps struct {
	Logger      *slog.Logger
	Contract    *ledger.Contract
	Coprocessor *fhe.Coprocessor
	Authority   *auth.Authority
	Plugins     *events.PluginRegistry
	PluginStore events.PluginStore
	Backends    map[string]Pinger

	// IssueAuthorizations mounts POST /v1/authorizations.
	IssueAuthorizations bool
}

// NewServer creates an HTTP handler with all routes configured.
func NewServer(d Deps) http.Handler {
	mux := chi.NewRouter()

	mux.Use(RequestID)
	mux.Use(Logging(d.Logger))
	mux.Use(Recovery(d.Logger))
	mux.Use(metrics.Metrics)

	health := NewHealthHandler(d.Backends, d.Logger)
	mux.Get("/livez", health.Livez)
	mux.Get("/readyz", health.Readyz)
	mux.Get("/v1/health", health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	api := humachi.New(mux, huma.DefaultConfig("Travel Diary API", Version))

	contract := d.Contract.Address()
	registerDiaryRoutes(api, NewDiaryHandler(d.Contract, d.Authority, d.Logger))
	registerFHERoutes(api, NewFHEHandler(d.Coprocessor, d.Authority, d.Contract, d.Logger))
	registerPluginRoutes(api, NewPluginHandler(d.Plugins, d.PluginStore, d.Logger))
	if d.IssueAuthorizations {
		registerAuthRoutes(api, NewAuthHandler(d.Authority, contract, d.Logger))
	}

	return mux
}
