// Package server assembles the bondly HTTP API from the feature routers.
package server

import (
	"fmt"
	"net/http"

	"github.com/bondly/bondly/internal/bondlysrv/analysis"
	"github.com/bondly/bondly/internal/bondlysrv/auth"
	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/bondlysrv/metrics"
	"github.com/bondly/bondly/internal/bondlysrv/realtime"
	"github.com/bondly/bondly/internal/bondlysrv/retention"
	"github.com/bondly/bondly/internal/bondlysrv/sessions"
	"github.com/bondly/bondly/internal/common/httpx"
	"github.com/bondly/bondly/internal/common/logtrace"
	commonmiddleware "github.com/bondly/bondly/internal/common/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

const (
	ServerVersion = "0.3.0"
	ApiVersion    = "1.0.0"
)

// Deps are the long lived components the routes are built from. Hub and
// Metrics may be nil.
type Deps struct {
	Config       *config.ConfigParam
	Pool         dbmanager.ScopedDb
	Orchestrator *analysis.Orchestrator
	Sweeper      *retention.Sweeper
	Issuer       *auth.Issuer
	Hub          *realtime.Hub
	Metrics      *metrics.Metrics
}

// BondlyServer is the HTTP server with its router and dependencies.
type BondlyServer struct {
	Router *chi.Mux
	deps   Deps
}

// CreateNewServer builds the router. Handlers are mounted by MountHandlers.
func CreateNewServer(deps Deps) (*BondlyServer, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("config is required")
	case deps.Pool == nil:
		return nil, fmt.Errorf("database pool is required")
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("orchestrator is required")
	case deps.Sweeper == nil:
		return nil, fmt.Errorf("sweeper is required")
	case deps.Issuer == nil:
		return nil, fmt.Errorf("token issuer is required")
	}
	return &BondlyServer{
		Router: chi.NewRouter(),
		deps:   deps,
	}, nil
}

func (s *BondlyServer) MountHandlers() {
	cfg := s.deps.Config
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	if cfg.HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Location", commonmiddleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	s.Router.Get("/version", s.getVersion)
	s.Router.Get("/ready", s.getReadiness)
	if s.deps.Metrics != nil {
		s.Router.Handle("/metrics", s.deps.Metrics.Handler())
	}
	s.Router.Route("/api", s.mountAPIHandlers)

	if logtrace.IsTraceEnabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			log.Trace().Str("method", method).Str("route", route).Msg("route")
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("unable to walk routes")
		}
	}
}

func (s *BondlyServer) mountAPIHandlers(r chi.Router) {
	cfg := s.deps.Config

	// Event streams outlive the request timeout and never touch the database.
	if s.deps.Hub != nil {
		r.Get("/sessions/{sessionID}/events", s.deps.Hub.EventsHandler())
	}

	r.Group(func(r chi.Router) {
		r.Use(commonmiddleware.BodyLimit(cfg.MaxRequestBodySize))
		r.Use(commonmiddleware.SetTimeout(cfg.GetRequestTimeout()))
		r.Use(db.LoadScopedDBMiddleware(s.deps.Pool))

		r.Mount("/analyze-session", analysis.Router(s.deps.Orchestrator))
		r.With(auth.CronSecretMiddleware(cfg.Retention.CronSecret, cfg.Environment)).
			Method(http.MethodGet, "/cleanup", retention.CleanupHandler(s.deps.Sweeper))

		var notifier analysis.Notifier
		if s.deps.Hub != nil {
			notifier = s.deps.Hub
		}
		sessions.NewHandlers(s.deps.Issuer, s.deps.Orchestrator, notifier, sessions.Options{
			PublicURL:              cfg.PublicURL,
			AnalyzeOnPartnerSubmit: cfg.Analysis.AnalyzeOnPartnerSubmit,
			RetentionMaxAge:        cfg.Retention.GetMaxAge(),
		}).Mount(r)
	})
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *BondlyServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Bondly Server: " + ServerVersion,
		ApiVersion:    ApiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *BondlyServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Pool.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("database ping failed during readiness check")
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database connection failed",
		})
		return
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
