// Package server implements the BFF HTTP surface (C13): read-only OHLC and
// symbol-listing endpoints over the price service and provider registry,
// cron lock/unlock/synchronize controls over the scheduler, a liveness
// probe, and a websocket tick feed. Routing follows the teacher's
// internal/server/server.go shape: chi.Router plus go-chi/cors, grouped
// route setup methods, and a thin http.Server wrapper with fixed
// read/write/idle timeouts.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/appstate"
	"github.com/aristath/marketpulse/internal/priceservice"
	"github.com/aristath/marketpulse/internal/providers"
)

// EvolutionStats is the subset of internal/evolution.Runner the BFF exposes
// read-only, kept as an interface to avoid a dependency cycle and to let
// tests substitute a stub.
type EvolutionStats interface {
	Statistics() (Statistics, error)
}

// Statistics mirrors internal/genetic.Statistics's JSON shape without
// importing that package from internal/server.
type Statistics struct {
	Best   float64 `json:"best"`
	Worst  float64 `json:"worst"`
	Median float64 `json:"median"`
	P55    float64 `json:"p55"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	StdDev float64 `json:"std_dev"`
}

// Synchronizer is called by PUT .../cronjobs/synchronize. The server binary
// supplies fetchSynchronizer (cmd/server), which runs the fetch_ohcl route
// for the configured evolution symbol over a trailing window; no watchlist
// is re-read from any configuration portal. A no-op default is used when
// none is configured.
type Synchronizer interface {
	Synchronize(ctx context.Context) error
}

type noopSynchronizer struct{}

func (noopSynchronizer) Synchronize(context.Context) error { return nil }

// Config controls Server construction.
type Config struct {
	Port         int
	Log          zerolog.Logger
	PriceService *priceservice.Service
	Providers    *providers.Registry
	AppState     *appstate.State
	Synchronizer Synchronizer
	Evolution    EvolutionStats
	DevMode      bool
}

// Server wraps a chi.Mux and the handler dependencies behind it.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	priceService *priceservice.Service
	providers    *providers.Registry
	appstate     *appstate.State
	sync         Synchronizer
	evolution    EvolutionStats

	hub *tickHub
}

// New constructs a Server with routes wired, but not yet listening.
func New(cfg Config) *Server {
	sync := cfg.Synchronizer
	if sync == nil {
		sync = noopSynchronizer{}
	}

	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		priceService: cfg.PriceService,
		providers:    cfg.Providers,
		appstate:     cfg.AppState,
		sync:         sync,
		evolution:    cfg.Evolution,
		hub:          newTickHub(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the underlying handler, primarily for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws/ticks", s.handleTicksWebSocket)

	s.router.Route("/api/investing/v1", func(r chi.Router) {
		r.Get("/ohcl/{broker}/{symbol}", s.handleGetOhcl)
		r.Get("/symbols/{broker}/{product}", s.handleListSymbols)
	})

	s.router.Route("/api/config/v1/cronjobs", func(r chi.Router) {
		r.Put("/lock", s.handleCronLock)
		r.Put("/unlock", s.handleCronUnlock)
		r.Put("/synchronize", s.handleCronSynchronize)
	})

	s.router.Route("/api/evolution/v1", func(r chi.Router) {
		r.Get("/stats", s.handleEvolutionStats)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// ListenAndServe starts the HTTP server, blocking until it exits.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting BFF server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// BroadcastTick fans a scheduler tick out to every connected /ws/ticks
// client; called by the external driver loop alongside appstate.Tick.
func (s *Server) BroadcastTick(msg TickMessage) {
	s.hub.broadcast(msg)
}
