package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/gatebridge/internal/api/middleware"
	"github.com/flowpbx/gatebridge/internal/config"
	"github.com/flowpbx/gatebridge/internal/dashboard"
	"github.com/flowpbx/gatebridge/internal/database"
	"github.com/flowpbx/gatebridge/internal/ipacl"
	"github.com/flowpbx/gatebridge/internal/metrics"
	"github.com/flowpbx/gatebridge/internal/voice"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	ledger   database.ActivityRepository
	voice    *voice.Handler
	guard    *ipacl.Guard
	pages    dashboard.Renderer
	registry *prometheus.Registry
	// baseLogger is handed to middleware that adds its own subsystem.
	baseLogger *slog.Logger
	logger     *slog.Logger

	voiceLimiter     *middleware.KeyedLimiter
	dashboardLimiter *middleware.KeyedLimiter

	ledgerTimeout time.Duration
}

// NewServer creates the HTTP handler with all routes mounted. Call Close
// when done to stop the rate limiter cleanup goroutines.
func NewServer(cfg *config.Config, ledger database.ActivityRepository, doors voice.DoorController, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		ledger: ledger,
		voice: voice.NewHandler(voice.Settings{
			AuthToken:          cfg.TwilioAuthToken,
			PublicBaseURL:      cfg.PublicBaseURL,
			Voice:              cfg.TTSVoice,
			AllowedCallersFile: cfg.AllowedCallersFile,
			DoorName:           cfg.DoorName,
			ActorID:            cfg.ActorID,
			ActorName:          cfg.ActorName,
		}, doors, ledger, logger),
		guard:      ipacl.NewGuard(cfg.DashboardPrefixes, logger),
		registry:   prometheus.NewRegistry(),
		baseLogger: logger,
		logger:     logger.With("subsystem", "api"),

		voiceLimiter:     middleware.NewKeyedLimiter(middleware.VoiceLimits()),
		dashboardLimiter: middleware.NewKeyedLimiter(middleware.DashboardLimits()),

		ledgerTimeout: voice.LedgerWriteTimeout,
	}
	s.registry.MustRegister(metrics.NewCollector(ledger, s.voice, time.Now(), logger))

	s.logger.Info("dashboard access restricted", "prefixes", fmt.Sprint(s.guard.Prefixes()))

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.voiceLimiter.Stop()
	s.dashboardLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.StructuredLogger(s.baseLogger))
	r.Use(middleware.Recoverer)

	// Liveness probe. Unauthenticated and never touches the ledger.
	r.Get("/healthz", s.handleHealth)

	// Provider webhooks. Authenticated per request by signature.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.voiceLimiter, middleware.ClientIP, s.baseLogger))

		r.Post(voice.InitialPath, s.voice.Initial)
		r.Post(voice.ConfirmPath, s.voice.Confirm)
		r.Post(voice.LegacyInitialPath, s.voice.Initial)
		r.Post(voice.LegacyConfirmPath, s.voice.Confirm)
	})

	// Operator pages, restricted by source address.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.dashboardLimiter, middleware.ClientIP, s.baseLogger))
		r.Use(middleware.SecurityHeaders(false))
		r.Use(s.requireDashboardAddr)

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/dashboard/activity", s.handleActivity)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	})

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	s.logger.Debug("api routes mounted")
}

// handleHealth returns a trivial liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

// handleNotFound answers POSTs with spoken markup so a misconfigured
// webhook still ends the call cleanly; everything else gets plain text.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.voice.NotFound(w, r)
		return
	}
	writePlain(w, http.StatusNotFound, "not found")
}
