// Package api provides the HTTP REST API for portprobe. It serves probe,
// report and schedule endpoints plus health, version and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/portprobe/docs/swagger" // Import generated swagger docs
	apihandlers "github.com/anstrom/portprobe/internal/api/handlers"
	"github.com/anstrom/portprobe/internal/api/middleware"
	"github.com/anstrom/portprobe/internal/auth"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/probe"
)

const defaultShutdownTimeout = 30 * time.Second

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	prober     apihandlers.Prober
	store      apihandlers.ReportStore
	limiter    *probe.Limiter
	scheduler  apihandlers.ScheduleManager
	database   apihandlers.DatabasePinger
	metrics    *metrics.PrometheusMetrics
	keyring    *auth.Keyring
	logger     *logging.Logger
	stopLimit  func()
	startTime  time.Time
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithStore enables the stored report endpoints.
func WithStore(store apihandlers.ReportStore) Option {
	return func(s *Server) { s.store = store }
}

// WithLimiter caps concurrent scans and reports capacity on /health.
func WithLimiter(l *probe.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithScheduler enables the schedule endpoints.
func WithScheduler(m apihandlers.ScheduleManager) Option {
	return func(s *Server) { s.scheduler = m }
}

// WithDatabase adds a database check to /health.
func WithDatabase(p apihandlers.DatabasePinger) Option {
	return func(s *Server) { s.database = p }
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new API server instance.
func New(cfg *config.Config, prober apihandlers.Prober, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		prober:    prober,
		keyring:   auth.NewKeyring(cfg.API.APIKeys),
		logger:    logging.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(server)
	}
	server.logger = server.logger.WithComponent("api")

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:           server.handler(),
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
	}

	return server, nil
}

// Start starts the API server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"auth", s.keyring.Enabled(),
		"docs", s.config.API.EnableDocs)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		s.shutdownMiddleware()
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	defer s.shutdownMiddleware()

	timeout := s.config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

func (s *Server) shutdownMiddleware() {
	if s.stopLimit != nil {
		s.stopLimit()
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	var scans apihandlers.ScanCapacity
	var admission apihandlers.Admission
	if s.limiter != nil {
		scans = s.limiter
		admission = s.limiter
	}

	health := apihandlers.NewHealthHandler(s.database, scans, s.logger)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	probes := apihandlers.NewProbeHandler(s.prober, s.store, admission, s.logger)
	stream := apihandlers.NewStreamHandler(probes, s.streamOrigins())
	api.HandleFunc("/probes", probes.CreateProbe).Methods(http.MethodPost)
	api.HandleFunc("/probes", probes.ListProbes).Methods(http.MethodGet)
	// Registered before /probes/{id} so "stream" is not taken for an ID.
	api.HandleFunc("/probes/stream", stream.StreamProbe).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}", probes.GetProbe).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}", probes.DeleteProbe).Methods(http.MethodDelete)

	if s.scheduler != nil {
		schedules := apihandlers.NewScheduleHandler(s.scheduler, s.logger)
		api.HandleFunc("/schedules", schedules.ListSchedules).Methods(http.MethodGet)
		api.HandleFunc("/schedules", schedules.CreateSchedule).Methods(http.MethodPost)
		api.HandleFunc("/schedules/{name}", schedules.DeleteSchedule).Methods(http.MethodDelete)
		api.HandleFunc("/schedules/{name}/enable", schedules.EnableSchedule).Methods(http.MethodPost)
		api.HandleFunc("/schedules/{name}/disable", schedules.DisableSchedule).Methods(http.MethodPost)
		api.HandleFunc("/schedules/{name}/run", schedules.RunSchedule).Methods(http.MethodPost)
	}

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	if s.config.API.EnableDocs {
		s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
			httpSwagger.DeepLinking(true),
			httpSwagger.DocExpansion("none"),
		))
		s.router.HandleFunc("/docs", s.redirectToSwagger).Methods(http.MethodGet)
		s.router.HandleFunc("/docs/", s.redirectToSwagger).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// setupMiddleware installs router middleware. Order matters: the request ID
// must exist before recovery and logging run, and authentication must run
// before body handling.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	s.router.Use(middleware.SecurityHeaders())

	if rl := s.config.API.RateLimit; rl.Enabled && rl.Requests > 0 {
		mw, stop := middleware.RateLimit(rl.Requests, rl.Window, s.logger)
		s.stopLimit = stop
		s.router.Use(mw)
	}

	if s.keyring.Enabled() {
		s.router.Use(middleware.Authentication(s.keyring, s.logger))
	}

	s.router.Use(middleware.ContentType())
	s.router.Use(middleware.MaxBodySize(s.config.API.MaxRequestSize))
}

// handler wraps the router in CORS handling. Preflight requests never match
// a route, so CORS sits outside the router instead of in its middleware.
func (s *Server) handler() http.Handler {
	cors := s.config.API.CORS
	if !cors.Enabled {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(cors.AllowedOrigins),
		handlers.AllowedHeaders(cors.AllowedHeaders),
		handlers.AllowedMethods(cors.AllowedMethods),
	)(s.router)
}

// streamOrigins lists the origins allowed to open websockets. Without CORS
// only same-origin browsers may connect.
func (s *Server) streamOrigins() []string {
	if !s.config.API.CORS.Enabled {
		return nil
	}
	return s.config.API.CORS.AllowedOrigins
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"health":  "/api/v1/health",
		"version": "/api/v1/version",
		"probes":  "/api/v1/probes",
		"stream":  "/api/v1/probes/stream",
	}
	if s.scheduler != nil {
		endpoints["schedules"] = "/api/v1/schedules"
	}
	if s.metrics != nil {
		endpoints["metrics"] = "/metrics"
	}
	if s.config.API.EnableDocs {
		endpoints["docs"] = "/swagger/"
	}

	response := map[string]interface{}{
		"service":   "portprobe API",
		"version":   "v1",
		"endpoints": endpoints,
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// redirectToSwagger redirects to the Swagger UI.
func (s *Server) redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// Handler returns the complete HTTP handler, including CORS handling.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
