// Package api serves the read-only status API of the watch daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/listenupapp/fen/internal/metrics"
	"github.com/listenupapp/fen/internal/watcher"
)

// WatchSource lists the live watch engines. *watcher.Registry satisfies it.
type WatchSource interface {
	Engines() []watcher.EngineInfo
}

// Config holds status API settings.
type Config struct {
	Version string
	// AllowedOrigins enables CORS for browser clients on other origins.
	// Empty disables CORS.
	AllowedOrigins []string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	watches WatchSource
	metrics *metrics.Metrics
	router  *chi.Mux
	api     huma.API
	logger  *slog.Logger
	started time.Time
}

// NewServer creates the status API. m may be nil, in which case /metrics
// is not served and requests are not instrumented.
func NewServer(watches WatchSource, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	s := &Server{
		watches: watches,
		metrics: m,
		router:  router,
		logger:  logger,
		started: time.Now(),
	}

	s.setupMiddleware(cfg.AllowedOrigins)

	humaConfig := huma.DefaultConfig("fen status API", cfg.Version)
	humaConfig.Info.Description = "Read-only view of the watched paths"
	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerWatchRoutes()

	if m != nil {
		router.Handle("/metrics", m.Handler())
	}

	return s
}

// HandleEvents mounts the live event stream at /api/v1/events.
func (s *Server) HandleEvents(h http.Handler) {
	s.router.Handle("/api/v1/events", h)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(origins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Last-Event-ID", "Cache-Control"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
}

// requestLogger logs each request at debug level and feeds the request metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, status, elapsed)
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
