// Package api provides the REST surface: ticket CRUD, the tool-style
// invoke endpoint, and the chat endpoints backed by the agent.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/odvcencio/deskhand/pkg/agent"
	"github.com/odvcencio/deskhand/pkg/config"
	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/notify"
	"github.com/odvcencio/deskhand/pkg/router"
	"github.com/odvcencio/deskhand/pkg/storage"
)

// ChatAgent is the slice of the agent the chat endpoints need.
type ChatAgent interface {
	Respond(ctx context.Context, sessionID, query, force string) (*agent.Reply, error)
	RespondStream(ctx context.Context, sessionID, query string) (<-chan agent.StreamEvent, error)
	Reset(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) (string, error)
}

// Server is the deskhand HTTP server.
type Server struct {
	store      *storage.Store
	agent      ChatAgent
	router     *router.Router
	notifier   *notify.Fanout
	logger     *logging.Logger
	httpServer *http.Server

	requestDuration *prometheus.HistogramVec
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: :8080)
	Address string

	// Server tuning (timeouts, rate limit)
	Settings config.ServerConfig

	// Store is the ticket and session database
	Store *storage.Store

	// Agent handles chat turns (optional; chat endpoints 503 without it)
	Agent ChatAgent

	// Router exposes routing stats
	Router *router.Router

	// Notifier publishes ticket lifecycle events (optional)
	Notifier *notify.Fanout

	// Logger for request and error logging
	Logger *logging.Logger

	// Registry for metrics (optional)
	Registry *prometheus.Registry
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	s := &Server{
		store:    cfg.Store,
		agent:    cfg.Agent,
		router:   cfg.Router,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}

	s.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deskhand",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	r := chi.NewRouter()
	r.Use(s.withCORS)
	r.Use(s.withLogging)
	r.Use(s.withMetrics)

	if cfg.Settings.RequestsPerSec > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Settings.RequestsPerSec), max(cfg.Settings.Burst, 1))
		r.Use(withRateLimit(limiter))
	}

	r.Get("/healthz", s.handleHealthz)

	if cfg.Registry != nil {
		cfg.Registry.MustRegister(s.requestDuration)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", s.handleCreateTicket)
		r.Get("/", s.handleListTickets)
		r.Get("/summary", s.handleTicketSummary)
		r.Get("/{ticketID}", s.handleGetTicket)
		r.Patch("/{ticketID}", s.handleUpdateTicket)
		r.Put("/{ticketID}", s.handleUpdateTicket)
		r.Delete("/{ticketID}", s.handleDeleteTicket)
	})

	r.Get("/knowledge", s.handleSearchKnowledge)
	r.Post("/knowledge", s.handlePutKnowledge)

	r.Post("/invoke", s.handleInvoke)

	r.Post("/chat", s.handleChat)
	r.Get("/chat/stream", s.handleChatStream)
	r.Post("/chat/reset", s.handleChatReset)
	r.Post("/chat/end", s.handleChatEnd)
	r.Get("/stats", s.handleStats)

	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{sessionID}/messages", s.handleSessionMessages)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for streaming
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info(logging.CategoryAPI, "request", "", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.requestDuration.WithLabelValues(route, r.Method, http.StatusText(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

func withRateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
