// Package server exposes the publishing registry over HTTP.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/publish"
	"github.com/blacktop/xpostd/internal/status"
)

const (
	headerAPIKey        = "X-API-Key"
	headerPlatform      = "X-Platform"
	headerPlatformID    = "X-Platform-Id"
	headerPlatformToken = "X-Platform-Token"
	headerCorrelationID = "X-Correlation-Id"

	defaultMaxBodyBytes = 100 << 20
	multipartMemory     = 32 << 20
)

// Options configures the HTTP surface.
type Options struct {
	// APIKey, when set, is required in the X-API-Key header on /v1 routes.
	APIKey          string
	MaxBodyBytes    int64
	SubscriberQueue int
	Heartbeat       time.Duration
}

// Server routes HTTP requests to per-destination publishing services.
type Server struct {
	registry *publish.Registry
	events   *status.Broadcaster
	opts     Options
	started  time.Time
	router   chi.Router
	log      *log.Logger
}

// New builds the router. events may be nil, which disables /v1/events.
func New(registry *publish.Registry, events *status.Broadcaster, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	s := &Server{
		registry: registry,
		events:   events,
		opts:     opts,
		started:  time.Now(),
		log:      logutil.With("component", "http"),
	}
	s.buildRouter()
	return s
}

// Close ends live event streams and fails queued requests with SHUTDOWN.
// It is meant for http.Server.RegisterOnShutdown.
func (s *Server) Close() {
	s.registry.Close()
	if s.events != nil {
		s.events.Close()
	}
}

func (s *Server) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/post", s.handlePost)
		r.Post("/post/{id}/update", s.handleUpdate)
		r.Get("/stats", s.handleStats)
		r.Get("/validate", s.handleValidate)
		r.Get("/events", s.handleEvents)
	})

	s.router = r
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" {
			got := r.Header.Get(headerAPIKey)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logutil.Warnf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
