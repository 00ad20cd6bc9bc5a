// Package web exposes the appliance state over HTTP: a small JSON API,
// the diagnostic frame log, and a WebSocket event stream. It replaces
// the ANSI status screen of earlier tooling.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"greenbox-home/internal/device"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication on all routes.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version reported by /api/info.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP surface over one device session.
type Server struct {
	session        *device.Session
	hub            *wsHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the web server and subscribes it to session
// events.
func NewServer(session *device.Session, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		session: session,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = newWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.run()
	}()

	s.unsubEvents = session.Events().OnAll(func(event device.Event) {
		s.hub.broadcast(event)
	})

	s.routes()
	return s
}

// Stop unsubscribes from events and shuts the WebSocket hub down.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.hub.stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/frames", s.handleFrames)
	s.mux.HandleFunc("GET /api/info", s.handleInfo)
	s.mux.HandleFunc("POST /api/light", s.handleLight)
	s.mux.HandleFunc("POST /api/lamps/{id}", s.handleLamp)
	s.mux.HandleFunc("POST /api/wake", s.handleWake)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler with optional API key auth.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			// WebSocket clients cannot set headers; accept a query
			// parameter there.
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json response", "err", err)
	}
}
