package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", s.routes)
	r.Route("/api", s.routes)

	return r
}

// routes registers the API endpoints on r.
func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/messages", func(r chi.Router) {
		r.Get("/", s.handleListMessages)
		r.With(s.sendRateLimitMiddleware).Post("/", s.handleSendMessage)
		r.Get("/stream", s.handleMessageStream)
	})

	r.Get("/contacts", s.handleListContacts)
	r.Get("/status", s.handleStatus)
	r.Get("/node", s.handleNode)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
