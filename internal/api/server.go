package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yksanjo/tinyguardian/internal/store"
	"github.com/yksanjo/tinyguardian/internal/ws"
)

// Classifier exposes classifier health to the API.
type Classifier interface {
	State() string
}

// Server serves the dashboard REST API, the alert websocket, and the
// metrics endpoint.
type Server struct {
	store      store.Store
	hub        *ws.Hub
	classifier Classifier
	started    time.Time
}

// NewServer creates an API server. hub may be nil to disable /ws.
func NewServer(st store.Store, hub *ws.Hub, classifier Classifier) *Server {
	return &Server{store: st, hub: hub, classifier: classifier, started: time.Now()}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Get("/ws", s.hub.Serve)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", s.handleListAlerts)
		r.Patch("/alerts/{id}/status", s.handleUpdateAlertStatus)
		r.Get("/events", s.handleRecentEvents)
		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/{id}/block", s.handleBlockDevice)
		r.Get("/stats", s.handleStats)
	})

	return r
}
