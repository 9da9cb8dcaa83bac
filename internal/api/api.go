// Package api serves the portal's REST endpoints and mounts the realtime
// endpoints alongside them
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/swasthsaathi/portal/internal/crossbar"
	"github.com/swasthsaathi/portal/internal/hub"
	"github.com/swasthsaathi/portal/internal/login"
	"github.com/swasthsaathi/portal/internal/metrics"
	"github.com/swasthsaathi/portal/internal/records"
)

// Config represents what the API needs to serve requests
type Config struct {
	Service   *records.Service
	Directory *login.Directory
	Hub       *hub.Hub

	// Crossbar serves /ws and /api/events, if not nil
	Crossbar *crossbar.Crossbar

	// Metrics instruments requests and serves /metrics, if not nil
	Metrics *metrics.Collector

	// Secret signs login tokens
	Secret string

	// Audience is written into login tokens
	Audience string

	// TokenTTL is the lifetime of login tokens
	TokenTTL time.Duration

	// Now is the clock for token timestamps
	Now func() time.Time
}

// Handlers holds the API's dependencies
type Handlers struct {
	config Config
}

// New returns the portal's HTTP handler
func New(config Config) http.Handler {

	if config.Now == nil {
		config.Now = time.Now
	}

	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}

	h := &Handlers{config: config}

	router := mux.NewRouter()

	if config.Metrics != nil {
		router.Use(config.Metrics.Middleware)
		router.Handle("/metrics", config.Metrics.Handler()).Methods(http.MethodGet)
	}

	h.RegisterRoutes(router)

	if config.Crossbar != nil {
		router.HandleFunc("/ws", config.Crossbar.ServeWs)
		router.HandleFunc("/api/events", config.Crossbar.ServeEvents).Methods(http.MethodGet)
	}

	// cors must see requests before the router, so that preflight
	// requests are answered even though no route has OPTIONS
	return cors(requestLogger(recoverer(router)))
}

// RegisterRoutes registers the REST routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/login", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/api/patient/{id}", h.GetPatient).Methods(http.MethodGet)
	router.HandleFunc("/api/add-record", h.AddRecord).Methods(http.MethodPost)
	router.HandleFunc("/api/add-prescription", h.AddPrescription).Methods(http.MethodPost)
	router.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/stats", h.Stats).Methods(http.MethodGet)
}
