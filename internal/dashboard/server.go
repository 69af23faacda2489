// Package dashboard is the optional loopback monitoring surface for the
// agent: live outcome events over WebSocket plus statistics and history
// endpoints. It replaces a native statistics viewer; the core pipeline does
// not depend on it.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/securepaste/securepaste/internal/config"
	"github.com/securepaste/securepaste/internal/history"
	"github.com/securepaste/securepaste/internal/logger"
	"github.com/securepaste/securepaste/internal/notify"
	"github.com/securepaste/securepaste/internal/stats"
	"go.uber.org/zap"
)

// Server serves the monitoring API and pushes live events to connected
// dashboards.
type Server struct {
	config    config.DashboardConfig
	logger    *logger.Logger
	hub       *Hub
	stats     *stats.Store
	history   *history.Store
	transport func() string
	version   string
	started   time.Time

	router  *mux.Router
	server  *http.Server
	hubDone chan struct{}
}

// New creates a dashboard server. history may be nil when the audit trail is
// disabled.
func New(cfg config.DashboardConfig, statsStore *stats.Store, historyStore *history.Store, transport func() string, version string, log *logger.Logger) *Server {
	if transport == nil {
		transport = func() string { return "unknown" }
	}

	s := &Server{
		config:    cfg,
		logger:    log,
		hub:       NewHub(log.WithComponent("hub")),
		stats:     statsStore,
		history:   historyStore,
		transport: transport,
		version:   version,
		started:   time.Now(),
		router:    mux.NewRouter(),
		hubDone:   make(chan struct{}),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStatsReset).Methods("DELETE")
	s.router.HandleFunc("/history", s.handleHistory).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	s.router.HandleFunc("/", s.handleDashboard).Methods("GET")
}

// Notifier returns a pipeline notifier that feeds the event hub.
func (s *Server) Notifier() notify.Notifier {
	return hubNotifier{hub: s.hub}
}

// Start starts the HTTP server and the event hub.
func (s *Server) Start() error {
	s.logger.Info("Starting dashboard",
		zap.String("bind", s.config.Bind),
		zap.Int("port", s.config.Port),
	)

	go s.hub.Run(s.hubDone)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and the hub.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping dashboard")
	close(s.hubDone)
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"name":             "securepaste",
		"version":          s.version,
		"uptime":           time.Since(s.started).Round(time.Second).String(),
		"engine_transport": s.transport(),
		"clients":          s.hub.ClientCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.stats.Get())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	s.stats.Reset()
	s.logger.Info("Statistics reset via dashboard")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, `{"error":"history disabled"}`, http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("History query failed", zap.Error(err))
		http.Error(w, `{"error":"history query failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"count":      len(records),
		"operations": records,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, dashboardHTML)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// hubNotifier bridges pipeline outcome events onto the WebSocket hub.
type hubNotifier struct {
	hub *Hub
}

func (n hubNotifier) AnonymizationApplied(ev notify.AppliedEvent) {
	n.hub.Broadcast(Event{Type: EventTypeDetection, Timestamp: ev.Timestamp, Data: ev})
}

func (n hubNotifier) RunFailed(ev notify.FailureEvent) {
	n.hub.Broadcast(Event{Type: EventTypeFailure, Timestamp: ev.Timestamp, Data: ev})
}
