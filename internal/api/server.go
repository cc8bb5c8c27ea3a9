// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api is the HTTP control surface: CRUD over jobs, devices and runs,
// CSV import, dry-run and preview over the pure core, and report downloads.
// Run execution itself happens in the scheduler; handlers never block on
// serial I/O.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/logging"
	"grimm.is/switchboot/internal/scheduler"
	"grimm.is/switchboot/internal/store"
)

// ServerConfig holds the HTTP server hardening knobs.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns conservative defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      10 << 20,
	}
}

// Server handles API requests.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	srvCfg    *ServerConfig
}

// NewServer wires the control surface to its dependencies.
func NewServer(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		srvCfg:    DefaultServerConfig(),
	}
}

// Handler returns the full HTTP surface. CORS wraps the router from outside
// so preflight requests are answered even when no route matches the OPTIONS
// method.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.Router())
}

// Router builds the route table with the passcode middleware applied.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.passcodeMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleCreateJob).Methods("POST")
	r.HandleFunc("/jobs/{id:[0-9]+}", s.handleGetJob).Methods("GET")
	r.HandleFunc("/jobs/{id:[0-9]+}", s.handleUpdateJob).Methods("PATCH")
	r.HandleFunc("/jobs/{id:[0-9]+}", s.handleDeleteJob).Methods("DELETE")

	r.HandleFunc("/jobs/{id:[0-9]+}/devices", s.handleListDevices).Methods("GET")
	r.HandleFunc("/jobs/{id:[0-9]+}/devices", s.handleCreateDevice).Methods("POST")
	r.HandleFunc("/jobs/{id:[0-9]+}/devices/import-csv", s.handleImportCSV).Methods("POST")
	r.HandleFunc("/devices/{id:[0-9]+}", s.handleUpdateDevice).Methods("PATCH")
	r.HandleFunc("/devices/{id:[0-9]+}", s.handleDeleteDevice).Methods("DELETE")

	r.HandleFunc("/jobs/{id:[0-9]+}/dry-run", s.handleDryRun).Methods("POST")
	r.HandleFunc("/jobs/{id:[0-9]+}/devices/{deviceID:[0-9]+}/preview", s.handleDevicePreview).Methods("GET")
	r.HandleFunc("/jobs/{id:[0-9]+}/preview", s.handleBulkPreview).Methods("POST")

	r.HandleFunc("/jobs/{id:[0-9]+}/runs", s.handleStartRun).Methods("POST")
	r.HandleFunc("/runs/{id:[0-9]+}", s.handleGetRun).Methods("GET")
	r.HandleFunc("/runs/{id:[0-9]+}/logs", s.handleRunLogs).Methods("GET")
	r.HandleFunc("/runs/{id:[0-9]+}/cancel", s.handleCancelRun).Methods("POST")
	r.HandleFunc("/runs/{id:[0-9]+}/report.json", s.handleReportJSON).Methods("GET")
	r.HandleFunc("/runs/{id:[0-9]+}/report.csv", s.handleReportCSV).Methods("GET")

	r.HandleFunc("/ports", s.handlePorts).Methods("GET")

	return r
}

// ListenAndServe runs the HTTP server until the listener fails.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           http.MaxBytesHandler(s.Handler(), s.srvCfg.MaxBodyBytes),
		ReadHeaderTimeout: s.srvCfg.ReadHeaderTimeout,
		ReadTimeout:       s.srvCfg.ReadTimeout,
		WriteTimeout:      s.srvCfg.WriteTimeout,
		IdleTimeout:       s.srvCfg.IdleTimeout,
		MaxHeaderBytes:    s.srvCfg.MaxHeaderBytes,
	}
	logging.WithField("addr", s.cfg.ListenAddr).Info("control surface listening")
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.WithError(err).Warn("failed to encode response")
	}
}

// writeError responds with the {"detail": ...} error shape used across the
// API.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// notFoundOr500 maps a store lookup failure to the right status.
func notFoundOr500(w http.ResponseWriter, err error, what string) {
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	logging.Logger.WithError(err).Error("storage error")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
