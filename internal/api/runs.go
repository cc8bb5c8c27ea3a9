// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/policy"
	"grimm.is/switchboot/internal/report"
)

// handleStartRun persists the run, hands it to the scheduler and returns
// immediately. Validation failures abort before anything is persisted.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r, "id")
	if _, err := s.store.GetJob(jobID); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}

	var req struct {
		Parallelism int `json:"parallelism"`
	}
	if r.Body != nil {
		// Body is optional; an empty or absent one falls back to the
		// configured default.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	parallelism := req.Parallelism
	if parallelism == 0 {
		parallelism = s.cfg.DefaultParallelism
	}
	parallelism = config.ClampParallelism(parallelism)

	devices, err := s.store.ListDevicesByJob(jobID)
	if err != nil {
		notFoundOr500(w, err, "devices")
		return
	}
	if len(devices) == 0 {
		writeError(w, http.StatusBadRequest, "Job has no devices")
		return
	}
	if errs := policy.ValidateJob(devices); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": fmt.Sprintf("Validation failed for %d device(s)", len(errs)),
			"errors": errs,
		})
		return
	}

	run, err := s.store.CreateRun(jobID, parallelism)
	if err != nil {
		notFoundOr500(w, err, "run")
		return
	}
	s.scheduler.Launch(run.ID)
	writeJSON(w, http.StatusCreated, run)
}

// handleGetRun returns the run row together with its per-device records.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	run, err := s.store.GetRun(id)
	if err != nil {
		notFoundOr500(w, err, "Run")
		return
	}
	runDevices, err := s.store.ListRunDevices(id)
	if err != nil {
		notFoundOr500(w, err, "run devices")
		return
	}
	if runDevices == nil {
		runDevices = []*model.RunDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run,
		"devices": runDevices,
	})
}

// handleRunLogs returns the run's event stream in append order.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if _, err := s.store.GetRun(id); err != nil {
		notFoundOr500(w, err, "Run")
		return
	}
	events, err := s.store.ListEvents(id)
	if err != nil {
		notFoundOr500(w, err, "events")
		return
	}
	if events == nil {
		events = []*model.EventLog{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleCancelRun signals a live run to stop. Runners observe the signal at
// command boundaries, so in-flight commands finish first.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	run, err := s.store.GetRun(id)
	if err != nil {
		notFoundOr500(w, err, "Run")
		return
	}
	if run.Status != model.RunStatusRunning {
		writeError(w, http.StatusConflict, "Run is not running")
		return
	}
	if !s.scheduler.Cancel(id) {
		writeError(w, http.StatusConflict, "Run is not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleReportJSON(w http.ResponseWriter, r *http.Request) {
	rep, err := report.Build(s.store, pathID(r, "id"))
	if err != nil {
		notFoundOr500(w, err, "Run")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	out, err := report.BuildCSV(s.store, id)
	if err != nil {
		notFoundOr500(w, err, "Run")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=run_%d_report.csv", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
