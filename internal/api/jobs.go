// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/policy"
)

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

type jobRequest struct {
	Name     string `json:"name"`
	Customer string `json:"customer"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs()
	if err != nil {
		notFoundOr500(w, err, "jobs")
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Job name is required")
		return
	}
	job, err := s.store.CreateJob(req.Name, req.Customer)
	if err != nil {
		notFoundOr500(w, err, "job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(pathID(r, "id"))
	if err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string `json:"name"`
		Customer *string `json:"customer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id := pathID(r, "id")
	if _, err := s.store.GetJob(id); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	job, err := s.store.UpdateJob(id, req.Name, req.Customer)
	if err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(pathID(r, "id")); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleDryRun validates every device of a job and returns the aggregated
// policy errors without touching any hardware.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if _, err := s.store.GetJob(id); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	devices, err := s.store.ListDevicesByJob(id)
	if err != nil {
		notFoundOr500(w, err, "devices")
		return
	}
	errs := policy.ValidateJob(devices)
	if errs == nil {
		errs = []model.ValidationError{}
	}
	writeJSON(w, http.StatusOK, errs)
}
