// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/policy"
	"grimm.is/switchboot/internal/store"
	"grimm.is/switchboot/internal/vendors"
)

type deviceRequest struct {
	Port     int    `json:"port"`
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	Hostname string `json:"hostname"`
	MgmtIP   string `json:"mgmt_ip"`
	Mask     string `json:"mask"`
	Gateway  string `json:"gateway"`
	MgmtVLAN int    `json:"mgmt_vlan"`
}

func (req *deviceRequest) check() string {
	if req.Hostname == "" || req.MgmtIP == "" || req.Mask == "" || req.Gateway == "" {
		return "hostname, mgmt_ip, mask and gateway are required"
	}
	if req.Port != 0 && (req.Port < 1 || req.Port > model.MaxPorts) {
		return fmt.Sprintf("port must be between 1 and %d", model.MaxPorts)
	}
	if req.MgmtVLAN != 0 && (req.MgmtVLAN < model.MinVLAN || req.MgmtVLAN > model.MaxVLAN) {
		return fmt.Sprintf("mgmt_vlan must be between %d and %d", model.MinVLAN, model.MaxVLAN)
	}
	return ""
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r, "id")
	if _, err := s.store.GetJob(jobID); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	devices, err := s.store.ListDevicesByJob(jobID)
	if err != nil {
		notFoundOr500(w, err, "devices")
		return
	}
	if devices == nil {
		devices = []*model.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r, "id")
	if _, err := s.store.GetJob(jobID); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.check(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	device, err := s.store.CreateDevice(&model.Device{
		JobID:    jobID,
		Port:     req.Port,
		Vendor:   req.Vendor,
		Model:    req.Model,
		Hostname: req.Hostname,
		MgmtIP:   req.MgmtIP,
		Mask:     req.Mask,
		Gateway:  req.Gateway,
		MgmtVLAN: req.MgmtVLAN,
	})
	if err != nil {
		notFoundOr500(w, err, "device")
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	if _, err := s.store.GetDevice(id); err != nil {
		notFoundOr500(w, err, "Device")
		return
	}
	var req struct {
		Port     *int    `json:"port"`
		Vendor   *string `json:"vendor"`
		Model    *string `json:"model"`
		Hostname *string `json:"hostname"`
		MgmtIP   *string `json:"mgmt_ip"`
		Mask     *string `json:"mask"`
		Gateway  *string `json:"gateway"`
		MgmtVLAN *int    `json:"mgmt_vlan"`
		Status   *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	upd := store.DeviceUpdate{
		Port:     req.Port,
		Vendor:   req.Vendor,
		Model:    req.Model,
		Hostname: req.Hostname,
		MgmtIP:   req.MgmtIP,
		Mask:     req.Mask,
		Gateway:  req.Gateway,
		MgmtVLAN: req.MgmtVLAN,
		Status:   req.Status,
	}
	if upd.Port != nil && (*upd.Port < 1 || *upd.Port > model.MaxPorts) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("port must be between 1 and %d", model.MaxPorts))
		return
	}
	device, err := s.store.UpdateDevice(id, &upd)
	if err != nil {
		notFoundOr500(w, err, "Device")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDevice(pathID(r, "id")); err != nil {
		notFoundOr500(w, err, "Device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type importResponse struct {
	SuccessCount int                     `json:"success_count"`
	Errors       []model.ValidationError `json:"errors"`
}

// handleImportCSV accepts a multipart upload (field "file") and creates one
// device per valid row; failed rows are reported but do not block the rest.
func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r, "id")
	if _, err := s.store.GetJob(jobID); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	count, errs := policy.ImportCSV(s.store, jobID, file)
	if errs == nil {
		errs = []model.ValidationError{}
	}
	writeJSON(w, http.StatusOK, importResponse{SuccessCount: count, Errors: errs})
}

type previewResponse struct {
	DeviceID      int64  `json:"device_id"`
	Hostname      string `json:"hostname"`
	Vendor        string `json:"vendor"`
	CommandStream string `json:"commands"`
	Hash          string `json:"hash"`
}

func buildPreview(device *model.Device) (*previewResponse, error) {
	adapter := vendors.Get(device.Vendor)
	blocks, err := adapter.BootstrapCommands(vendors.ParamsFromDevice(device))
	if err != nil {
		return nil, err
	}
	stream := vendors.RenderPreview(blocks)
	return &previewResponse{
		DeviceID:      device.ID,
		Hostname:      device.Hostname,
		Vendor:        adapter.VendorID(),
		CommandStream: stream,
		Hash:          vendors.TemplateHash(stream),
	}, nil
}

// handleDevicePreview renders one device's full command stream plus its
// template hash, without touching the device.
func (s *Server) handleDevicePreview(w http.ResponseWriter, r *http.Request) {
	device, err := s.store.GetDevice(pathID(r, "deviceID"))
	if err != nil {
		notFoundOr500(w, err, "Device")
		return
	}
	if device.JobID != pathID(r, "id") {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	preview, err := buildPreview(device)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Template rendering failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type bulkPreviewEntry struct {
	DeviceID      int64  `json:"device_id"`
	Hostname      string `json:"hostname,omitempty"`
	Vendor        string `json:"vendor,omitempty"`
	CommandStream string `json:"commands,omitempty"`
	Hash          string `json:"hash,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleBulkPreview(w http.ResponseWriter, r *http.Request) {
	jobID := pathID(r, "id")
	if _, err := s.store.GetJob(jobID); err != nil {
		notFoundOr500(w, err, "Job")
		return
	}
	devices, err := s.store.ListDevicesByJob(jobID)
	if err != nil {
		notFoundOr500(w, err, "devices")
		return
	}
	previews := []bulkPreviewEntry{}
	for _, device := range devices {
		entry := bulkPreviewEntry{DeviceID: device.ID}
		if p, err := buildPreview(device); err != nil {
			entry.Error = err.Error()
		} else {
			entry.Hostname = p.Hostname
			entry.Vendor = p.Vendor
			entry.CommandStream = p.CommandStream
			entry.Hash = p.Hash
		}
		previews = append(previews, entry)
	}
	writeJSON(w, http.StatusOK, previews)
}
