// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package report projects a run into its JSON and CSV representations. It
// only reads the store.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/store"
)

// Report is the JSON projection of one run.
type Report struct {
	RunID       int64          `json:"run_id"`
	JobName     string         `json:"job_name"`
	Status      string         `json:"status"`
	StartedAt   string         `json:"started_at"`
	FinishedAt  *string        `json:"finished_at"`
	Parallelism int            `json:"parallelism"`
	Devices     []DeviceReport `json:"devices"`
}

// DeviceReport is one device entry of a report.
type DeviceReport struct {
	Hostname        string             `json:"hostname"`
	MgmtIP          string             `json:"mgmt_ip"`
	Port            int                `json:"port,omitempty"`
	Status          string             `json:"status"`
	StartedAt       *string            `json:"started_at"`
	FinishedAt      *string            `json:"finished_at"`
	DurationSeconds *float64           `json:"duration_seconds"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ErrorCode       string             `json:"error_code,omitempty"`
	TemplateHash    string             `json:"template_hash,omitempty"`
	Tasks           []model.TaskResult `json:"tasks"`
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := isoTime(*t)
	return &s
}

// Build assembles the report for a run.
func Build(st *store.Store, runID int64) (*Report, error) {
	run, err := st.GetRun(runID)
	if err != nil {
		return nil, err
	}
	job, err := st.GetJob(run.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", run.JobID, err)
	}
	runDevices, err := st.ListRunDevices(runID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:       run.ID,
		JobName:     job.Name,
		Status:      run.Status,
		StartedAt:   isoTime(run.StartedAt),
		FinishedAt:  isoTimePtr(run.FinishedAt),
		Parallelism: run.Parallelism,
		Devices:     []DeviceReport{},
	}

	for _, rd := range runDevices {
		entry := DeviceReport{
			Hostname:     "Unknown",
			MgmtIP:       "Unknown",
			Status:       rd.Status,
			StartedAt:    isoTimePtr(rd.StartedAt),
			FinishedAt:   isoTimePtr(rd.FinishedAt),
			ErrorMessage: rd.ErrorMessage,
			ErrorCode:    rd.ErrorCode,
			TemplateHash: rd.TemplateHash,
			Tasks:        rd.Tasks,
		}
		if device, err := st.GetDevice(rd.DeviceID); err == nil {
			entry.Hostname = device.Hostname
			entry.MgmtIP = device.MgmtIP
			entry.Port = device.Port
		}
		if rd.StartedAt != nil && rd.FinishedAt != nil {
			d := rd.FinishedAt.Sub(*rd.StartedAt).Seconds()
			entry.DurationSeconds = &d
		}
		rep.Devices = append(rep.Devices, entry)
	}
	return rep, nil
}

var csvHeader = []string{
	"hostname", "mgmt_ip", "port", "status",
	"started_at", "finished_at", "duration_seconds",
	"error_message", "error_code", "template_hash", "tasks_summary",
}

// BuildCSV renders the CSV projection, derived from the same data as the
// JSON report with tasks flattened into a "name: status; ..." summary.
func BuildCSV(st *store.Store, runID int64) (string, error) {
	rep, err := Build(st, runID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}

	for _, dev := range rep.Devices {
		port := ""
		if dev.Port != 0 {
			port = strconv.Itoa(dev.Port)
		}
		duration := ""
		if dev.DurationSeconds != nil {
			duration = strconv.FormatFloat(*dev.DurationSeconds, 'f', -1, 64)
		}
		var tasks []string
		for _, t := range dev.Tasks {
			tasks = append(tasks, fmt.Sprintf("%s: %s", t.Name, t.Status))
		}
		row := []string{
			dev.Hostname, dev.MgmtIP, port, dev.Status,
			deref(dev.StartedAt), deref(dev.FinishedAt), duration,
			dev.ErrorMessage, dev.ErrorCode, dev.TemplateHash,
			strings.Join(tasks, "; "),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
