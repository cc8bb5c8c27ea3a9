// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package model defines the entities shared by the store, the bootstrap
// engine and the HTTP surface: jobs, devices, runs, per-device run records
// and event logs.
package model

import "time"

// Run status values. A run is created RUNNING and moves to exactly one
// terminal state.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// RunDevice status values.
const (
	RunDeviceStatusPending  = "PENDING"
	RunDeviceStatusRunning  = "RUNNING"
	RunDeviceStatusVerified = "VERIFIED"
	RunDeviceStatusFailed   = "FAILED"
)

// Event log levels.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Error codes form a closed set; everything a device can fail with maps to
// one of these.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeTemplateError   = "TEMPLATE_ERROR"
	CodeSerialTimeout   = "SERIAL_TIMEOUT"
	CodePromptNotFound  = "PROMPT_NOT_FOUND"
	CodeCommandError    = "COMMAND_ERROR"
	CodeVerifyFailed    = "VERIFY_FAILED"
)

// Physical limits of the controller: sixteen serial ports, VLAN id range.
const (
	MaxPorts = 16
	MinVLAN  = 1
	MaxVLAN  = 4094
)

// Job groups the devices of one deployment and owns its runs.
type Job struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Customer  string    `json:"customer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is one switch to bootstrap. Port and MgmtVLAN are optional; zero
// means unset.
type Device struct {
	ID       int64  `json:"id"`
	JobID    int64  `json:"job_id"`
	Port     int    `json:"port,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Model    string `json:"model,omitempty"`
	Hostname string `json:"hostname"`
	MgmtIP   string `json:"mgmt_ip"`
	Mask     string `json:"mask"`
	Gateway  string `json:"gateway"`
	MgmtVLAN int    `json:"mgmt_vlan,omitempty"`
	Status   string `json:"status"`
}

// Run is one execution of a job's devices.
type Run struct {
	ID          int64      `json:"id"`
	JobID       int64      `json:"job_id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	Parallelism int        `json:"parallelism"`
}

// RunDevice is the per-device record within a run.
type RunDevice struct {
	RunID        int64      `json:"run_id"`
	DeviceID     int64      `json:"device_id"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	TemplateHash string     `json:"template_hash,omitempty"`
	Tasks        []TaskResult `json:"tasks,omitempty"`
}

// Terminal reports whether the record reached a final state.
func (rd *RunDevice) Terminal() bool {
	return rd.Status == RunDeviceStatusVerified || rd.Status == RunDeviceStatusFailed
}

// EventLog is one append-only entry in a run's event stream. Raw carries
// verbatim transport bytes when a transcript is attached.
type EventLog struct {
	ID        int64     `json:"id"`
	RunID     int64     `json:"run_id"`
	DeviceID  int64     `json:"device_id,omitempty"`
	Port      int       `json:"port,omitempty"`
	TS        time.Time `json:"ts"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
}

// TaskResult is one sub-check of a vendor verification.
type TaskResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "success" or "failed"
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CommandBlock is a named group of CLI commands. A vendor-error marker inside
// a critical block fails the device; inside a non-critical block it only
// logs a warning.
type CommandBlock struct {
	Name         string   `json:"name"`
	Commands     []string `json:"commands"`
	Critical     bool     `json:"critical"`
	ExpectPrompt string   `json:"expect_prompt,omitempty"`
}

// VerifyResult is the parsed outcome of the vendor verification transcript.
type VerifyResult struct {
	Success bool         `json:"success"`
	Details string       `json:"details"`
	Tasks   []TaskResult `json:"tasks"`
}

// ValidationError reports one failed policy rule for a device or CSV row.
type ValidationError struct {
	Field      string `json:"field"`
	DeviceID   int64  `json:"device_id,omitempty"`
	Row        int    `json:"row,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}
