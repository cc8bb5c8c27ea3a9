// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package runner drives one device through the full bootstrap pipeline:
// connect, prompt sync, configure, verify, save. One runner owns one serial
// port for its whole lifetime.
package runner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/logging"
	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/serial"
	"grimm.is/switchboot/internal/store"
	"grimm.is/switchboot/internal/vendors"
)

// errorMarkers are the vendor CLI rejections scanned for in every command
// transcript.
var errorMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Invalid input`),
	regexp.MustCompile(`(?i)Ambiguous command`),
	regexp.MustCompile(`(?i)Incomplete command`),
	regexp.MustCompile(`(?i)% Error`),
}

var promptRegex = regexp.MustCompile(serial.DefaultPromptPattern)

// TransportFactory builds the transport for a port; tests inject mocks here.
type TransportFactory func(cfg serial.Config) serial.Transport

// Runner executes the bootstrap state machine for one (run, device) pair.
type Runner struct {
	store   *store.Store
	cfg     *config.Config
	factory TransportFactory

	runID    int64
	deviceID int64

	device *model.Device
	log    *logrus.Entry
}

// New returns a runner for one device of a run.
func New(st *store.Store, cfg *config.Config, factory TransportFactory, runID, deviceID int64) *Runner {
	return &Runner{
		store:    st,
		cfg:      cfg,
		factory:  factory,
		runID:    runID,
		deviceID: deviceID,
		log:      logging.WithDevice(runID, deviceID),
	}
}

// event appends one entry to the run's log. Store failures here are logged
// and swallowed; losing an event must not abort a live serial dialog.
func (r *Runner) event(level, message, raw, code string) {
	ev := &model.EventLog{
		RunID:     r.runID,
		DeviceID:  r.deviceID,
		Level:     level,
		Message:   message,
		Raw:       raw,
		ErrorCode: code,
		TS:        time.Now().UTC(),
	}
	if r.device != nil {
		ev.Port = r.device.Port
	}
	if err := r.store.AppendEvent(ev); err != nil {
		r.log.WithError(err).Warn("failed to append event")
	}
}

// fail records the terminal FAILED state with its diagnostic code.
func (r *Runner) fail(code, message, raw string) {
	r.event(model.LevelError, message, raw, code)
	if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusFailed, &store.StatusUpdate{
		ErrorMessage: message,
		ErrorCode:    code,
	}); err != nil {
		r.log.WithError(err).Error("failed to record device failure")
	}
}

// mapErrorCode classifies a transport error by its text, mirroring the
// closed code set.
func mapErrorCode(err error) string {
	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "timeout"):
		return model.CodeSerialTimeout
	case strings.Contains(low, "prompt"):
		return model.CodePromptNotFound
	default:
		return model.CodeCommandError
	}
}

// findErrorMarker returns the matched vendor-error marker in a transcript,
// or "".
func findErrorMarker(transcript string) string {
	for _, re := range errorMarkers {
		if m := re.FindString(transcript); m != "" {
			return m
		}
	}
	return ""
}

// cancelled checks for administrative cancellation. Checked between
// commands and at the start of each block.
func (r *Runner) cancelled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	r.event(model.LevelWarning, "Run cancelled", "", "")
	if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusFailed, &store.StatusUpdate{
		ErrorMessage: "cancelled",
	}); err != nil {
		r.log.WithError(err).Error("failed to record cancellation")
	}
	return true
}

// Run executes the state machine to a terminal RunDevice status. Device
// failures are recorded and do not surface as errors; the returned error is
// reserved for store-level breakage the scheduler should know about.
func (r *Runner) Run(ctx context.Context) error {
	device, err := r.store.GetDevice(r.deviceID)
	if err != nil || device == nil || device.Port == 0 {
		r.event(model.LevelError, "Device or port not specified", "", model.CodeValidationError)
		return r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusFailed, &store.StatusUpdate{
			ErrorMessage: "Device or port not specified",
			ErrorCode:    model.CodeValidationError,
		})
	}
	r.device = device

	if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusRunning, nil); err != nil {
		return err
	}

	portPath := r.cfg.PortPath(device.Port)
	session := r.factory(serial.Config{
		Path:    portPath,
		Baud:    r.cfg.SerialBaud,
		Timeout: r.cfg.SerialTimeout,
	})

	r.event(model.LevelInfo, "Connecting to "+portPath, "", "")
	if err := session.Open(); err != nil {
		r.fail(mapErrorCode(err), fmt.Sprintf("Failed to open %s: %v", portPath, err), "")
		return nil
	}
	// The port is owned exclusively by this runner; release it on every
	// exit path, panics included.
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("runner panic: %v", rec)
			r.fail(model.CodeCommandError, fmt.Sprintf("Execution error: %v", rec), "")
		}
		session.Close()
	}()

	r.event(model.LevelInfo, "Synchronizing prompt...", "", "")
	if err := session.SendLine(""); err != nil {
		r.fail(mapErrorCode(err), fmt.Sprintf("Execution error: %v", err), "")
		return nil
	}
	prompt, err := session.ReadUntilPrompt(promptRegex, r.cfg.SerialTimeout)
	if err != nil {
		r.fail(model.CodePromptNotFound, "Prompt synchronization failed", prompt)
		return nil
	}
	r.event(model.LevelDebug, "Initial prompt detected", prompt, "")

	adapter := vendors.Get(device.Vendor)
	params := vendors.ParamsFromDevice(device)
	blocks, err := adapter.BootstrapCommands(params)
	if err != nil {
		r.fail(model.CodeTemplateError, fmt.Sprintf("Template rendering failed: %v", err), "")
		return nil
	}

	// The hash is written before any command runs so a partial failure
	// stays attributable to what was being applied.
	hash := vendors.TemplateHash(vendors.RenderPreview(blocks))
	if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusRunning, &store.StatusUpdate{
		TemplateHash: hash,
	}); err != nil {
		return err
	}

	r.event(model.LevelInfo, fmt.Sprintf("Applying %d configuration blocks", len(blocks)), "", "")
	for _, block := range blocks {
		if r.cancelled(ctx) {
			return nil
		}
		r.event(model.LevelInfo, "Applying block: "+block.Name, "", "")
		for _, cmd := range block.Commands {
			if strings.TrimSpace(cmd) == "" {
				continue
			}
			if r.cancelled(ctx) {
				return nil
			}
			if err := session.SendLine(cmd); err != nil {
				r.fail(mapErrorCode(err), fmt.Sprintf("Failed to send command '%s': %v", cmd, err), "")
				return nil
			}
			output, err := session.ReadUntilPrompt(promptRegex, r.cfg.SerialTimeout)
			if err != nil {
				r.fail(model.CodeSerialTimeout, fmt.Sprintf("Serial timeout during command: %s", cmd), output)
				return nil
			}
			r.event(model.LevelDebug, "Command executed: "+cmd, output, "")

			if marker := findErrorMarker(output); marker != "" {
				if block.Critical {
					msg := fmt.Sprintf("Critical Error in command '%s': %s", cmd, marker)
					r.event(model.LevelError, msg, output, model.CodeCommandError)
					if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusFailed, &store.StatusUpdate{
						ErrorMessage: msg,
						ErrorCode:    model.CodeCommandError,
					}); err != nil {
						return err
					}
					return nil
				}
				r.event(model.LevelWarning, fmt.Sprintf("Non-critical error in command '%s': %s", cmd, marker), output, "")
			}
		}
	}

	if r.cancelled(ctx) {
		return nil
	}

	r.event(model.LevelInfo, "Verifying configuration...", "", "")
	var transcript strings.Builder
	for _, cmd := range adapter.VerifyCommands(params) {
		if r.cancelled(ctx) {
			return nil
		}
		if err := session.SendLine(cmd); err != nil {
			r.fail(mapErrorCode(err), fmt.Sprintf("Failed to send command '%s': %v", cmd, err), "")
			return nil
		}
		output, err := session.ReadUntilPrompt(promptRegex, r.cfg.SerialTimeout)
		if err != nil {
			r.fail(model.CodeSerialTimeout, fmt.Sprintf("Serial timeout during command: %s", cmd), output)
			return nil
		}
		transcript.WriteString(output)
		transcript.WriteString("\n")
	}

	result := adapter.ParseVerify(transcript.String(), params)
	if !result.Success {
		r.event(model.LevelError, "Verification failed: "+result.Details, transcript.String(), model.CodeVerifyFailed)
		if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusFailed, &store.StatusUpdate{
			ErrorMessage: "Verification failed: " + result.Details,
			ErrorCode:    model.CodeVerifyFailed,
			Tasks:        result.Tasks,
		}); err != nil {
			return err
		}
		return nil
	}

	// Save-phase problems never demote a verified device; the baseline is
	// already applied, only persistence across reboot is at risk.
	r.event(model.LevelInfo, "Saving configuration...", "", "")
	for _, cmd := range adapter.SaveCommands(params) {
		if err := session.SendLine(cmd); err != nil {
			r.event(model.LevelWarning, fmt.Sprintf("Save command '%s' failed: %v", cmd, err), "", "")
			break
		}
		output, err := session.ReadUntilPrompt(promptRegex, r.cfg.SerialTimeout)
		if err != nil {
			r.event(model.LevelWarning, fmt.Sprintf("Save command '%s' timed out", cmd), output, "")
			continue
		}
		if marker := findErrorMarker(output); marker != "" {
			r.event(model.LevelWarning, fmt.Sprintf("Save command '%s' reported: %s", cmd, marker), output, "")
		}
	}

	if err := r.store.SetRunDeviceStatus(r.runID, r.deviceID, model.RunDeviceStatusVerified, &store.StatusUpdate{
		Tasks: result.Tasks,
	}); err != nil {
		return err
	}
	r.event(model.LevelInfo, "Device bootstrap verified", "", "")
	return nil
}
