// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runner

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/serial"
	"grimm.is/switchboot/internal/store"
)

type fixture struct {
	store  *store.Store
	cfg    *config.Config
	mock   *serial.MockTransport
	run    *model.Run
	device *model.Device
}

func newFixture(t *testing.T, vendor string, responses []interface{}) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	job, err := s.CreateJob("rollout", "")
	require.NoError(t, err)
	device, err := s.CreateDevice(&model.Device{
		JobID:    job.ID,
		Port:     1,
		Vendor:   vendor,
		Hostname: "sw-01",
		MgmtIP:   "10.0.0.10",
		Mask:     "255.255.255.0",
		Gateway:  "10.0.0.1",
	})
	require.NoError(t, err)
	run, err := s.CreateRun(job.ID, 1)
	require.NoError(t, err)

	return &fixture{
		store:  s,
		cfg:    config.Default(),
		mock:   &serial.MockTransport{Responses: responses},
		run:    run,
		device: device,
	}
}

func (f *fixture) runner() *Runner {
	factory := func(serial.Config) serial.Transport { return f.mock }
	return New(f.store, f.cfg, factory, f.run.ID, f.device.ID)
}

func (f *fixture) runDevice(t *testing.T) *model.RunDevice {
	t.Helper()
	rd, err := f.store.GetRunDevice(f.run.ID, f.device.ID)
	require.NoError(t, err)
	return rd
}

func (f *fixture) eventMessages(t *testing.T) []string {
	t.Helper()
	events, err := f.store.ListEvents(f.run.ID)
	require.NoError(t, err)
	msgs := make([]string, len(events))
	for i, ev := range events {
		msgs[i] = ev.Message
	}
	return msgs
}

func TestRunGenericSuccess(t *testing.T) {
	// One scripted prompt is enough: the mock repeats it for every command,
	// and the generic adapter verifies unconditionally.
	f := newFixture(t, "", []interface{}{"Switch#"})
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusVerified, rd.Status)
	assert.Empty(t, rd.ErrorCode)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{12}$`), rd.TemplateHash)
	require.NotNil(t, rd.StartedAt)
	require.NotNil(t, rd.FinishedAt)
	require.Len(t, rd.Tasks, 1)
	assert.Equal(t, "generic", rd.Tasks[0].Name)

	msgs := f.eventMessages(t)
	assert.Contains(t, msgs, "Connecting to /dev/port1")
	assert.Contains(t, msgs, "Synchronizing prompt...")
	assert.Contains(t, msgs, "Applying 1 configuration blocks")
	assert.Contains(t, msgs, "Applying block: Bootstrap")
	assert.Contains(t, msgs, "Verifying configuration...")
	assert.Contains(t, msgs, "Saving configuration...")
	assert.Contains(t, msgs, "Device bootstrap verified")

	assert.True(t, f.mock.Closed)
	assert.Equal(t, "", f.mock.Sent[0]) // prompt sync newline
}

func TestRunCriticalCommandError(t *testing.T) {
	f := newFixture(t, "cisco", []interface{}{
		"Switch#", // prompt sync
		"% Invalid input detected at '^' marker.\nSwitch#", // conf t
	})
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, model.CodeCommandError, rd.ErrorCode)
	assert.Equal(t, "Critical Error in command 'conf t': Invalid input", rd.ErrorMessage)

	// Nothing past the failing block was sent.
	assert.Equal(t, []string{"", "conf t"}, f.mock.Sent)
	assert.True(t, f.mock.Closed)
}

func TestRunSerialTimeoutDuringCommand(t *testing.T) {
	f := newFixture(t, "", []interface{}{
		"Switch#",
		&serial.TimeoutError{Captured: "hostname sw-0"},
	})
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, model.CodeSerialTimeout, rd.ErrorCode)
	assert.True(t, strings.HasPrefix(rd.ErrorMessage, "Serial timeout during command:"))
	assert.True(t, f.mock.Closed)
}

func TestRunPromptSyncFailure(t *testing.T) {
	f := newFixture(t, "", []interface{}{
		&serial.TimeoutError{Captured: "garbage"},
	})
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, model.CodePromptNotFound, rd.ErrorCode)
	assert.Equal(t, "Prompt synchronization failed", rd.ErrorMessage)
}

func TestRunOpenFailure(t *testing.T) {
	f := newFixture(t, "", nil)
	f.mock.OpenErr = assert.AnError
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Contains(t, rd.ErrorMessage, "Failed to open /dev/port1")
	assert.False(t, f.mock.Opened)
}

func TestRunVerifyFailure(t *testing.T) {
	// Every command echoes a bare prompt, so configuration succeeds but the
	// verify transcript never shows the management IP or SSH state.
	f := newFixture(t, "cisco", []interface{}{"Switch#"})
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, model.CodeVerifyFailed, rd.ErrorCode)
	assert.Contains(t, rd.ErrorMessage, "Verification failed:")
	require.Len(t, rd.Tasks, 2) // ip_configured, ssh_enabled; no VLAN declared
	for _, task := range rd.Tasks {
		assert.Equal(t, "failed", task.Status)
	}
}

func TestRunMissingPort(t *testing.T) {
	f := newFixture(t, "", nil)
	zero := 0
	_, err := f.store.UpdateDevice(f.device.ID, &store.DeviceUpdate{Port: &zero})
	require.NoError(t, err)

	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, model.CodeValidationError, rd.ErrorCode)
	assert.Equal(t, "Device or port not specified", rd.ErrorMessage)
	assert.False(t, f.mock.Opened)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, "", []interface{}{"Switch#"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.runner().Run(ctx))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, "cancelled", rd.ErrorMessage)
	assert.True(t, f.mock.Closed)
}

// cancelAfterSend cancels a context once a given command goes out, so tests
// can cancel a run at an exact point in the dialog.
type cancelAfterSend struct {
	*serial.MockTransport
	trigger string
	cancel  context.CancelFunc
}

func (c *cancelAfterSend) SendLine(cmd string) error {
	if cmd == c.trigger {
		c.cancel()
	}
	return c.MockTransport.SendLine(cmd)
}

func TestRunCancelledDuringVerify(t *testing.T) {
	// Cisco issues several verify commands; cancelling after the first one
	// must stop the rest from being sent.
	f := newFixture(t, "cisco", []interface{}{"Switch#"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &cancelAfterSend{
		MockTransport: f.mock,
		trigger:       "show ip interface brief",
		cancel:        cancel,
	}
	factory := func(serial.Config) serial.Transport { return transport }
	r := New(f.store, f.cfg, factory, f.run.ID, f.device.ID)
	require.NoError(t, r.Run(ctx))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	assert.Equal(t, "cancelled", rd.ErrorMessage)
	assert.Contains(t, f.mock.Sent, "show ip interface brief")
	assert.NotContains(t, f.mock.Sent, "show ip ssh")
	assert.True(t, f.mock.Closed)
}

func TestRunNonCriticalErrorContinues(t *testing.T) {
	// Generic bootstrap has 4 commands; script the save phase to report an
	// error marker and confirm the device still ends VERIFIED.
	f := newFixture(t, "", []interface{}{
		"Switch#", // sync
		"Switch#", "Switch#", "Switch#", "Switch#", // bootstrap block
		"Switch#", // verify
		"% Error saving\nSwitch#", // write
	})
	require.NoError(t, f.runner().Run(context.Background()))

	rd := f.runDevice(t)
	assert.Equal(t, model.RunDeviceStatusVerified, rd.Status)

	var sawWarning bool
	for _, msg := range f.eventMessages(t) {
		if strings.Contains(msg, "Save command 'write' reported:") {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning)
}

func TestFindErrorMarker(t *testing.T) {
	assert.Equal(t, "Invalid input", findErrorMarker("% Invalid input detected"))
	assert.Equal(t, "Ambiguous command", findErrorMarker("% Ambiguous command: sh"))
	assert.Equal(t, "Incomplete command", findErrorMarker("% Incomplete command."))
	assert.Equal(t, "% Error", findErrorMarker("% Error writing nvram"))
	assert.Equal(t, "", findErrorMarker("Building configuration... [OK]"))
}

func TestMapErrorCode(t *testing.T) {
	assert.Equal(t, model.CodeSerialTimeout, mapErrorCode(&serial.TimeoutError{}))
	assert.Equal(t, model.CodeCommandError, mapErrorCode(assert.AnError))
}
