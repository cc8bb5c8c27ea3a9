// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/metrics"
	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/serial"
	"grimm.is/switchboot/internal/store"
)

// gaugedTransport counts how many sessions are open at once so tests can
// observe the scheduler's concurrency ceiling.
type gaugedTransport struct {
	active *int64
	peak   *int64
}

func (g *gaugedTransport) Open() error {
	n := atomic.AddInt64(g.active, 1)
	for {
		p := atomic.LoadInt64(g.peak)
		if n <= p || atomic.CompareAndSwapInt64(g.peak, p, n) {
			return nil
		}
	}
}

func (g *gaugedTransport) Close() error {
	atomic.AddInt64(g.active, -1)
	return nil
}

func (g *gaugedTransport) SendLine(string) error { return nil }

func (g *gaugedTransport) ReadUntilPrompt(*regexp.Regexp, time.Duration) (string, error) {
	// Hold the port long enough for other workers to overlap.
	time.Sleep(5 * time.Millisecond)
	return "Switch#", nil
}

func (g *gaugedTransport) Flush() error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedJob(t *testing.T, s *store.Store, devices int) int64 {
	t.Helper()
	job, err := s.CreateJob("rollout", "")
	require.NoError(t, err)
	for i := 1; i <= devices; i++ {
		_, err := s.CreateDevice(&model.Device{
			JobID:    job.ID,
			Port:     i,
			Hostname: fmt.Sprintf("sw-%02d", i),
			MgmtIP:   fmt.Sprintf("10.0.0.%d", 9+i),
			Mask:     "255.255.255.0",
			Gateway:  "10.0.0.1",
		})
		require.NoError(t, err)
	}
	return job.ID
}

func TestExecuteBoundedParallelism(t *testing.T) {
	s := newTestStore(t)
	jobID := seedJob(t, s, 8)

	var active, peak int64
	factory := func(serial.Config) serial.Transport {
		return &gaugedTransport{active: &active, peak: &peak}
	}

	mc := metrics.NewTestCollector()
	sched := New(s, config.Default(), mc, factory)

	run, err := s.CreateRun(jobID, 4)
	require.NoError(t, err)
	require.NoError(t, sched.Execute(context.Background(), run.ID))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)

	rds, err := s.ListRunDevices(run.ID)
	require.NoError(t, err)
	require.Len(t, rds, 8)
	for _, rd := range rds {
		assert.Equal(t, model.RunDeviceStatusVerified, rd.Status)
	}

	observed := atomic.LoadInt64(&peak)
	assert.LessOrEqual(t, observed, int64(4), "pool must never exceed the requested width")
	assert.GreaterOrEqual(t, observed, int64(2), "devices should overlap under width 4")

	assert.Equal(t, float64(8), testutil.ToFloat64(mc.DevicesVerified))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.RunsStarted))
	assert.Equal(t, float64(0), testutil.ToFloat64(mc.WorkersActive))
}

func TestExecuteClampsParallelism(t *testing.T) {
	s := newTestStore(t)
	jobID := seedJob(t, s, 3)

	var active, peak int64
	factory := func(serial.Config) serial.Transport {
		return &gaugedTransport{active: &active, peak: &peak}
	}
	sched := New(s, config.Default(), metrics.NewTestCollector(), factory)

	// Parallelism 0 is clamped to 1: strictly sequential.
	run, err := s.CreateRun(jobID, 0)
	require.NoError(t, err)
	require.NoError(t, sched.Execute(context.Background(), run.ID))
	assert.Equal(t, int64(1), atomic.LoadInt64(&peak))
}

func TestExecuteEmptyJobCompletes(t *testing.T) {
	s := newTestStore(t)
	job, _ := s.CreateJob("empty", "")
	sched := New(s, config.Default(), metrics.NewTestCollector(), nil)

	run, err := s.CreateRun(job.ID, 4)
	require.NoError(t, err)
	require.NoError(t, sched.Execute(context.Background(), run.ID))

	got, _ := s.GetRun(run.ID)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestExecuteCountsFailures(t *testing.T) {
	s := newTestStore(t)
	jobID := seedJob(t, s, 2)

	// Ports that cannot be opened fail the devices but not the run.
	factory := func(serial.Config) serial.Transport {
		return &serial.MockTransport{OpenErr: assert.AnError}
	}
	mc := metrics.NewTestCollector()
	sched := New(s, config.Default(), mc, factory)

	run, err := s.CreateRun(jobID, 2)
	require.NoError(t, err)
	require.NoError(t, sched.Execute(context.Background(), run.ID))

	got, _ := s.GetRun(run.ID)
	assert.Equal(t, model.RunStatusCompleted, got.Status)

	rds, _ := s.ListRunDevices(run.ID)
	for _, rd := range rds {
		assert.Equal(t, model.RunDeviceStatusFailed, rd.Status)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(mc.DevicesFailed))
}

func TestLaunchAndWait(t *testing.T) {
	s := newTestStore(t)
	jobID := seedJob(t, s, 1)

	factory := func(serial.Config) serial.Transport {
		return &serial.MockTransport{Responses: []interface{}{"Switch#"}}
	}
	sched := New(s, config.Default(), metrics.NewTestCollector(), factory)

	run, err := s.CreateRun(jobID, 1)
	require.NoError(t, err)
	sched.Launch(run.ID)
	sched.Wait()

	got, _ := s.GetRun(run.ID)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestCancelUnknownRun(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, config.Default(), metrics.NewTestCollector(), nil)
	assert.False(t, sched.Cancel(42))
}

func TestCancelStopsRun(t *testing.T) {
	s := newTestStore(t)
	jobID := seedJob(t, s, 4)

	release := make(chan struct{})
	var once int32
	factory := func(serial.Config) serial.Transport {
		return &blockingTransport{release: release, once: &once}
	}
	sched := New(s, config.Default(), metrics.NewTestCollector(), factory)

	run, err := s.CreateRun(jobID, 1)
	require.NoError(t, err)
	sched.Launch(run.ID)

	// Wait for the first worker to be mid-dialog, then cancel.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&once) == 1 }, time.Second, time.Millisecond)
	assert.True(t, sched.Cancel(run.ID))
	close(release)
	sched.Wait()

	rds, err := s.ListRunDevices(run.ID)
	require.NoError(t, err)
	var cancelled int
	for _, rd := range rds {
		if rd.ErrorMessage == "cancelled" {
			cancelled++
		}
	}
	assert.NotZero(t, cancelled)
}

// blockingTransport parks the first reader until released so a test can
// cancel a run while it is demonstrably in flight.
type blockingTransport struct {
	release chan struct{}
	once    *int32
}

func (b *blockingTransport) Open() error  { return nil }
func (b *blockingTransport) Close() error { return nil }

func (b *blockingTransport) SendLine(string) error { return nil }

func (b *blockingTransport) ReadUntilPrompt(*regexp.Regexp, time.Duration) (string, error) {
	if atomic.CompareAndSwapInt32(b.once, 0, 1) {
		<-b.release
	}
	return "Switch#", nil
}

func (b *blockingTransport) Flush() error { return nil }
