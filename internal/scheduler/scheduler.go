// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scheduler fans a run out to per-device bootstrap workers under a
// bounded worker pool and assigns the terminal run status.
package scheduler

import (
	"context"
	"sync"

	"github.com/alitto/pond/v2"

	"grimm.is/switchboot/internal/config"
	"grimm.is/switchboot/internal/logging"
	"grimm.is/switchboot/internal/metrics"
	"grimm.is/switchboot/internal/model"
	"grimm.is/switchboot/internal/runner"
	"grimm.is/switchboot/internal/serial"
	"grimm.is/switchboot/internal/store"
)

// Scheduler executes runs in the background. The HTTP handler persists the
// Run row, calls Launch and returns; nothing in the request lifecycle blocks
// on serial I/O.
type Scheduler struct {
	store   *store.Store
	cfg     *config.Config
	metrics *metrics.Collector
	factory runner.TransportFactory

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a scheduler. A nil factory opens real serial ports.
func New(st *store.Store, cfg *config.Config, mc *metrics.Collector, factory runner.TransportFactory) *Scheduler {
	if factory == nil {
		factory = func(sc serial.Config) serial.Transport {
			return serial.NewPort(sc)
		}
	}
	return &Scheduler{
		store:   st,
		cfg:     cfg,
		metrics: mc,
		factory: factory,
		cancels: make(map[int64]context.CancelFunc),
	}
}

// Launch starts background execution of a run and returns immediately.
func (s *Scheduler) Launch(runID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Execute(context.Background(), runID); err != nil {
			logging.WithRun(runID).WithError(err).Error("run execution failed")
		}
	}()
}

// Cancel requests administrative cancellation of a live run. Runners observe
// it between commands and at block boundaries.
func (s *Scheduler) Cancel(runID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all launched runs have finished, used on shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Execute drives one run to its terminal status. Per-device failures are
// recorded on the RunDevice rows and do not fail the run; only breakage of
// the scheduler's own machinery does.
func (s *Scheduler) Execute(ctx context.Context, runID int64) error {
	log := logging.WithRun(runID)

	run, err := s.store.GetRun(runID)
	if err != nil {
		return err
	}
	devices, err := s.store.ListDevicesByJob(run.JobID)
	if err != nil {
		s.store.SetRunStatus(runID, model.RunStatusFailed)
		return err
	}
	if len(devices) == 0 {
		log.Info("run has no devices, completing immediately")
		return s.store.SetRunStatus(runID, model.RunStatusCompleted)
	}

	if s.metrics != nil {
		s.metrics.RunsStarted.Inc()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
	}()

	// Pool width is the concurrency gate: at most parallelism runners hold
	// a serial port at once, never more than the sixteen physical ports.
	width := config.ClampParallelism(run.Parallelism)
	pool := pond.NewPool(width)
	log.WithField("parallelism", width).Infof("dispatching %d devices", len(devices))

	var workerMu sync.Mutex
	var workerErr error

	// Materialize every record up front so a polled run lists all devices
	// as PENDING before their workers start.
	for _, device := range devices {
		if err := s.store.BeginRunDevice(runID, device.ID); err != nil {
			s.store.SetRunStatus(runID, model.RunStatusFailed)
			return err
		}
	}

	for _, device := range devices {
		deviceID := device.ID
		pool.Submit(func() {
			if s.metrics != nil {
				s.metrics.WorkersActive.Inc()
				defer s.metrics.WorkersActive.Dec()
			}
			w := runner.New(s.store, s.cfg, s.factory, runID, deviceID)
			if err := w.Run(runCtx); err != nil {
				logging.WithDevice(runID, deviceID).WithError(err).Error("worker failed")
				workerMu.Lock()
				if workerErr == nil {
					workerErr = err
				}
				workerMu.Unlock()
				return
			}
			s.countOutcome(runID, deviceID)
		})
	}
	pool.StopAndWait()

	if workerErr != nil {
		s.store.SetRunStatus(runID, model.RunStatusFailed)
		return workerErr
	}
	return s.store.SetRunStatus(runID, model.RunStatusCompleted)
}

func (s *Scheduler) countOutcome(runID, deviceID int64) {
	if s.metrics == nil {
		return
	}
	rd, err := s.store.GetRunDevice(runID, deviceID)
	if err != nil {
		return
	}
	switch rd.Status {
	case model.RunDeviceStatusVerified:
		s.metrics.DevicesVerified.Inc()
	case model.RunDeviceStatusFailed:
		s.metrics.DevicesFailed.Inc()
	}
}
