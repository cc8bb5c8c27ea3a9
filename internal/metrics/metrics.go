// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes run and worker counters on the Prometheus
// registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the controller's Prometheus instruments.
type Collector struct {
	RunsStarted     prometheus.Counter
	DevicesVerified prometheus.Counter
	DevicesFailed   prometheus.Counter
	WorkersActive   prometheus.Gauge
}

// NewCollector registers the instruments on a registry; nil uses the
// default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboot_runs_started_total",
			Help: "Number of runs launched.",
		}),
		DevicesVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboot_devices_verified_total",
			Help: "Devices that finished bootstrap verified.",
		}),
		DevicesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboot_devices_failed_total",
			Help: "Devices that finished bootstrap failed.",
		}),
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboot_workers_active",
			Help: "Bootstrap workers currently holding a serial port.",
		}),
	}
}

// NewTestCollector returns a collector on a private registry so tests do not
// collide on the default one.
func NewTestCollector() *Collector {
	return NewCollector(prometheus.NewRegistry())
}
