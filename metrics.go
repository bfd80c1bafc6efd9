/*
Copyright © 2020 the no2obs authors.
This file is part of no2obs.

no2obs is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

no2obs is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with no2obs.  If not, see <http://www.gnu.org/licenses/>.
*/

package no2obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds counters describing one processing run. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	FilesRead    prometheus.Counter
	FilesSkipped prometheus.Counter
	PixelsRead   prometheus.Counter
	PixelsKept   prometheus.Counter
	CellsFilled  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the metrics for the named job and registers them
// with a new registry.
func NewMetrics(job string) *Metrics {
	labels := prometheus.Labels{"job": job}
	m := &Metrics{
		FilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "no2obs",
			Name:        "files_read_total",
			Help:        "Input files read successfully.",
			ConstLabels: labels,
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "no2obs",
			Name:        "files_skipped_total",
			Help:        "Input files that were missing or unreadable.",
			ConstLabels: labels,
		}),
		PixelsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "no2obs",
			Name:        "pixels_read_total",
			Help:        "Satellite pixels read from swath files.",
			ConstLabels: labels,
		}),
		PixelsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "no2obs",
			Name:        "pixels_kept_total",
			Help:        "Satellite pixels that passed the quality filters.",
			ConstLabels: labels,
		}),
		CellsFilled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "no2obs",
			Name:        "cells_filled",
			Help:        "Output grid cells holding at least one observation.",
			ConstLabels: labels,
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.FilesRead, m.FilesSkipped, m.PixelsRead, m.PixelsKept, m.CellsFilled)
	return m
}

// Gatherer returns the registry holding the metrics. A nil *Metrics
// returns an empty registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// WriteTextfile writes the metrics in the Prometheus text format to
// filename, for collection by the node exporter textfile collector.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(filename, m.registry)
}

func (m *Metrics) fileRead() {
	if m != nil {
		m.FilesRead.Inc()
	}
}

func (m *Metrics) fileSkipped() {
	if m != nil {
		m.FilesSkipped.Inc()
	}
}

func (m *Metrics) pixels(read, kept int) {
	if m != nil {
		m.PixelsRead.Add(float64(read))
		m.PixelsKept.Add(float64(kept))
	}
}

func (m *Metrics) cellsFilled(n int) {
	if m != nil {
		m.CellsFilled.Set(float64(n))
	}
}
