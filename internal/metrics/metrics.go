// fleetupdate metrics: Prometheus instrumentation for update runs.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus counters and histograms for the
// check/download/commit phases of an update run, in the same
// package-global-registry-with-Reset style as the teacher's
// internal/provisioner/metrics package. Metrics are side-band: the
// Coordinator never requires this package, matching spec.md §5's "no
// process-wide state intrinsic to the core".
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	filesChecked     prometheus.Counter
	filesRequiring   prometheus.Counter
	bytesDownloaded  prometheus.Counter
	downloadDuration prometheus.Histogram
	commitFailures   *prometheus.CounterVec
	runOutcomes      *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors; primarily used by
// tests to ensure clean state between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus
// text format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveFileChecked increments the checked-files counter, and, if
// requiresUpdate is true, the files-requiring-update counter.
func ObserveFileChecked(requiresUpdate bool) {
	mu.RLock()
	defer mu.RUnlock()
	filesChecked.Inc()
	if requiresUpdate {
		filesRequiring.Inc()
	}
}

// ObserveDownload records one completed file download.
func ObserveDownload(bytes int64, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	bytesDownloaded.Add(float64(bytes))
	downloadDuration.Observe(duration.Seconds())
}

// ObserveCommitFailure increments the commit-failure counter for mode
// ("inplace", "staged", "archive").
func ObserveCommitFailure(mode string) {
	mu.RLock()
	defer mu.RUnlock()
	commitFailures.WithLabelValues(mode).Inc()
}

// ObserveRunOutcome increments the run-outcome counter for outcome
// ("success", "no_work", "failed").
func ObserveRunOutcome(outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	runOutcomes.WithLabelValues(outcome).Inc()
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	checked := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetupdate",
		Name:      "files_checked_total",
		Help:      "Total files examined during the check phase.",
	})
	requiring := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetupdate",
		Name:      "files_requiring_update_total",
		Help:      "Total files found stale during the check phase.",
	})
	downloaded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetupdate",
		Name:      "bytes_downloaded_total",
		Help:      "Total bytes downloaded across all update runs.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetupdate",
		Name:      "file_download_duration_seconds",
		Help:      "Duration of individual file downloads.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetupdate",
		Name:      "commit_failures_total",
		Help:      "Total commit-phase failures by install mode.",
	}, []string{"mode"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetupdate",
		Name:      "run_outcomes_total",
		Help:      "Total update runs by outcome.",
	}, []string{"outcome"})

	registry.MustRegister(checked, requiring, downloaded, duration, failures, outcomes)

	reg = registry
	filesChecked = checked
	filesRequiring = requiring
	bytesDownloaded = downloaded
	downloadDuration = duration
	commitFailures = failures
	runOutcomes = outcomes
}
