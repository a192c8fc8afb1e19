// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for the parse store
// and pipeline. All collectors are optional: a nil *Set is safe to call, so
// library code does not need to guard every increment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the parse store collectors.
type Set struct {
	FilesAdded       prometheus.Counter
	ParsesPublished  *prometheus.CounterVec // label: kind = typed|untyped|cleared|saved-state
	FastPathHits     prometheus.Counter
	Commits          prometheus.Counter
	Rollbacks        prometheus.Counter
	ModulesRemoved   prometheus.Counter
	ArenaUsedBytes   prometheus.Gauge
	CacheLookups     *prometheus.CounterVec // labels: cache = ast|aloc, result = hit|miss
	ParseDuration    prometheus.Histogram
	PublishFailures  prometheus.Counter
}

// New creates and registers the collector set. reg may be
// prometheus.DefaultRegisterer or a private registry in tests.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		FilesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "files_added_total",
			Help: "File records created.",
		}),
		ParsesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "parses_published_total",
			Help: "Parse records published to the heap, by kind.",
		}, []string{"kind"}),
		FastPathHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "unchanged_hash_hits_total",
			Help: "Publishes skipped because the content hash was unchanged.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "commits_total",
			Help: "Committed transactions.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "rollbacks_total",
			Help: "Rolled back transactions.",
		}),
		ModulesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "modules_removed_total",
			Help: "Module records removed at commit for having no providers.",
		}),
		ArenaUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parseheap", Name: "arena_used_bytes",
			Help: "Bytes reserved in the blob arena.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "reader_cache_lookups_total",
			Help: "Reader-side cache lookups, by cache and result.",
		}, []string{"cache", "result"}),
		ParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parseheap", Name: "parse_duration_seconds",
			Help:    "Wall time to parse one file.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parseheap", Name: "publish_failures_total",
			Help: "Publishes that failed, almost always arena exhaustion.",
		}),
	}
	reg.MustRegister(
		s.FilesAdded, s.ParsesPublished, s.FastPathHits, s.Commits,
		s.Rollbacks, s.ModulesRemoved, s.ArenaUsedBytes, s.CacheLookups,
		s.ParseDuration, s.PublishFailures,
	)
	return s
}

// IncFilesAdded increments FilesAdded; safe on a nil Set.
func (s *Set) IncFilesAdded() {
	if s != nil {
		s.FilesAdded.Inc()
	}
}

// IncParsePublished increments ParsesPublished for kind; safe on a nil Set.
func (s *Set) IncParsePublished(kind string) {
	if s != nil {
		s.ParsesPublished.WithLabelValues(kind).Inc()
	}
}

// IncFastPath increments FastPathHits; safe on a nil Set.
func (s *Set) IncFastPath() {
	if s != nil {
		s.FastPathHits.Inc()
	}
}

// IncCommits increments Commits; safe on a nil Set.
func (s *Set) IncCommits() {
	if s != nil {
		s.Commits.Inc()
	}
}

// IncRollbacks increments Rollbacks; safe on a nil Set.
func (s *Set) IncRollbacks() {
	if s != nil {
		s.Rollbacks.Inc()
	}
}

// AddModulesRemoved adds n to ModulesRemoved; safe on a nil Set.
func (s *Set) AddModulesRemoved(n int) {
	if s != nil {
		s.ModulesRemoved.Add(float64(n))
	}
}

// SetArenaUsed records the arena's reserved bytes; safe on a nil Set.
func (s *Set) SetArenaUsed(n int64) {
	if s != nil {
		s.ArenaUsedBytes.Set(float64(n))
	}
}

// IncCacheLookup records one reader cache lookup; safe on a nil Set.
func (s *Set) IncCacheLookup(cache string, hit bool) {
	if s == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveParse records one parse duration in seconds; safe on a nil Set.
func (s *Set) ObserveParse(seconds float64) {
	if s != nil {
		s.ParseDuration.Observe(seconds)
	}
}

// IncPublishFailures increments PublishFailures; safe on a nil Set.
func (s *Set) IncPublishFailures() {
	if s != nil {
		s.PublishFailures.Inc()
	}
}
