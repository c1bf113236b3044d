// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probing

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tablePrometheusMetrics sync.Once

	tableInsertProbes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "probing",
			Subsystem: "table",
			Name:      "insert_probes",
			Help:      "Number of buckets examined by Insert() to find a free bucket",
			Buckets:   prometheus.ExponentialBuckets(1.0, 2.0, 8),
		},
		[]string{"name", "outcome"},
	)
	tableLookupProbes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "probing",
			Subsystem: "table",
			Name:      "lookup_probes",
			Help:      "Number of buckets examined by Get(), Contains() and Ref()",
			Buckets:   prometheus.ExponentialBuckets(1.0, 2.0, 8),
		},
		[]string{"name", "outcome"},
	)
	tableResizes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probing",
			Subsystem: "table",
			Name:      "resizes_total",
			Help:      "Number of times a table doubled its capacity",
		},
		[]string{"name"},
	)
	tableTombstoneReuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probing",
			Subsystem: "table",
			Name:      "tombstone_reuses_total",
			Help:      "Number of inserts that were placed in a bucket emptied by a removal",
		},
		[]string{"name"},
	)
)

// Metrics holds the Prometheus metrics for one or more tables sharing a
// name. A nil *Metrics records nothing.
type Metrics struct {
	insertInserted prometheus.Observer
	insertFull     prometheus.Observer
	lookupFound    prometheus.Observer
	lookupNotFound prometheus.Observer

	resizes         prometheus.Counter
	tombstoneReuses prometheus.Counter
}

// NewMetrics returns the metrics labeled with name, registering the
// underlying collectors with the default registry on first use.
func NewMetrics(name string) *Metrics {
	tablePrometheusMetrics.Do(func() {
		prometheus.MustRegister(tableInsertProbes)
		prometheus.MustRegister(tableLookupProbes)
		prometheus.MustRegister(tableResizes)
		prometheus.MustRegister(tableTombstoneReuses)
	})

	return &Metrics{
		insertInserted: tableInsertProbes.WithLabelValues(name, "Inserted"),
		insertFull:     tableInsertProbes.WithLabelValues(name, "Full"),
		lookupFound:    tableLookupProbes.WithLabelValues(name, "Found"),
		lookupNotFound: tableLookupProbes.WithLabelValues(name, "NotFound"),

		resizes:         tableResizes.WithLabelValues(name),
		tombstoneReuses: tableTombstoneReuses.WithLabelValues(name),
	}
}

func (m *Metrics) observeInsert(probes int, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.insertInserted.Observe(float64(probes))
	} else {
		m.insertFull.Observe(float64(probes))
	}
}

func (m *Metrics) observeLookup(probes int, found bool) {
	if m == nil {
		return
	}
	if found {
		m.lookupFound.Observe(float64(probes))
	} else {
		m.lookupNotFound.Observe(float64(probes))
	}
}

func (m *Metrics) incResizes() {
	if m == nil {
		return
	}
	m.resizes.Inc()
}

func (m *Metrics) incTombstoneReuse() {
	if m == nil {
		return
	}
	m.tombstoneReuses.Inc()
}
