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
	"math/rand/v2"

	"go.uber.org/zap"
)

// option provide an interface to do work on Table while it is being created.
type option interface {
	apply(t *Table)
}

type hashOption struct {
	hash func(key string) uint64
}

func (op hashOption) apply(t *Table) {
	if op.hash != nil {
		t.hash = op.hash
	}
}

// WithHash is an option to specify the hash function used to compute the
// home bucket of a key. A nil hash keeps the default.
func WithHash(hash func(key string) uint64) option {
	return hashOption{hash}
}

type randOption struct {
	r *rand.Rand
}

func (op randOption) apply(t *Table) {
	t.rand = op.r
}

// WithRand is an option to specify the source used to shuffle the probe
// offsets of every table generation. Supplying a seeded source makes probe
// sequences reproducible.
func WithRand(r *rand.Rand) option {
	return randOption{r}
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that buckets be
// freed then Table.Close must be called in order to ensure FreeBuckets is
// called for the final bucket array.
type Allocator interface {
	// AllocBuckets should return a slice of length n. The table resets
	// every bucket, so recycled memory is acceptable.
	AllocBuckets(n int) []Bucket

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []Bucket)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocBuckets(n int) []Bucket {
	return make([]Bucket, n)
}

func (defaultAllocator) FreeBuckets(v []Bucket) {
}

type allocatorOption struct {
	allocator Allocator
}

func (op allocatorOption) apply(t *Table) {
	if op.allocator != nil {
		t.allocator = op.allocator
	}
}

// WithAllocator is an option for specify the Allocator to use for a Table. A
// nil allocator keeps the default.
func WithAllocator(allocator Allocator) option {
	return allocatorOption{allocator}
}

type loggerOption struct {
	logger *zap.Logger
}

func (op loggerOption) apply(t *Table) {
	if op.logger != nil {
		t.logger = op.logger
	}
}

// WithLogger sets the logger that receives resize and full-table events.
// Tables log nothing by default.
func WithLogger(logger *zap.Logger) option {
	return loggerOption{logger}
}

type metricsOption struct {
	metrics *Metrics
}

func (op metricsOption) apply(t *Table) {
	t.metrics = op.metrics
}

// WithMetrics attaches a set of Prometheus metrics to the table. Several
// tables may share the same Metrics.
func WithMetrics(metrics *Metrics) option {
	return metricsOption{metrics}
}
