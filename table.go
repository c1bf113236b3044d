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

// package probing is an open-addressing hash table from string keys to
// uint64 values that resolves collisions with a randomly permuted probe
// sequence.
//
// # Probing
//
// Every key hashes to a home bucket, hash(key) % capacity. If the home
// bucket holds a different key, the table walks a probe sequence
//
//	p(i) := (home + offsets[i]) % capacity,  0 <= i < capacity-1
//
// where offsets is a random permutation of {1, ..., capacity-1}. Because
// offsets is a permutation, the sequence visits every other bucket exactly
// once before repeating, so a search or insert examines at most capacity
// buckets. Unlike linear probing (offsets[i] == i+1), keys with neighboring
// home buckets do not share the same tail of the probe sequence, which
// reduces primary clustering. A fresh permutation is drawn every time the
// table is (re)allocated and is shared by every bucket of that generation.
//
// # Bucket states
//
// A bucket is in one of three states:
//
//	ESS     empty since start: never written since the bucket array was
//	        allocated. No insert could have probed past it, so a search
//	        that reaches an ESS bucket terminates.
//	Normal  holds a live key and value.
//	EAR     empty after removal: a tombstone. An insert may have probed
//	        past this bucket while it was Normal, so searches continue past
//	        it. Inserts reuse it.
//
// The only transitions are ESS -> Normal -> EAR -> Normal. Tombstones are
// never turned back into ESS buckets; they disappear only when the table is
// resized, since resizing allocates a fresh all-ESS array and re-inserts the
// Normal buckets.
//
// # Growth
//
// Insert grows the table before placing a new key if the placement would
// bring the load factor to 1/2 or above. Growth doubles the capacity and
// rehashes every live entry in old bucket order.
package probing

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	debug = false

	// DefaultCapacity is the capacity used by callers that have no better
	// estimate of the number of entries.
	DefaultCapacity = 8

	// The table grows when an insert would bring filled/capacity to
	// maxLoadNum/maxLoadDen or above.
	maxLoadNum = 1
	maxLoadDen = 2
)

var (
	// ErrInvalidCapacity is returned by New when the requested capacity
	// cannot hold a probe sequence (capacity <= 1).
	ErrInvalidCapacity = errors.New("invalid capacity")
	// ErrKeyNotFound is returned by Ref when the key is not present.
	ErrKeyNotFound = errors.New("key not found")
)

type bucketState uint8

const (
	// stateESS is the zero value so that a freshly allocated []Bucket is
	// entirely empty-since-start.
	stateESS bucketState = iota
	stateNormal
	stateEAR
)

func (s bucketState) String() string {
	switch s {
	case stateESS:
		return "ess"
	case stateNormal:
		return "normal"
	case stateEAR:
		return "ear"
	default:
		return fmt.Sprintf("bucketState(%d)", uint8(s))
	}
}

// Bucket holds a key and value along with the state of the slot.
type Bucket struct {
	key   string
	value uint64
	state bucketState
}

func (b *Bucket) load(key string, value uint64) {
	b.key = key
	b.value = value
	b.state = stateNormal
}

// clear turns a Normal bucket into a tombstone.
func (b *Bucket) clear() {
	b.key = ""
	b.value = 0
	b.state = stateEAR
}

// String renders the bucket as <key, value>.
func (b *Bucket) String() string {
	return fmt.Sprintf("<%s, %d>", b.key, b.value)
}

// Table is a map from string keys to uint64 values with Insert, Get, Remove,
// and All operations. Keys are unique: inserting a key that is already
// present fails rather than overwriting.
//
// A Table is NOT goroutine-safe.
type Table struct {
	// The hash function used to compute home buckets. Defaults to xxhash.
	hash func(key string) uint64
	// rand is the source used to shuffle offsets. When nil a new source is
	// seeded for every permutation.
	rand *rand.Rand
	// The allocator to use for the buckets slice.
	allocator Allocator
	logger    *zap.Logger
	metrics   *Metrics
	// buckets is capacity in length.
	buckets []Bucket
	// offsets is a permutation of [1, capacity).
	offsets []int
	// The number of Normal buckets.
	filled int
}

// New constructs a new Table with the specified initial capacity, which must
// be at least 2. The zero value for a Table is not usable.
func New(capacity int, options ...option) (*Table, error) {
	if capacity <= 1 {
		return nil, errors.Wrapf(ErrInvalidCapacity, "capacity %d must be greater than 1", capacity)
	}

	t := &Table{
		hash:      xxhash.Sum64String,
		allocator: defaultAllocator{},
		logger:    zap.NewNop(),
	}
	for _, op := range options {
		op.apply(t)
	}

	t.buckets = t.allocBuckets(capacity)
	t.offsets = offsetPermutation(capacity, t.rand)
	t.checkInvariants()
	return t, nil
}

// Close releases the bucket array back to the configured allocator. It is
// unnecessary to close a table using the default allocator. It is invalid to
// use a Table after it has been closed, though Close itself is idempotent.
func (t *Table) Close() {
	if t.buckets != nil {
		t.allocator.FreeBuckets(t.buckets)
	}
	t.buckets = nil
	t.offsets = nil
	t.filled = 0
}

// Insert adds key with the specified value. It returns false without
// modifying the table if key is already present, or in the degenerate case
// where no bucket is free.
func (t *Table) Insert(key string, value uint64) bool {
	if i, _ := t.find(key); i >= 0 {
		if debug {
			fmt.Printf("insert(%q): duplicate at index=%d\n", key, i)
		}
		return false
	}

	if !withinMaxLoad(t.filled+1, len(t.buckets)) {
		t.resize(2 * len(t.buckets))
	}

	i, probes := t.findFree(key)
	if i < 0 {
		t.metrics.observeInsert(probes, false)
		t.logger.Warn("hash table has no free bucket",
			zap.String("key", key),
			zap.Int("capacity", len(t.buckets)),
			zap.Int("filled", t.filled))
		return false
	}

	b := &t.buckets[i]
	if b.state == stateEAR {
		t.metrics.incTombstoneReuse()
	}
	b.load(key, value)
	t.filled++
	t.metrics.observeInsert(probes, true)
	if debug {
		fmt.Printf("insert(%q,%d): index=%d probes=%d filled=%d\n", key, value, i, probes, t.filled)
	}
	t.checkInvariants()
	return true
}

// Remove deletes key from the table, leaving a tombstone in its bucket. It
// returns false if key is not present.
func (t *Table) Remove(key string) bool {
	i, _ := t.find(key)
	if i < 0 {
		return false
	}
	t.buckets[i].clear()
	t.filled--
	if debug {
		fmt.Printf("remove(%q): index=%d filled=%d\n", key, i, t.filled)
	}
	t.checkInvariants()
	return true
}

// Contains returns true if key is present.
func (t *Table) Contains(key string) bool {
	i, probes := t.find(key)
	t.metrics.observeLookup(probes, i >= 0)
	return i >= 0
}

// Get retrieves the value for the specified key, returning ok=false if the
// key is not present.
func (t *Table) Get(key string) (value uint64, ok bool) {
	i, probes := t.find(key)
	t.metrics.observeLookup(probes, i >= 0)
	if i < 0 {
		return 0, false
	}
	return t.buckets[i].value, true
}

// Ref returns a pointer to the value stored for key, allowing it to be
// overwritten in place. It returns an error wrapping ErrKeyNotFound if the
// key is not present. The pointer is invalidated by the next Insert that
// grows the table and by Remove of the same key.
func (t *Table) Ref(key string) (*uint64, error) {
	i, probes := t.find(key)
	t.metrics.observeLookup(probes, i >= 0)
	if i < 0 {
		return nil, errors.Wrapf(ErrKeyNotFound, "key %q", key)
	}
	return &t.buckets[i].value, nil
}

// At is like Ref, but panics if key is not present.
func (t *Table) At(key string) *uint64 {
	v, err := t.Ref(key)
	if err != nil {
		panic(err)
	}
	return v
}

// Set overwrites the value of a key that is already present. It returns
// false, without inserting, if key is not present.
func (t *Table) Set(key string, value uint64) bool {
	v, err := t.Ref(key)
	if err != nil {
		return false
	}
	*v = value
	return true
}

// All calls yield sequentially for each key and value present in the table,
// in bucket order. If yield returns false, iteration stops. The bucket order
// is unrelated to insertion order and changes when the table grows.
func (t *Table) All(yield func(key string, value uint64) bool) {
	buckets := t.buckets
	for i := range buckets {
		b := &buckets[i]
		if b.state != stateNormal {
			continue
		}
		if !yield(b.key, b.value) {
			return
		}
	}
}

// Keys returns the keys present in the table in bucket order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.filled)
	t.All(func(key string, _ uint64) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Alpha returns the load factor of the table, Len()/Cap().
func (t *Table) Alpha() float64 {
	return float64(t.filled) / float64(len(t.buckets))
}

// Cap returns the number of buckets in the table.
func (t *Table) Cap() int {
	return len(t.buckets)
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return t.filled
}

// WriteTo writes a line of the form "Bucket <index>: <key, value>" for every
// occupied bucket, in increasing bucket order.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.state != stateNormal {
			continue
		}
		n, err := fmt.Fprintf(w, "Bucket %d: %s\n", i, b)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// String returns the same rendering as WriteTo.
func (t *Table) String() string {
	var buf strings.Builder
	_, _ = t.WriteTo(&buf)
	return buf.String()
}

// home returns the home bucket for key.
func (t *Table) home(key string) int {
	return int(t.hash(key) % uint64(len(t.buckets)))
}

// find returns the index of the Normal bucket holding key, or -1 if the key
// is not present, along with the number of buckets examined. The search
// stops at the first ESS bucket on the probe sequence and steps over EAR
// buckets.
func (t *Table) find(key string) (index int, probes int) {
	seq := t.makeProbeSeq(t.home(key))
	if debug {
		fmt.Printf("find(%q): %s\n", key, seq)
	}

	for ; !seq.done(); seq = seq.next() {
		b := &t.buckets[seq.offset]
		if debug {
			fmt.Printf("find(probing): index=%d state=%s key=%q\n", seq.offset, b.state, b.key)
		}
		switch b.state {
		case stateESS:
			return -1, seq.probes()
		case stateNormal:
			if b.key == key {
				return seq.offset, seq.probes()
			}
		}
	}
	return -1, len(t.buckets)
}

// findFree returns the index of the first bucket on key's probe sequence
// which is not Normal, or -1 if every bucket is Normal. The caller must have
// checked that key is not already present.
func (t *Table) findFree(key string) (index int, probes int) {
	seq := t.makeProbeSeq(t.home(key))
	for ; !seq.done(); seq = seq.next() {
		if t.buckets[seq.offset].state != stateNormal {
			return seq.offset, seq.probes()
		}
	}
	return -1, len(t.buckets)
}

// resize allocates a fresh bucket array of newCapacity buckets along with a
// new offset permutation, and re-inserts every Normal bucket of the old
// array in old bucket order. Tombstones are dropped.
func (t *Table) resize(newCapacity int) {
	oldBuckets := t.buckets
	t.logger.Debug("resizing hash table",
		zap.Int("old-capacity", len(oldBuckets)),
		zap.Int("new-capacity", newCapacity),
		zap.Int("filled", t.filled))

	t.buckets = t.allocBuckets(newCapacity)
	t.offsets = offsetPermutation(newCapacity, t.rand)
	t.filled = 0

	for i := range oldBuckets {
		b := &oldBuckets[i]
		if b.state != stateNormal {
			continue
		}
		j, _ := t.findFree(b.key)
		if j < 0 {
			// Unreachable: the new array has more buckets than the old one
			// had entries.
			panic(fmt.Sprintf("resize: no free bucket for %q\n%s", b.key, t.debugString()))
		}
		t.buckets[j].load(b.key, b.value)
		t.filled++
	}

	t.allocator.FreeBuckets(oldBuckets)
	t.metrics.incResizes()
	if debug {
		fmt.Printf("resize: capacity=%d->%d filled=%d\n", len(oldBuckets), newCapacity, t.filled)
	}
	t.checkInvariants()
}

func (t *Table) allocBuckets(n int) []Bucket {
	buckets := t.allocator.AllocBuckets(n)
	// Allocators may recycle memory. Every bucket must start out ESS.
	clear(buckets)
	return buckets
}

// withinMaxLoad returns true if filled/capacity is below the maximum load
// factor.
func withinMaxLoad(filled, capacity int) bool {
	return filled*maxLoadDen < capacity*maxLoadNum
}

func (t *Table) checkInvariants() {
	if invariants {
		if len(t.offsets) != len(t.buckets)-1 {
			panic(fmt.Sprintf("invariant failed: %d offsets for capacity %d", len(t.offsets), len(t.buckets)))
		}
		seen := make([]bool, len(t.buckets))
		for _, o := range t.offsets {
			if o <= 0 || o >= len(t.buckets) || seen[o] {
				panic(fmt.Sprintf("invariant failed: offsets %v are not a permutation of [1,%d)", t.offsets, len(t.buckets)))
			}
			seen[o] = true
		}

		if !withinMaxLoad(t.filled, len(t.buckets)) {
			panic(fmt.Sprintf("invariant failed: load factor %d/%d\n%s", t.filled, len(t.buckets), t.debugString()))
		}

		// For every Normal bucket, verify we can find the key and that no
		// other bucket holds it.
		var filled int
		for i := range t.buckets {
			b := &t.buckets[i]
			if b.state != stateNormal {
				continue
			}
			if j, _ := t.find(b.key); j != i {
				panic(fmt.Sprintf("invariant failed: bucket(%d): %q found at %d\n%s", i, b.key, j, t.debugString()))
			}
			filled++
		}
		if filled != t.filled {
			panic(fmt.Sprintf("invariant failed: found %d normal buckets, but filled count is %d\n%s",
				filled, t.filled, t.debugString()))
		}
	}
}

func (t *Table) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  filled=%d  offsets=%v\n", len(t.buckets), t.filled, t.offsets)
	for i := range t.buckets {
		b := &t.buckets[i]
		switch b.state {
		case stateNormal:
			fmt.Fprintf(&buf, "  %4d: %s [home=%d]\n", i, b, t.home(b.key))
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, b.state)
		}
	}
	return buf.String()
}
