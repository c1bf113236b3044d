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
	"fmt"
	"math/rand/v2"
)

// probeSeq maintains the state for a probe sequence. The first bucket
// visited is the home bucket, followed by
//
//	p(i) := (home + offsets[i]) % capacity
//
// for i in [0, capacity-1). Since offsets is a permutation of
// [1, capacity), the sequence visits every bucket exactly once.
type probeSeq struct {
	offsets []int
	home    int
	// offset is the bucket currently being visited.
	offset int
	// index is the number of buckets visited before offset.
	index int
}

func (t *Table) makeProbeSeq(home int) probeSeq {
	return probeSeq{
		offsets: t.offsets,
		home:    home,
		offset:  home,
	}
}

func (s probeSeq) next() probeSeq {
	if s.index < len(s.offsets) {
		s.offset = probe(s.home, s.offsets[s.index], len(s.offsets)+1)
	}
	s.index++
	return s
}

// done returns true once every bucket has been visited.
func (s probeSeq) done() bool {
	return s.index > len(s.offsets)
}

// probes returns the number of buckets visited, including the current one.
func (s probeSeq) probes() int {
	return s.index + 1
}

func (s probeSeq) String() string {
	return fmt.Sprintf("home=%d offset=%d index=%d", s.home, s.offset, s.index)
}

func probe(home, offset, capacity int) int {
	return (home + offset) % capacity
}

// offsetPermutation returns [1, capacity) in a uniformly random order. If r
// is nil a freshly seeded source is used.
func offsetPermutation(capacity int, r *rand.Rand) []int {
	offsets := make([]int, capacity-1)
	for i := range offsets {
		offsets[i] = i + 1
	}
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	r.Shuffle(len(offsets), func(i, j int) {
		offsets[i], offsets[j] = offsets[j], offsets[i]
	})
	return offsets
}
