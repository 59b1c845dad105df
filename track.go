// Copyright 2025 Filippo Rossi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package grip

import (
	"time"

	"github.com/axiomhq/hyperloglog"
)

// A TrackerWindow describes one sliding observation window for the
// allocation churn tracker: BucketCount buckets of BucketDuration each.
type TrackerWindow struct {
	BucketDuration time.Duration
	BucketCount    int
}

// churnTracker estimates, per configured window, how many distinct
// slots an allocator handed out recently. A slab that allocates hard
// out of a handful of slots and one that sweeps its whole footprint
// look identical in plain counters; the distinct-slot estimate is what
// separates steady-state reuse from a drifting leak.
type churnTracker struct {
	windows map[string]*churnWindow
}

type churnWindow struct {
	buckets []*churnBucket

	bucketDuration time.Duration
	bucketCount    int
}

type churnBucket struct {
	hll   *hyperloglog.Sketch
	start time.Time
}

func newChurnTracker(config map[string]TrackerWindow) *churnTracker {
	current := time.Now()
	windows := make(map[string]*churnWindow)
	for name, window := range config {
		buckets := make([]*churnBucket, window.BucketCount)
		for i := 0; i < window.BucketCount; i++ {
			buckets[i] = &churnBucket{
				start: current,
				hll:   hyperloglog.New16(),
			}
		}

		windows[name] = &churnWindow{
			buckets:        buckets,
			bucketDuration: window.BucketDuration,
			bucketCount:    window.BucketCount,
		}
	}

	return &churnTracker{windows}
}

// track records one slot hash. Callers hold the owning slab's lock, so
// bucket rotation needs no synchronization of its own.
func (t *churnTracker) track(slot uint64) {
	current := time.Now()
	for _, window := range t.windows {
		index := int(current.UnixNano()/int64(window.bucketDuration)) % window.bucketCount
		bucket := window.buckets[index]

		if current.Sub(bucket.start) >= window.bucketDuration {
			bucket.start = current.Truncate(window.bucketDuration)
			bucket.hll = hyperloglog.New16()
		}

		bucket.hll.InsertHash(slot)
	}
}

func (t *churnTracker) stats() map[string]uint64 {
	current := time.Now()
	result := make(map[string]uint64)
	for name, window := range t.windows {
		merged := hyperloglog.New16()
		windowDuration := time.Duration(window.bucketCount) * window.bucketDuration
		for _, bucket := range window.buckets {
			if current.Sub(bucket.start) < windowDuration {
				merged.Merge(bucket.hll)
			}
		}

		result[name] = merged.Estimate()
	}

	return result
}

// mix64 is the splitmix64 finalizer. Slot addresses share all their low
// bits, which would starve the HLL registers without a full-avalanche
// mix first.
func mix64(v uint64) uint64 {
	v ^= v >> 30
	v *= 0xbf58476d1ce4e5b9
	v ^= v >> 27
	v *= 0x94d049bb133111eb
	v ^= v >> 31
	return v
}
