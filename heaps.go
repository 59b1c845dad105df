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
	"fmt"
	"io"
	"sort"
	"sync"
	"unsafe"
)

// HeapDiagnostics is the face a registered allocator shows the
// registry: an ownership probe that must never dereference its argument
// and a stats snapshot for dumps.
type HeapDiagnostics interface {
	IsValidPtr(ptr unsafe.Pointer) bool
	Stats() SlabStats
}

// A HeapRegistry is a directory of live allocators, keyed by name. One
// coarse lock covers every operation: registration and dumps are rare,
// non-hot-path work.
type HeapRegistry struct {
	mu    SpinLock
	heaps map[string]HeapDiagnostics
}

// NewHeapRegistry creates an empty registry. Most callers want the
// process-wide Heaps instead and only construct their own for tests or
// for isolating a subsystem's allocators.
func NewHeapRegistry() *HeapRegistry {
	return &HeapRegistry{heaps: make(map[string]HeapDiagnostics)}
}

var defaultHeaps struct {
	once sync.Once
	r    *HeapRegistry
}

// Heaps returns the process-wide registry, constructed lazily on first
// use. Named slabs report here unless WithRegistry redirects them.
func Heaps() *HeapRegistry {
	defaultHeaps.once.Do(func() {
		defaultHeaps.r = NewHeapRegistry()
	})
	return defaultHeaps.r
}

// AddHeap registers an allocator under name, replacing any previous
// holder of that name.
func (r *HeapRegistry) AddHeap(name string, diag HeapDiagnostics) {
	r.mu.Lock()
	r.heaps[name] = diag
	r.mu.Unlock()
}

// DeleteHeap removes the named allocator. Unknown names are ignored.
func (r *HeapRegistry) DeleteHeap(name string) {
	r.mu.Lock()
	delete(r.heaps, name)
	r.mu.Unlock()
}

// IsValidPtr asks every registered allocator in turn whether it owns
// ptr, true on first match. The pointer's validity is exactly what is
// in question here, so it is never dereferenced along the way.
func (r *HeapRegistry) IsValidPtr(ptr unsafe.Pointer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.heaps {
		if h.IsValidPtr(ptr) {
			return true
		}
	}
	return false
}

// DumpHeaps writes a stats line for every registered allocator,
// prefixed by header. Output is sorted by name so successive dumps
// diff cleanly.
func (r *HeapRegistry) DumpHeaps(header string, w io.Writer) error {
	r.mu.Lock()
	stats := make([]SlabStats, 0, len(r.heaps))
	for name, h := range r.heaps {
		st := h.Stats()
		if st.Name == "" {
			st.Name = name
		}
		stats = append(stats, st)
	}
	r.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, st := range stats {
		_, err := fmt.Fprintf(w, "  %-24s item=%dB page=%dB items/page=%d live=%d partial=%d full=%d\n",
			st.Name, st.ItemSize, st.PageSize, st.ItemsPerPage,
			st.Items, st.PartialPages, st.FullPages)
		if err != nil {
			return err
		}
		for _, window := range sortedKeys(st.Churn) {
			if _, err := fmt.Fprintf(w, "    churn[%s] ~%d distinct slots\n", window, st.Churn[window]); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
