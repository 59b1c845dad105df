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
	"log/slog"
	"sync"
	"unsafe"
)

// SlabStats is a point-in-time snapshot of one allocator's state.
type SlabStats struct {
	Name         string
	ItemSize     int
	PageSize     int
	ItemsPerPage int
	Items        int
	PartialPages int
	FullPages    int
	Churn        map[string]uint64
}

type slabConfig struct {
	lock     sync.Locker
	source   PageSource
	registry *HeapRegistry
	guards   bool
	churn    map[string]TrackerWindow
	logger   *slog.Logger
}

// A SlabOption configures a Slab at construction time.
type SlabOption func(*slabConfig)

// WithSpinLock makes the slab safe for concurrent use from multiple
// goroutines. The default lock policy is a no-op; callers confined to a
// single goroutine pay nothing for synchronization they do not need.
func WithSpinLock() SlabOption {
	return func(c *slabConfig) {
		c.lock = new(SpinLock)
	}
}

// WithLock substitutes an arbitrary lock policy.
func WithLock(l sync.Locker) SlabOption {
	return func(c *slabConfig) {
		c.lock = l
	}
}

// WithPageSource substitutes the backing source of raw page buffers.
func WithPageSource(src PageSource) SlabOption {
	return func(c *slabConfig) {
		c.source = src
	}
}

// WithRegistry selects the registry a named slab reports to instead of
// the process-wide default. Unnamed slabs never register.
func WithRegistry(r *HeapRegistry) SlabOption {
	return func(c *slabConfig) {
		c.registry = r
	}
}

// WithoutGuards drops the per-slot guard words. Guards cost two words
// per item and two stores per operation; they stay on unless the caller
// explicitly trades corruption detection for that overhead.
func WithoutGuards() SlabOption {
	return func(c *slabConfig) {
		c.guards = false
	}
}

// WithChurnWindows enables sliding estimates of distinct slots touched
// per window, reported through Stats and DumpHeaps.
func WithChurnWindows(windows map[string]TrackerWindow) SlabOption {
	return func(c *slabConfig) {
		c.churn = windows
	}
}

// WithLogger sets the structured logger used for teardown diagnostics.
func WithLogger(l *slog.Logger) SlabOption {
	return func(c *slabConfig) {
		c.logger = l
	}
}

// A Slab is a fixed-item-size allocator. It carves page-aligned buffers
// from a PageSource into same-size slots, keeps a free list per page
// and moves pages between a partial and a full list, so Allocate and
// Free are O(1). A page that becomes empty is returned to the source
// immediately; pages are never retained speculatively.
//
// The storage handed out is raw and uninitialized. The slab manages
// storage only, never object lifecycle, and slot memory is invisible to
// the garbage collector: callers must not store Go pointers in it.
//
// A Slab is not safe for concurrent use unless constructed with
// WithSpinLock or WithLock.
type Slab struct {
	name string

	itemSize    int
	payloadSize uintptr // itemSize rounded up to 8 bytes
	payloadOff  uintptr // offset of the payload within its slot
	slotSize    uintptr
	pageSize    uintptr // power of two
	maxItems    int     // slots per page

	lock     sync.Locker
	source   PageSource
	logger   *slog.Logger
	registry *HeapRegistry
	guards   bool

	partial, full pageList
	byBase        map[uintptr]*page // aligned window base -> page
	items         int
	churn         *churnTracker
}

var _ HeapDiagnostics = (*Slab)(nil)

// NewSlab creates an allocator for items of exactly itemSize bytes,
// with pages sized to hold at least minItemsPerPage of them. A
// non-empty name registers the slab with a heap registry for
// diagnostics; it is released again by Close.
func NewSlab(name string, itemSize, minItemsPerPage int, opts ...SlabOption) *Slab {
	if itemSize <= 0 {
		panic("grip: item size must be positive")
	}
	if minItemsPerPage <= 0 {
		panic("grip: min items per page must be positive")
	}

	cfg := slabConfig{
		lock:   noLock{},
		source: heapSource{},
		guards: true,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// The payload must hold the free-list link while the slot is free.
	payload := (uintptr(itemSize) + 7) &^ 7

	var off uintptr
	slot := payload
	if cfg.guards {
		off = guardBytes
		slot += 2 * guardBytes
	}

	ps := uintptr(nextPowOf2(uint64(slot) * uint64(minItemsPerPage)))
	if ps < minPageSize {
		ps = minPageSize
	}

	s := &Slab{
		name:        name,
		itemSize:    itemSize,
		payloadSize: payload,
		payloadOff:  off,
		slotSize:    slot,
		pageSize:    ps,
		maxItems:    int(ps / slot),
		lock:        cfg.lock,
		source:      cfg.source,
		logger:      cfg.logger,
		guards:      cfg.guards,
		byBase:      make(map[uintptr]*page),
	}

	if cfg.churn != nil {
		s.churn = newChurnTracker(cfg.churn)
	}

	if name != "" {
		s.registry = cfg.registry
		if s.registry == nil {
			s.registry = Heaps()
		}
		s.registry.AddHeap(name, s)
	}

	return s
}

// Allocate returns raw, uninitialized storage for exactly one item.
// When the backing source is exhausted, a true mayFail yields
// (nil, nil) and the caller deals with the shortage; otherwise the
// error names the allocator.
func (s *Slab) Allocate(mayFail bool) (unsafe.Pointer, error) {
	s.lock.Lock()

	p := s.partial.head
	if p == nil {
		var err error
		if p, err = s.grow(); err != nil {
			s.lock.Unlock()
			if mayFail {
				return nil, nil
			}
			return nil, fmt.Errorf("%s: %w", s.label(), ErrOutOfMemory)
		}
	}

	i := p.freeHead
	ptr := s.payloadAt(p, i)
	p.freeHead = *(*int32)(ptr)

	if s.guards {
		*(*uint64)(s.headGuardAt(p, i)) = guardAlloc
		*(*uint64)(s.tailGuardAt(p, i)) = guardAlloc
	}

	p.allocated++
	s.items++
	if p.full() {
		s.partial.Remove(p)
		s.full.PushBack(p)
	}

	if s.churn != nil {
		s.churn.track(mix64(uint64(uintptr(ptr))))
	}

	s.lock.Unlock()
	return ptr, nil
}

// Free returns one item's storage to its page. A pointer the slab does
// not own is a silent no-op when mayFail is set and an error otherwise;
// the same policy covers guard-word violations.
func (s *Slab) Free(ptr unsafe.Pointer, mayFail bool) error {
	if ptr == nil {
		return s.fail(mayFail, ErrForeignPointer)
	}

	s.lock.Lock()

	p := s.pageOf(ptr)
	if p == nil {
		s.lock.Unlock()
		return s.fail(mayFail, ErrForeignPointer)
	}
	i, ok := s.indexOf(p, ptr)
	if !ok {
		s.lock.Unlock()
		return s.fail(mayFail, ErrForeignPointer)
	}

	if s.guards {
		head := *(*uint64)(s.headGuardAt(p, i))
		if head == guardFree {
			s.lock.Unlock()
			return s.fail(mayFail, ErrDoubleFree)
		}
		tail := *(*uint64)(s.tailGuardAt(p, i))
		if head != guardAlloc || tail != guardAlloc {
			s.lock.Unlock()
			return s.fail(mayFail, ErrCorruption)
		}
		*(*uint64)(s.headGuardAt(p, i)) = guardFree
	}

	if p.full() {
		s.full.Remove(p)
		// Front of the partial list: the page is cache-warm.
		s.partial.PushFront(p)
	}

	*(*int32)(ptr) = p.freeHead
	p.freeHead = i
	p.allocated--
	s.items--

	if p.empty() {
		s.partial.Remove(p)
		s.release(p)
	}

	s.lock.Unlock()
	return nil
}

// IsValidPtr reports whether ptr points into storage this slab handed
// out. It walks both page lists checking magics, address ranges and
// slot alignment only; the pointer is never dereferenced, so the query
// is safe on arbitrary garbage.
func (s *Slab) IsValidPtr(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, l := range []*pageList{&s.partial, &s.full} {
		for p := l.head; p != nil; p = p.next {
			if !p.valid() || !p.owns(ptr) {
				continue
			}
			_, ok := s.indexOf(p, ptr)
			return ok
		}
	}
	return false
}

// Flush returns every page, partial and full, to the backing source.
// It does not run any destructors: the slab's contract is storage only,
// and callers using it for transient sub-allocation must tear down
// their objects first.
func (s *Slab) Flush() {
	s.lock.Lock()
	s.flushLocked()
	s.lock.Unlock()
}

// Close deregisters the slab and verifies that nothing is left
// allocated. A leak here is a bug in the owning type's lifecycle, so it
// is reported loudly instead of being silently tolerated: the slab logs
// the condition, releases the pages anyway and returns ErrLeak.
func (s *Slab) Close() error {
	if s.registry != nil {
		s.registry.DeleteHeap(s.name)
		s.registry = nil
	}

	s.lock.Lock()
	items, pages := s.items, s.partial.Len()+s.full.Len()
	s.flushLocked()
	s.lock.Unlock()

	if items != 0 || pages != 0 {
		s.logger.Error("grip: slab closed with live allocations",
			slog.String("slab", s.label()),
			slog.Int("items", items),
			slog.Int("pages", pages))
		return fmt.Errorf("%s: %d items in %d pages: %w", s.label(), items, pages, ErrLeak)
	}
	return nil
}

// Stats returns a snapshot of the slab's configuration and occupancy.
func (s *Slab) Stats() SlabStats {
	s.lock.Lock()
	defer s.lock.Unlock()

	st := SlabStats{
		Name:         s.name,
		ItemSize:     s.itemSize,
		PageSize:     int(s.pageSize),
		ItemsPerPage: s.maxItems,
		Items:        s.items,
		PartialPages: s.partial.Len(),
		FullPages:    s.full.Len(),
	}
	if s.churn != nil {
		st.Churn = s.churn.stats()
	}
	return st
}

func (s *Slab) label() string {
	if s.name == "" {
		return "slab"
	}
	return s.name
}

func (s *Slab) fail(mayFail bool, err error) error {
	if mayFail {
		return nil
	}
	return fmt.Errorf("%s: %w", s.label(), err)
}

// grow requests one raw buffer from the source, aligns its usable
// window to the page size and threads the free list through the fresh
// slots. The new page joins the partial list.
func (s *Slab) grow() (*page, error) {
	raw, err := s.source.Alloc(int(2*s.pageSize - 1))
	if err != nil {
		return nil, err
	}

	start := uintptr(unsafe.Pointer(&raw[0]))
	base := (start + s.pageSize - 1) &^ (s.pageSize - 1)

	p := &page{
		magicA:   pageMagicA,
		arena:    raw,
		base:     base,
		size:     s.pageSize,
		maxItems: s.maxItems,
		freeHead: 0,
		magicB:   pageMagicB,
	}

	for i := 0; i < s.maxItems; i++ {
		next := int32(i + 1)
		if i == s.maxItems-1 {
			next = freeListEnd
		}
		*(*int32)(s.payloadAt(p, int32(i))) = next
		if s.guards {
			*(*uint64)(s.headGuardAt(p, int32(i))) = guardFree
		}
	}

	s.partial.PushBack(p)
	s.byBase[p.base] = p
	return p, nil
}

// release invalidates the page header and hands the arena back to the
// source. Zeroed magics make sure a stale mapping can never validate.
func (s *Slab) release(p *page) {
	delete(s.byBase, p.base)
	p.magicA, p.magicB = 0, 0
	arena := p.arena
	p.arena = nil
	s.source.Free(arena)
}

func (s *Slab) flushLocked() {
	for _, l := range []*pageList{&s.partial, &s.full} {
		for p := l.head; p != nil; {
			next := p.next
			p.next, p.prev = nil, nil
			s.release(p)
			p = next
		}
		*l = pageList{}
	}
	s.items = 0
}

// pageOf resolves the owning page of an interior pointer by masking it
// down to a page boundary and validating the header magics of whatever
// the base table maps it to.
func (s *Slab) pageOf(ptr unsafe.Pointer) *page {
	base := uintptr(ptr) &^ (s.pageSize - 1)
	p := s.byBase[base]
	if !p.valid() || !p.owns(ptr) {
		return nil
	}
	return p
}

// indexOf maps a payload pointer back to its slot index. A pointer that
// is inside the window but not exactly on a payload boundary is foreign.
func (s *Slab) indexOf(p *page, ptr unsafe.Pointer) (int32, bool) {
	rel := uintptr(ptr) - p.base
	if rel < s.payloadOff {
		return 0, false
	}
	rel -= s.payloadOff
	if rel%s.slotSize != 0 {
		return 0, false
	}
	i := rel / s.slotSize
	if int(i) >= p.maxItems {
		return 0, false
	}
	return int32(i), true
}

func (s *Slab) slotAt(p *page, i int32) uintptr {
	return p.base + uintptr(i)*s.slotSize
}

func (s *Slab) payloadAt(p *page, i int32) unsafe.Pointer {
	return unsafe.Pointer(s.slotAt(p, i) + s.payloadOff)
}

func (s *Slab) headGuardAt(p *page, i int32) unsafe.Pointer {
	return unsafe.Pointer(s.slotAt(p, i))
}

func (s *Slab) tailGuardAt(p *page, i int32) unsafe.Pointer {
	return unsafe.Pointer(s.slotAt(p, i) + s.payloadOff + s.payloadSize)
}
