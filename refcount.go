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
	"sync"
	"sync/atomic"
	"unsafe"
)

// ctrlBlock is the split reference count anchoring one object's
// lifetime: a shared count owned by Shared handles and a weak count
// owned by Weak handles plus the object's own baseline reference.
//
// The weak count starts at 1 for that baseline, which the final shared
// release drops only after the finalizer has run. A Weak handle taken
// concurrently with the last shared release therefore can never observe
// a freed block: the block outlives the object for as long as anyone
// can still ask "is it alive?".
//
// Blocks are carved out of a dedicated slab; they hold nothing but the
// two counters, so the slab's pointer-free storage rule is satisfied.
type ctrlBlock struct {
	shared atomic.Int64
	weak   atomic.Int64
}

var ctrlSlab struct {
	once sync.Once
	s    *Slab
}

// ctrlHeap returns the process-wide control-block slab, constructed
// lazily to keep package initialization order out of the picture.
func ctrlHeap() *Slab {
	ctrlSlab.once.Do(func() {
		ctrlSlab.s = NewSlab("grip.ctrl", int(unsafe.Sizeof(ctrlBlock{})), 512, WithSpinLock())
	})
	return ctrlSlab.s
}

func newCtrlBlock() *ctrlBlock {
	ptr, err := ctrlHeap().Allocate(false)
	if err != nil {
		// No object can exist without its control block.
		panic(err)
	}
	cb := (*ctrlBlock)(ptr)
	cb.shared.Store(0)
	cb.weak.Store(1)
	return cb
}

func (c *ctrlBlock) addShared() int64 {
	return c.shared.Add(1)
}

func (c *ctrlBlock) addWeak() int64 {
	return c.weak.Add(1)
}

// releaseWeak drops one weak reference and frees the block itself on
// the transition to zero.
func (c *ctrlBlock) releaseWeak() int64 {
	n := c.weak.Add(-1)
	switch {
	case n == 0:
		if err := ctrlHeap().Free(unsafe.Pointer(c), false); err != nil {
			panic(err)
		}
	case n < 0:
		panic("grip: weak count released past zero")
	}
	return n
}

// lockShared attempts shared: 0 -> fail, n>0 -> n+1 as one atomic step.
// A load followed by a separate increment would race the last release
// driving the count to zero; the CAS loop closes that window.
func (c *ctrlBlock) lockShared() bool {
	for {
		n := c.shared.Load()
		if n == 0 {
			return false
		}
		if c.shared.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// RefCounted makes the embedding type reference counted. Together with
// a Harakiri method on the outer type it satisfies Counted, which is
// what the Shared and Weak handles operate on:
//
//	type Conn struct {
//		grip.RefCounted
//	}
//
//	func (c *Conn) Harakiri() { ... }
//
// Every instance must be seeded with NewRefCounted; the zero value has
// no control block and will panic on first use.
type RefCounted struct {
	ctrl *ctrlBlock
}

// NewRefCounted allocates a fresh control block: shared count zero,
// weak count at the object's baseline of one.
func NewRefCounted() RefCounted {
	return RefCounted{ctrl: newCtrlBlock()}
}

func (r *RefCounted) refs() *ctrlBlock {
	return r.ctrl
}

// Counted is satisfied by any type embedding RefCounted and defining a
// Harakiri finalizer. Harakiri runs exactly once, on the transition of
// the shared count to zero.
type Counted interface {
	refs() *ctrlBlock
	Harakiri()
}

// AddRef takes one shared reference out of band and returns the new
// count. Pair with Release, or adopt the reference into a handle via
// NewShared(obj, false).
func AddRef(obj Counted) int64 {
	return obj.refs().addShared()
}

// Release drops one shared reference and returns the new count. The
// transition to zero runs the object's Harakiri and then drops the
// baseline weak reference; no other goroutine can observe the object
// both alive and mid-finalization. Releasing past zero is an ownership
// bug in the caller, not a runtime condition, and panics.
func Release(obj Counted) int64 {
	cb := obj.refs()
	n := cb.shared.Add(-1)
	switch {
	case n == 0:
		obj.Harakiri()
		cb.releaseWeak()
	case n < 0:
		panic("grip: shared count released past zero")
	}
	return n
}

// SharedCount returns the current shared reference count. Zero means
// finalized (or never referenced); the value is advisory under
// concurrency.
func SharedCount(obj Counted) int64 {
	return obj.refs().shared.Load()
}
