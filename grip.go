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

// Package grip is a memory-management core: fixed-size slab allocators
// with corruption detection, a process-wide heap registry, intrusive
// shared/weak reference counting built on a split control block, and a
// generation-checked token table for handing object references across
// async callback boundaries.
//
// Basic slab usage:
//
//	slab := grip.NewSlab("conn", 64, 256, grip.WithSpinLock())
//	p, err := slab.Allocate(false)
//	if err != nil {
//		log.Fatal(err)
//	}
//	// ... place an object in the slot ...
//	if err := slab.Free(p, false); err != nil {
//		log.Fatal(err)
//	}
//
// Reference counting:
//
//	type Conn struct {
//		grip.RefCounted
//		// ...
//	}
//
//	func (c *Conn) Harakiri() { /* final cleanup */ }
//
//	c := &Conn{RefCounted: grip.NewRefCounted()}
//	shared := grip.NewShared(c, true)
//	weak := shared.Weak()
//	shared.Reset() // runs Harakiri
//	if s := weak.Lock(); !s.Ok() {
//		// object is gone, control block is still safe to query
//	}
package grip

import (
	"errors"
	"math/bits"
)

var (
	// ErrOutOfMemory reports that the backing page source could not
	// supply a fresh page.
	ErrOutOfMemory = errors.New("grip: out of memory")

	// ErrForeignPointer reports a Free of a pointer that no page of the
	// allocator owns.
	ErrForeignPointer = errors.New("grip: pointer not owned by allocator")

	// ErrDoubleFree reports a Free of a slot that is already on the
	// free list.
	ErrDoubleFree = errors.New("grip: double free detected")

	// ErrCorruption reports a damaged slot guard word, usually a buffer
	// overrun by the object occupying the slot before it.
	ErrCorruption = errors.New("grip: memory corruption detected")

	// ErrLeak reports live allocations at allocator teardown.
	ErrLeak = errors.New("grip: allocations leaked at close")
)

func nextPowOf2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}
