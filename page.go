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

import "unsafe"

const (
	pageMagicA uint64 = 0xfeedfacecafebeef
	pageMagicB uint64 = 0xbaddcafedeadf00d

	// Slot guard stamps. A live slot carries guardAlloc on both sides
	// of the payload; freeing restamps the head with guardFree so a
	// second free of the same slot is identifiable.
	guardAlloc uint64 = 0xa110ca7ea110ca7e
	guardFree  uint64 = 0xdeadbeefdeadbeef

	guardBytes  = 8
	minPageSize = 4096

	// freeListEnd terminates the in-page free list.
	freeListEnd int32 = -1
)

// page is one allocation unit obtained from the backing page source,
// subdivided into fixed-size item slots. The arena is over-allocated so
// that the usable window can be aligned to the page size; with the
// window aligned, the owning page of any interior pointer is recovered
// by masking its low bits.
//
// The header magics bracket the mutable fields. Ownership queries
// validate them before trusting anything else in the struct, so a
// stale or corrupted page mapping cannot send Free into a page that
// was already recycled.
type page struct {
	magicA uint64

	arena []byte  // raw buffer from the page source
	base  uintptr // page-size-aligned start of the usable window
	size  uintptr // usable window length, == slab pageSize

	maxItems  int
	allocated int
	freeHead  int32

	next, prev *page

	magicB uint64
}

func (p *page) valid() bool {
	return p != nil && p.magicA == pageMagicA && p.magicB == pageMagicB
}

// owns reports whether ptr falls inside the page's usable window. It
// performs address arithmetic only and never dereferences ptr.
func (p *page) owns(ptr unsafe.Pointer) bool {
	a := uintptr(ptr)
	return a >= p.base && a < p.base+p.size
}

func (p *page) full() bool {
	return p.allocated == p.maxItems
}

func (p *page) empty() bool {
	return p.allocated == 0
}
