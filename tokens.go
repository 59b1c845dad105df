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

import "sync"

// A Token is an opaque {slot index, generation} pair identifying an
// entry in a TokenRegistry. It is a plain integer, safe to hand to
// C-style async callback APIs that echo back a 64-bit user value at an
// unpredictable later time. Zero is never a valid token.
type Token uint64

func makeToken(index int32, gen uint32) Token {
	return Token(uint64(uint32(index))<<32 | uint64(gen))
}

func (t Token) index() int32 {
	return int32(t >> 32)
}

func (t Token) generation() uint32 {
	return uint32(t)
}

type tokenSlot[T Counted] struct {
	weak     Weak[T]
	gen      uint32
	nextFree int32
}

// A TokenRegistry maps tokens to weak handles. Registering an object
// yields a token; presenting the token later yields an owning handle,
// or a null one when the object has since died or the entry was
// removed. Removing bumps the slot's generation, so a stale token can
// never resolve to whatever object reuses the slot — that generation
// check is the registry's entire safety contract.
//
// A TokenRegistry is safe for concurrent use. Contention is bounded by
// async callback arrival rates, far below allocator traffic, so one
// mutex over the slot array is enough.
type TokenRegistry[T Counted] struct {
	mu       sync.Mutex
	slots    []tokenSlot[T]
	freeHead int32
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry[T Counted]() *TokenRegistry[T] {
	return &TokenRegistry[T]{freeHead: freeListEnd}
}

// Add registers obj and returns its token. Freed slots are reused in
// O(1) off the free list; otherwise the slot array doubles.
func (r *TokenRegistry[T]) Add(obj T) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx int32
	if r.freeHead != freeListEnd {
		idx = r.freeHead
		r.freeHead = r.slots[idx].nextFree
	} else {
		if len(r.slots) == cap(r.slots) {
			grown := make([]tokenSlot[T], len(r.slots), max(4, 2*cap(r.slots)))
			copy(grown, r.slots)
			r.slots = grown
		}
		// Generations start at 1 so slot 0 can never mint token zero.
		r.slots = append(r.slots, tokenSlot[T]{gen: 1, nextFree: freeListEnd})
		idx = int32(len(r.slots) - 1)
	}

	slot := &r.slots[idx]
	slot.weak = NewWeak(obj)
	return makeToken(idx, slot.gen)
}

// Remove drops the entry the token names. A stale or already-removed
// token is silently ignored, which makes cleanup idempotent: races
// between concurrent removal paths are expected and harmless.
func (r *TokenRegistry[T]) Remove(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slot(tok)
	if slot == nil {
		return
	}

	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	slot.weak.Reset()
	slot.nextFree = r.freeHead
	r.freeHead = tok.index()
}

// Get resolves a token to an owning handle. The result is null when the
// generation is stale or the object has already been finalized; both
// are normal "already gone" outcomes, not errors.
func (r *TokenRegistry[T]) Get(tok Token) Shared[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slot(tok)
	if slot == nil {
		return Shared[T]{}
	}
	return slot.weak.Lock()
}

// Len returns the number of live entries.
func (r *TokenRegistry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := 0
	for idx := r.freeHead; idx != freeListEnd; idx = r.slots[idx].nextFree {
		free++
	}
	return len(r.slots) - free
}

func (r *TokenRegistry[T]) slot(tok Token) *tokenSlot[T] {
	idx := tok.index()
	if idx < 0 || int(idx) >= len(r.slots) {
		return nil
	}
	slot := &r.slots[idx]
	if slot.gen != tok.generation() || !slot.weak.Ok() {
		return nil
	}
	return slot
}
