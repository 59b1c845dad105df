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

// Shared is an owning handle on a reference-counted object. Each live
// handle accounts for one shared reference; Reset (or letting a clone
// go unredeemed) gives it back, and the last one to do so triggers the
// object's Harakiri.
//
// Go has no destructors, so handle lifetime is explicit: every handle
// obtained from NewShared, Clone or Weak.Lock must eventually be Reset.
// The zero value is a null handle carrying no reference.
type Shared[T Counted] struct {
	obj  T
	ctrl *ctrlBlock
}

// NewShared wraps obj in an owning handle. With addRef true a new
// shared reference is taken; with addRef false the handle adopts a
// reference that was already counted — the transfer-out-of-a-factory
// case, where counting again would leak.
func NewShared[T Counted](obj T, addRef bool) Shared[T] {
	cb := obj.refs()
	if addRef {
		cb.addShared()
	}
	return Shared[T]{obj: obj, ctrl: cb}
}

// Get returns the held object, or the zero value for a null handle.
func (s *Shared[T]) Get() T {
	return s.obj
}

// Ok reports whether the handle holds an object.
func (s *Shared[T]) Ok() bool {
	return s.ctrl != nil
}

// Clone returns a second owning handle on the same object.
func (s *Shared[T]) Clone() Shared[T] {
	if s.ctrl != nil {
		s.ctrl.addShared()
	}
	return *s
}

// Reset releases the handle's reference and nulls it. Resetting a null
// handle is a no-op, so Reset is safe to call unconditionally in
// cleanup paths.
func (s *Shared[T]) Reset() {
	if s.ctrl == nil {
		return
	}
	obj := s.obj
	var zero T
	s.obj, s.ctrl = zero, nil
	Release(obj)
}

// Swap exchanges the contents of two handles without touching either
// reference count. Swapping a handle with itself is a no-op.
func (s *Shared[T]) Swap(o *Shared[T]) {
	*s, *o = *o, *s
}

// Weak returns a non-owning handle on the same object. The null case
// propagates: a null Shared yields a null Weak.
func (s *Shared[T]) Weak() Weak[T] {
	if s.ctrl == nil {
		return Weak[T]{}
	}
	s.ctrl.addWeak()
	return Weak[T]{obj: s.obj, ctrl: s.ctrl}
}
