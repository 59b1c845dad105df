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

// Weak is a non-owning handle on a reference-counted object. It keeps
// the control block alive, never the object: the referent may be
// finalized at any point while weak handles remain, and Lock is the
// only safe way to reach it. Weak handles are the prescribed mechanism
// for breaking reference cycles.
//
// The zero value is a null handle. Like Shared, a Weak obtained from
// NewWeak, Clone or Shared.Weak must eventually be Reset.
type Weak[T Counted] struct {
	obj  T
	ctrl *ctrlBlock
}

// NewWeak takes a weak reference on obj. The control block pointer is
// captured independently of the object, which is what keeps the handle
// meaningful after the object dies.
func NewWeak[T Counted](obj T) Weak[T] {
	cb := obj.refs()
	cb.addWeak()
	return Weak[T]{obj: obj, ctrl: cb}
}

// Ok reports whether the handle references a control block. It says
// nothing about the referent being alive; that answer can only come
// from Lock, atomically.
func (w *Weak[T]) Ok() bool {
	return w.ctrl != nil
}

// Clone returns a second weak handle on the same object.
func (w *Weak[T]) Clone() Weak[T] {
	if w.ctrl != nil {
		w.ctrl.addWeak()
	}
	return *w
}

// Reset releases the weak reference and nulls the handle. A no-op on a
// null handle.
func (w *Weak[T]) Reset() {
	if w.ctrl == nil {
		return
	}
	cb := w.ctrl
	var zero T
	w.obj, w.ctrl = zero, nil
	cb.releaseWeak()
}

// Lock attempts to upgrade to an owning handle. It either fully
// succeeds — the object was alive and now carries one more shared
// reference — or fully fails with a null handle because the count had
// already reached zero. There is no intermediate outcome to observe.
func (w *Weak[T]) Lock() Shared[T] {
	if w.ctrl == nil || !w.ctrl.lockShared() {
		return Shared[T]{}
	}
	return Shared[T]{obj: w.obj, ctrl: w.ctrl}
}
