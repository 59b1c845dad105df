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
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// maxSpinYields caps the exponential backoff of a contended SpinLock.
const maxSpinYields = 64

// A SpinLock is a minimal test-and-set mutual exclusion lock with
// exponential backoff. It never blocks in the scheduler beyond yielding
// the rest of the thread's time slice, which makes it suitable for the
// short critical sections of the allocator and the reference-count
// control blocks.
//
// The zero value is an unlocked SpinLock. A SpinLock must not be copied
// after first use.
type SpinLock struct {
	state atomic.Bool
	//lint:ignore U1000 prevents false sharing
	pad [cacheLineSize - unsafe.Sizeof(atomic.Bool{})]byte
}

var _ sync.Locker = (*SpinLock)(nil)

// Lock acquires the lock, spinning with exponential backoff until it is
// available.
func (l *SpinLock) Lock() {
	yields := 1
	for l.state.Swap(true) {
		for l.state.Load() {
			for n := 0; n < yields; n++ {
				runtime.Gosched()
			}
			if yields < maxSpinYields {
				yields <<= 1
			}
		}
	}
}

// TryLock acquires the lock without spinning. The result indicates
// whether the lock was acquired.
func (l *SpinLock) TryLock() bool {
	return !l.state.Swap(true)
}

// Unlock releases the lock. It is not required that Unlock runs on the
// goroutine that called Lock.
func (l *SpinLock) Unlock() {
	l.state.Store(false)
}

// noLock is the lock policy for slabs confined to a single goroutine.
type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}
