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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinLock_MutualExclusion(t *testing.T) {
	const (
		goroutines = 8
		iterations = 10000
	)

	var (
		lock    SpinLock
		counter int
		wg      sync.WaitGroup
	)

	for n := 0; n < goroutines; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < iterations; k++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*iterations, counter)
}

func TestSpinLock_TryLock(t *testing.T) {
	var lock SpinLock

	require.True(t, lock.TryLock())
	require.False(t, lock.TryLock())
	lock.Unlock()
	require.True(t, lock.TryLock())
	lock.Unlock()
}
