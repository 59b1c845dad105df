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
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestHeapRegistry_AddDelete(t *testing.T) {
	reg := NewHeapRegistry()

	a := NewSlab("alpha", 32, 16, WithRegistry(reg))
	b := NewSlab("beta", 64, 16, WithRegistry(reg))

	pa, err := a.Allocate(false)
	require.NoError(t, err)

	require.True(t, reg.IsValidPtr(pa))

	var stray int
	require.False(t, reg.IsValidPtr(unsafe.Pointer(&stray)))
	require.False(t, reg.IsValidPtr(nil))

	require.NoError(t, a.Free(pa, false))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	// Close deregisters; a stale pointer no longer matches anything.
	require.False(t, reg.IsValidPtr(pa))
}

func TestHeapRegistry_UnnamedSlabNeverRegisters(t *testing.T) {
	reg := NewHeapRegistry()

	s := NewSlab("", 32, 16, WithRegistry(reg))
	p, err := s.Allocate(false)
	require.NoError(t, err)

	require.False(t, reg.IsValidPtr(p))
	require.True(t, s.IsValidPtr(p))

	require.NoError(t, s.Free(p, false))
	require.NoError(t, s.Close())
}

func TestHeapRegistry_DumpHeaps(t *testing.T) {
	reg := NewHeapRegistry()

	a := NewSlab("zeta", 32, 16, WithRegistry(reg))
	b := NewSlab("alpha", 64, 16, WithRegistry(reg))

	p, err := a.Allocate(false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reg.DumpHeaps("=== heaps ===", &buf))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "=== heaps ===\n"))
	require.Contains(t, out, "alpha")
	require.Contains(t, out, "zeta")
	require.Contains(t, out, "live=1")
	// Sorted by name: alpha before zeta.
	require.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zeta"))

	require.NoError(t, a.Free(p, false))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestHeaps_DefaultSingleton(t *testing.T) {
	require.Same(t, Heaps(), Heaps())
}
