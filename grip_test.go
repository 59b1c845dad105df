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

package grip_test

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/notfilippo/grip"
)

// session is what a consumer of the library looks like: a type holding
// slab-backed payload storage, reference counted, addressed from async
// callbacks through a token.
type session struct {
	grip.RefCounted

	slab    *grip.Slab
	payload unsafe.Pointer
	closed  atomic.Bool
}

func newSession(slab *grip.Slab) (*session, error) {
	payload, err := slab.Allocate(false)
	if err != nil {
		return nil, err
	}
	return &session{
		RefCounted: grip.NewRefCounted(),
		slab:       slab,
		payload:    payload,
	}, nil
}

func (s *session) Harakiri() {
	s.closed.Store(true)
	if err := s.slab.Free(s.payload, false); err != nil {
		panic(err)
	}
}

func TestEndToEnd_SessionLifecycle(t *testing.T) {
	reg := grip.NewHeapRegistry()
	slab := grip.NewSlab("session.payload", 128, 64,
		grip.WithSpinLock(), grip.WithRegistry(reg))
	tokens := grip.NewTokenRegistry[*session]()

	sess, err := newSession(slab)
	require.NoError(t, err)

	shared := grip.NewShared(sess, true)
	tok := tokens.Add(sess)

	// The payload is visible to diagnostics while the session lives.
	require.True(t, reg.IsValidPtr(sess.payload))

	// An async completion arrives: redeem the token for an owning
	// handle, use the object, drop the handle.
	got := tokens.Get(tok)
	require.True(t, got.Ok())
	require.False(t, got.Get().closed.Load())
	got.Reset()

	// Shut the session down. The token must now resolve to null and
	// the payload storage must be gone.
	tokens.Remove(tok)
	shared.Reset()
	require.True(t, sess.closed.Load())
	stale := tokens.Get(tok)
	require.False(t, stale.Ok())
	require.Equal(t, 0, slab.Stats().Items)

	require.NoError(t, slab.Close())
}

func TestEndToEnd_CallbackAfterDeath(t *testing.T) {
	slab := grip.NewSlab("", 64, 64, grip.WithSpinLock())
	tokens := grip.NewTokenRegistry[*session]()

	sess, err := newSession(slab)
	require.NoError(t, err)
	shared := grip.NewShared(sess, true)
	tok := tokens.Add(sess)

	// The owner dies before the callback fires; the registry entry is
	// still there, holding only a weak handle.
	shared.Reset()

	got := tokens.Get(tok)
	require.False(t, got.Ok())

	tokens.Remove(tok)
	require.NoError(t, slab.Close())
}

func TestEndToEnd_ConcurrentCallbacks(t *testing.T) {
	const (
		sessions   = 64
		callbacks  = 16
		goroutines = 8
	)

	slab := grip.NewSlab("", 256, 128, grip.WithSpinLock())
	tokens := grip.NewTokenRegistry[*session]()

	toks := make([]grip.Token, 0, sessions)
	owners := make([]grip.Shared[*session], 0, sessions)
	for n := 0; n < sessions; n++ {
		sess, err := newSession(slab)
		require.NoError(t, err)
		owners = append(owners, grip.NewShared(sess, true))
		toks = append(toks, tokens.Add(sess))
	}

	var wg sync.WaitGroup

	// Owners tear sessions down while callbacks race to redeem their
	// tokens. A callback either gets a live session or a clean null.
	for g := 0; g < goroutines; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := g; i < sessions; i += goroutines {
				tokens.Remove(toks[i])
				owners[i].Reset()
			}
		}()
	}
	for n := 0; n < goroutines; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := 0; c < callbacks; c++ {
				for _, tok := range toks {
					if got := tokens.Get(tok); got.Ok() {
						if got.Get().closed.Load() {
							t.Error("redeemed token for a closed session")
						}
						got.Reset()
					}
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, slab.Stats().Items)
	require.NoError(t, slab.Close())
}

func TestEndToEnd_DumpIncludesControlBlocks(t *testing.T) {
	// Control blocks come from a named slab registered with the
	// process-wide registry, so dumps show them like any other heap.
	r := &counted{RefCounted: grip.NewRefCounted()}
	s := grip.NewShared(r, true)
	defer s.Reset()

	var buf bytes.Buffer
	require.NoError(t, grip.Heaps().DumpHeaps("heaps", &buf))
	require.Contains(t, buf.String(), "grip.ctrl")
}

type counted struct {
	grip.RefCounted
}

func (c *counted) Harakiri() {}
