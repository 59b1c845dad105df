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

// A PageSource supplies the raw buffers that a Slab carves into pages.
// The default source draws from the Go heap; tests and embedders with a
// fixed memory budget can substitute their own.
type PageSource interface {
	// Alloc returns a buffer of at least size bytes, or an error when
	// the source is exhausted.
	Alloc(size int) ([]byte, error)

	// Free returns a buffer previously obtained from Alloc. Sources
	// backed by the Go heap may treat this as a no-op.
	Free(buf []byte)
}

// heapSource is the default PageSource, backed by the Go heap.
type heapSource struct{}

func (heapSource) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapSource) Free([]byte) {}
