// Copyright 2025 The densemap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package densemap

// option provides an interface to do work on a Map while it is being
// created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash HashFn[K]
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function for a Map[K,V]. The
// function may fail; a failure aborts the operation that invoked it and
// leaves the map unchanged.
func WithHash[K comparable, V any](hash HashFn[K]) option[K, V] {
	return hashOption[K, V]{hash}
}

type equalOption[K comparable, V any] struct {
	equal EqualFn[K]
}

func (op equalOption[K, V]) apply(m *Map[K, V]) {
	m.equal = op.equal
}

// WithEqual is an option to specify the key equality function for a Map[K,V]
// in place of ==. Keys that are == are treated as equal without consulting
// the function, so it only needs to widen equality, and it may fail.
func WithEqual[K comparable, V any](equal EqualFn[K]) option[K, V] {
	return equalOption[K, V]{equal}
}

// Allocator specifies an interface for allocating and releasing the entry
// storage used by a Map. The default allocator uses Go's builtin make() and
// lets the GC reclaim memory.
//
// AllocEntries reports failure explicitly; a failed allocation aborts the
// resize (or insert) that requested it and the map stays on its previous,
// fully valid storage.
//
// If the allocator manages memory manually and needs entries returned,
// Map.Close must be called so FreeEntries runs.
type Allocator[K comparable, V any] interface {
	// AllocEntries should return a slice equivalent to make([]Entry[K,V], n),
	// or an error if the memory cannot be obtained.
	AllocEntries(n int) ([]Entry[K, V], error)

	// FreeEntries can optionally release memory associated with the supplied
	// slice, which is guaranteed to have been allocated by AllocEntries.
	FreeEntries(v []Entry[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocEntries(n int) ([]Entry[K, V], error) {
	return make([]Entry[K, V], n), nil
}

func (defaultAllocator[K, V]) FreeEntries(v []Entry[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.alloc = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
