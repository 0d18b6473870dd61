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

import "fmt"

// maxSharedKeys bounds the size of a shared key layout. Key sharing targets
// many small maps with an identical shape (attribute maps sharing a schema);
// past this size the per-owner value array stops paying for itself. The
// bound also lets per-owner presence fit in one 32-bit mask and insertion
// order in one byte per slot.
const maxSharedKeys = 30

// SharedKeys is an immutable key layout shared by any number of split maps
// created with NewSplit. Owners never mutate it: inserting a key that is not
// in the layout makes the inserting map detach onto a private table.
type SharedKeys[K comparable, V any] struct {
	kt    *keyTable[K, V]
	hash  HashFn[K]
	equal EqualFn[K]
	alloc Allocator[K, V]
}

// NewShared builds a shared key layout from keys, in order. It fails if keys
// holds more than maxSharedKeys entries, contains duplicates, or a callback
// fails.
func NewShared[K comparable, V any](keys []K, opts ...option[K, V]) (*SharedKeys[K, V], error) {
	if len(keys) > maxSharedKeys {
		return nil, fmt.Errorf("densemap: shared layout holds at most %d keys, got %d",
			maxSharedKeys, len(keys))
	}

	// A scratch Map applies the options and drives insertion so that custom
	// hash/equality see exactly the semantics split lookups will use.
	m := &Map[K, V]{
		alloc: defaultAllocator[K, V]{},
	}
	for _, op := range opts {
		op.apply(m)
	}
	if m.hash == nil {
		m.hash = defaultHasher[K]()
	}

	newcap := minCapacity
	for newcap < len(keys) {
		newcap <<= 1
	}
	entries, err := m.alloc.AllocEntries(newcap)
	if err != nil {
		return nil, fmt.Errorf("densemap: shared layout: %w", err)
	}
	kt := &keyTable[K, V]{
		index:   newHashIndex(2 * newcap),
		entries: entries,
		kind:    kindSplit,
		alloc:   m.alloc,
	}
	kt.refs.init()
	m.keys = kt
	m.kind = kindSplit

	for _, key := range keys {
		h, err := m.hashKey(key)
		if err != nil {
			return nil, err
		}
		ix, err := m.find(key, h)
		if err != nil {
			return nil, err
		}
		if ix >= 0 {
			return nil, fmt.Errorf("densemap: shared layout: duplicate key %v", key)
		}
		slot := kt.findEmptySlot(h)
		kt.entries[kt.nentries] = Entry[K, V]{hash: h, key: key, live: true}
		kt.index.set(slot, kt.nentries)
		kt.nentries++
	}
	kt.usable = newcap - kt.nentries

	return &SharedKeys[K, V]{
		kt:    kt,
		hash:  m.hash,
		equal: m.equal,
		alloc: m.alloc,
	}, nil
}

// Len returns the number of keys in the layout.
func (sk *SharedKeys[K, V]) Len() int {
	return sk.kt.nentries
}

// Close drops the layout's own reference to the key table. Maps already
// created from it keep the table alive; new maps must not be created after
// Close.
func (sk *SharedKeys[K, V]) Close() {
	if sk.kt != nil {
		sk.kt.release()
		sk.kt = nil
	}
}

// NewSplit creates a Map sharing the given key layout and holding a private
// value store. Lookups and inserts of keys in the layout are O(1) with no
// per-map key storage; inserting any other key detaches the map onto a
// private table, leaving the layout and its other owners untouched.
func NewSplit[K comparable, V any](shared *SharedKeys[K, V]) *Map[K, V] {
	return &Map[K, V]{
		keys:   shared.kt.retain(),
		values: newValueStore[V](shared.kt.nentries),
		hash:   shared.hash,
		equal:  shared.equal,
		alloc:  shared.alloc,
		kind:   kindSplit,
	}
}

// valueStore holds one owner's values for a shared key layout: a value array
// parallel to the shared entry store, a presence bitmask, and the owner's
// own insertion order (the shared table cannot track per-owner order).
type valueStore[V any] struct {
	values []V
	bits   uint32
	order  []uint8
}

func newValueStore[V any](n int) *valueStore[V] {
	return &valueStore[V]{
		values: make([]V, n),
		order:  make([]uint8, 0, n),
	}
}

// has reports whether slot ix holds a value for this owner.
func (vs *valueStore[V]) has(ix int) bool {
	return vs.bits&(1<<uint(ix)) != 0
}

func (vs *valueStore[V]) get(ix int) (V, bool) {
	if !vs.has(ix) {
		var zero V
		return zero, false
	}
	return vs.values[ix], true
}

// set overwrites the value in an already-populated slot.
func (vs *valueStore[V]) set(ix int, v V) {
	vs.values[ix] = v
}

// insert populates slot ix and records it as this owner's newest entry.
func (vs *valueStore[V]) insert(ix int, v V) {
	vs.values[ix] = v
	vs.bits |= 1 << uint(ix)
	vs.order = append(vs.order, uint8(ix))
}

// take clears slot ix, returning its value and removing it from the
// insertion order. The order array holds at most maxSharedKeys bytes, so the
// scan is bounded.
func (vs *valueStore[V]) take(ix int) (V, bool) {
	var zero V
	if !vs.has(ix) {
		return zero, false
	}
	v := vs.values[ix]
	vs.values[ix] = zero
	vs.bits &^= 1 << uint(ix)
	for i, sx := range vs.order {
		if int(sx) == ix {
			vs.order = append(vs.order[:i], vs.order[i+1:]...)
			break
		}
	}
	return v, true
}
