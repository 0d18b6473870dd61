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

// OrderedMap is a Map with amortized O(1) reordering of entries to the
// front or back of iteration order, LRU-style touch, and bounded eviction.
//
// The logical order is the entry store read left to right from the begin
// offset, skipping holes. Moving an entry to the back copies it into tail
// headroom; moving it to the front copies it into headroom reserved before
// the begin offset. Either move costs one tail slot, so a long run of moves
// exhausts the table's usable headroom and triggers a compacting resize;
// the resize buys O(capacity) further moves, keeping each move O(1)
// amortized.
//
// An OrderedMap is NOT goroutine-safe.
type OrderedMap[K comparable, V any] struct {
	m Map[K, V]
	// state counts structural mutations (insert, delete, reorder, resize,
	// pop). Live iterators snapshot it and die when it changes.
	state uint64
}

// NewOrdered constructs an OrderedMap with room for at least initialCapacity
// entries before the first resize. Ordered maps always own their key table
// exclusively; there is no split mode for them.
func NewOrdered[K comparable, V any](initialCapacity int, opts ...option[K, V]) (*OrderedMap[K, V], error) {
	m, err := New[K, V](initialCapacity, opts...)
	if err != nil {
		return nil, err
	}
	return &OrderedMap[K, V]{m: *m}, nil
}

// Get retrieves the value for key without touching its position.
func (o *OrderedMap[K, V]) Get(key K) (value V, ok bool, err error) {
	return o.m.Get(key)
}

// Put inserts an entry at the back of the iteration order, or overwrites the
// value in place if the key is already present (overwriting does not move
// the entry and does not invalidate iterators).
func (o *OrderedMap[K, V]) Put(key K, value V) error {
	used := o.m.used
	keys := o.m.keys
	err := o.m.Put(key, value)
	if o.m.used != used || o.m.keys != keys {
		o.state++
	}
	return err
}

// Delete removes the entry for key. ok is false if it was not present.
func (o *OrderedMap[K, V]) Delete(key K) (value V, ok bool, err error) {
	value, ok, err = o.m.Delete(key)
	if ok {
		o.state++
	}
	return value, ok, err
}

// Len returns the number of entries in the map.
func (o *OrderedMap[K, V]) Len() int {
	return o.m.used
}

// Version returns the map's current version tag. See Map.Version.
func (o *OrderedMap[K, V]) Version() uint64 {
	return o.m.version
}

// Clear removes all entries.
func (o *OrderedMap[K, V]) Clear() {
	o.m.Clear()
	o.state++
}

// Close releases the map's storage back to its configured allocator.
func (o *OrderedMap[K, V]) Close() {
	o.m.Close()
}

// MoveToEnd moves an existing entry to the back of the iteration order, or
// to the front if last is false. It returns ErrNotFound if the key is not
// present, and an allocation error if making headroom failed (in which case
// the order is unchanged).
func (o *OrderedMap[K, V]) MoveToEnd(key K, last bool) error {
	m := &o.m
	if m.used == 0 {
		return ErrNotFound
	}
	h, err := m.hashKey(key)
	if err != nil {
		return err
	}
	ix, err := m.find(key, h)
	if err != nil {
		return err
	}
	if ix < 0 {
		return ErrNotFound
	}
	return o.moveEntry(ix, h, last)
}

// moveEntry relocates the live entry at ix to the back (or front) of the
// logical order. The entry is copied into headroom, its index cell is
// repointed, and the vacated slot becomes a hole.
func (o *OrderedMap[K, V]) moveEntry(ix int, hash uint64, last bool) error {
	m := &o.m
	kt := m.keys
	if last {
		if ix == kt.nentries-1 {
			return nil
		}
		if kt.usable == 0 {
			// Grow keeping the current front reservation. The entry is then
			// relocated by identity: user equality must not run once the
			// operation has committed to mutating.
			key := kt.entries[ix].key
			if err := m.resize(m.growthRate()+m.offset, m.offset); err != nil {
				return err
			}
			kt = m.keys
			ix = kt.lookupIdent(key, hash)
		}
		slot := kt.indexSlot(hash, ix)
		kt.index.set(slot, kt.nentries)
		kt.entries[kt.nentries] = kt.entries[ix]
		kt.entries[ix] = Entry[K, V]{}
		kt.nentries++
		kt.usable--
		if ix == m.offset {
			// The old earliest slot is now a hole at the very front.
			m.offset++
		}
	} else {
		if ix == m.offset {
			return nil
		}
		offset := m.offset
		if offset == 0 || kt.usable == 0 {
			// No headroom left on the needed side. Grow, reserving leading
			// slots: at least two, so small maps do not resize on every
			// front move. The move below also charges a tail slot, so the
			// tail must have room as well.
			offset = m.used/2 + 2
			key := kt.entries[ix].key
			if err := m.resize(m.growthRate()+offset, offset); err != nil {
				return err
			}
			kt = m.keys
			ix = kt.lookupIdent(key, hash)
		}
		offset--
		slot := kt.indexSlot(hash, ix)
		kt.index.set(slot, offset)
		kt.entries[offset] = kt.entries[ix]
		kt.entries[ix] = Entry[K, V]{}
		// Charge a tail slot for the hole left at ix, so that a run of
		// front moves still exhausts usable and forces a compacting resize.
		kt.nentries++
		kt.usable--
		m.offset = offset
	}
	if debug {
		fmt.Printf("move: ix=%d last=%t offset=%d nentries=%d usable=%d\n",
			ix, last, m.offset, m.keys.nentries, m.keys.usable)
	}
	o.state++
	m.bumpVersion()
	m.checkInvariants()
	return nil
}

// PopEnd removes and returns the last entry in iteration order, or the
// first if last is false. It returns ErrEmpty if the map has no entries.
func (o *OrderedMap[K, V]) PopEnd(last bool) (key K, value V, err error) {
	var zk K
	var zv V
	m := &o.m
	if m.used == 0 {
		return zk, zv, ErrEmpty
	}
	kt := m.keys
	var ix int
	if last {
		ix = kt.nentries - 1
		for !kt.entries[ix].live {
			ix--
		}
	} else {
		ix = m.offset
		for !kt.entries[ix].live {
			ix++
		}
	}
	e := kt.entries[ix]
	slot := kt.indexSlot(e.hash, ix)
	kt.index.set(slot, ixDummy)
	kt.entries[ix] = Entry[K, V]{}
	if last {
		kt.nentries = ix
	} else {
		m.offset = ix + 1
	}
	m.used--
	o.state++
	m.bumpVersion()
	m.checkInvariants()
	return e.key, e.value, nil
}

// GetAndTouch retrieves the value for key and moves the entry to the back
// of the iteration order, making it the most recently used. A miss returns
// ok=false with no mutation. If making headroom for the move fails, the
// value is not returned and the order is unchanged.
func (o *OrderedMap[K, V]) GetAndTouch(key K) (value V, ok bool, err error) {
	var zero V
	m := &o.m
	h, err := m.hashKey(key)
	if err != nil {
		return zero, false, err
	}
	ix, err := m.find(key, h)
	if err != nil {
		return zero, false, err
	}
	if ix < 0 {
		return zero, false, nil
	}
	// Read before the move: the slot is vacated by it.
	v := m.keys.entries[ix].value
	if err := o.moveEntry(ix, h, true); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// LimitSize evicts entries from the front of the iteration order (the least
// recently inserted or touched) until at most max remain, and returns the
// number evicted. This is the LRU eviction primitive: after GetAndTouch has
// refreshed the hot keys, LimitSize discards the cold ones.
func (o *OrderedMap[K, V]) LimitSize(max int) int {
	if max < 0 {
		max = 0
	}
	evicted := 0
	for o.m.used > max {
		// PopEnd cannot fail while entries remain.
		_, _, _ = o.PopEnd(false)
		evicted++
	}
	return evicted
}

// All calls yield for each entry in iteration order; see Map.All.
func (o *OrderedMap[K, V]) All(yield func(key K, value V) bool) {
	o.m.All(yield)
}

// Backward calls yield for each entry in reverse iteration order, stopping
// early if yield returns false.
func (o *OrderedMap[K, V]) Backward(yield func(key K, value V) bool) {
	kt := o.m.keys
	if kt == nil {
		return
	}
	for i := kt.nentries - 1; i >= o.m.offset; i-- {
		e := &kt.entries[i]
		if !e.live {
			continue
		}
		if !yield(e.key, e.value) {
			return
		}
	}
}

// Iterator walks an OrderedMap in iteration order (or reverse). It is
// finite and not restartable: create a new one to iterate again. It
// snapshots the map's mutation state at creation and fails fast if the map
// is structurally mutated underneath it; a dead iterator stays dead, but
// the map itself is unaffected.
type Iterator[K comparable, V any] struct {
	om      *OrderedMap[K, V]
	keys    *keyTable[K, V]
	state   uint64
	size    int
	pos     int
	reverse bool
	done    bool
	err     error
	key     K
	value   V
}

// Iter returns a forward iterator positioned before the first entry.
func (o *OrderedMap[K, V]) Iter() *Iterator[K, V] {
	return &Iterator[K, V]{
		om:    o,
		keys:  o.m.keys,
		state: o.state,
		size:  o.m.used,
		pos:   o.m.offset,
	}
}

// Reversed returns an iterator walking the entries in reverse order.
func (o *OrderedMap[K, V]) Reversed() *Iterator[K, V] {
	pos := -1
	if o.m.keys != nil {
		pos = o.m.keys.nentries - 1
	}
	return &Iterator[K, V]{
		om:      o,
		keys:    o.m.keys,
		state:   o.state,
		size:    o.m.used,
		pos:     pos,
		reverse: true,
	}
}

// Next advances to the next entry, returning false at the end of the
// sequence or on error. After Next returns false, Err distinguishes
// exhaustion (nil) from invalidation.
func (it *Iterator[K, V]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	o := it.om
	m := &o.m
	if o.state != it.state || m.keys != it.keys {
		it.err = ErrMutatedDuringIteration
		return false
	}
	if m.used != it.size {
		it.err = ErrSizeChangedDuringIteration
		return false
	}
	kt := it.keys
	if kt == nil {
		it.done = true
		return false
	}
	pos := it.pos
	if it.reverse {
		for pos >= m.offset && !kt.entries[pos].live {
			pos--
		}
		if pos < m.offset {
			it.done = true
			return false
		}
		it.pos = pos - 1
	} else {
		n := kt.nentries
		for pos < n && !kt.entries[pos].live {
			pos++
		}
		if pos >= n {
			it.done = true
			return false
		}
		it.pos = pos + 1
	}
	it.key = kt.entries[pos].key
	it.value = kt.entries[pos].value
	return true
}

// Key returns the key of the entry Next advanced to.
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the value of the entry Next advanced to.
func (it *Iterator[K, V]) Value() V {
	return it.value
}

// Err returns the error that terminated iteration, if any.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

// Equal reports whether a and b hold the same key→value pairs in the same
// iteration order.
func Equal[K, V comparable](a, b *OrderedMap[K, V]) (bool, error) {
	return EqualFunc(a, b, func(v1, v2 V) bool { return v1 == v2 })
}

// EqualFunc is like Equal but compares values with eq. Keys are compared
// with ==, widened by a's equality callback when one is configured.
func EqualFunc[K comparable, V1, V2 any](
	a *OrderedMap[K, V1], b *OrderedMap[K, V2], eq func(V1, V2) bool,
) (bool, error) {
	if a.Len() != b.Len() {
		return false, nil
	}
	ita, itb := a.Iter(), b.Iter()
	for ita.Next() {
		if !itb.Next() {
			break
		}
		ka, kb := ita.Key(), itb.Key()
		same := ka == kb
		if !same && a.m.equal != nil {
			var err error
			same, err = a.m.equal(ka, kb)
			if err != nil {
				return false, fmt.Errorf("densemap: compare keys: %w", err)
			}
		}
		if !same || !eq(ita.Value(), itb.Value()) {
			return false, nil
		}
	}
	if err := ita.Err(); err != nil {
		return false, err
	}
	if err := itb.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// EqualMap reports whether the ordered map o and the plain map m hold the
// same key→value pairs, ignoring order.
func EqualMap[K comparable, V comparable](o *OrderedMap[K, V], m *Map[K, V]) (bool, error) {
	if o.Len() != m.Len() {
		return false, nil
	}
	it := o.Iter()
	for it.Next() {
		v, ok, err := m.Get(it.Key())
		if err != nil {
			return false, err
		}
		if !ok || v != it.Value() {
			return false, nil
		}
	}
	if err := it.Err(); err != nil {
		return false, err
	}
	return true, nil
}
