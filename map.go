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

// Package densemap implements a hash map over a dense, insertion-ordered
// entry store, in the style of CPython's "compact dict" design:
//
//	https://mail.python.org/pipermail/python-dev/2012-December/123028.html
//
// # Layout
//
// A map is split into two arrays. The entry store is a dense array of
// (hash, key, value) triples in insertion order. The hash index is a
// power-of-two sized open-addressed array whose cells hold indices into the
// entry store (or an empty/dummy marker). Deleting an entry leaves a hole in
// the entry store and a dummy cell in the index; holes are reclaimed only
// when the map resizes, which copies the live entries densely into a fresh
// store and rebuilds the index from their cached hashes. Because iteration
// walks the entry store rather than the index, iteration order is exactly
// insertion order, and resizing preserves it.
//
// Collisions are resolved with the pseudo-random probe sequence used by
// CPython's dictobject:
//
//	i = (i*5 + perturb + 1) & mask; perturb >>= 5
//
// which visits every index cell, folding the high bits of the hash into the
// early probes. The index is kept at most half full (the entry store holds
// half as many slots as the index has cells), so probe chains stay short and
// a miss always terminates at an empty cell.
//
// The index cell width is chosen from the table size: 1-byte cells for small
// tables, then 2, 4 and 8 bytes. Small maps pay one byte of index overhead
// per cell.
//
// # Ordered maps
//
// OrderedMap layers constant-time (amortized) reordering on top of the same
// layout: a begin offset marks the first logically-live slot, move-to-back
// copies an entry to the tail of the store, and move-to-front copies it into
// reserved headroom before the begin offset. See ordered.go.
//
// # Key sharing
//
// Many small maps with an identical key layout (for example, per-instance
// attribute maps sharing a schema) can share one immutable key table and
// carry only a private value array each. See split.go.
//
// # Hashing and equality
//
// By default keys are hashed with hash/maphash (string keys take a fast path
// through xxhash) and compared with ==. Both can be replaced with callbacks
// that are allowed to fail and to reenter the map; operations detect
// reentrant mutation and report it instead of probing a table that shifted
// underneath them.
//
// A Map is NOT goroutine-safe.
package densemap

import (
	"fmt"
	"hash/maphash"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

const (
	debug = false

	// perturbShift is the number of hash bits consumed by each probe step.
	perturbShift = 5

	// minCapacity is the smallest entry-store capacity. The hash index is
	// always twice the entry-store capacity, so the smallest index holds 16
	// cells and the index load factor never exceeds 1/2.
	minCapacity = 8
)

// HashFn hashes a key. It may fail, and it may reenter the map it is hashing
// for; a failed hash aborts the operation that invoked it without modifying
// the map.
type HashFn[K any] func(key K) (uint64, error)

// EqualFn reports whether two keys are equal. It may fail, and it may
// reenter the map it is comparing for; see HashFn.
type EqualFn[K any] func(a, b K) (bool, error)

// Entry holds a key, its cached hash, and a value. A non-live Entry is a
// hole: either never-populated headroom or a slot vacated by a delete or a
// reorder, awaiting the next compacting resize.
type Entry[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
	live  bool
}

type tableKind uint8

const (
	// kindGeneral tables use the configured (possibly failure-capable)
	// equality callback.
	kindGeneral tableKind = iota
	// kindString tables hold string keys compared with == and hashed with
	// xxhash; lookups on them can never fail.
	kindString
	// kindSplit tables are immutable and shared by several owners, each
	// holding a private value store.
	kindSplit
)

// keyTable owns one hash index and one entry store. It is exclusively owned
// by a single Map except in split mode, where several owners share it
// read-only and refs counts them.
type keyTable[K comparable, V any] struct {
	index   hashIndex
	entries []Entry[K, V]
	// nentries is the high-water mark: the number of entry slots ever
	// populated since the last resize, counted from the start of the store.
	// Slots in [nentries, cap) are virgin tail headroom.
	nentries int
	// usable is the number of tail slots that may still be consumed before a
	// resize is mandatory. It only ever decreases between resizes.
	usable int
	kind   tableKind
	refs   refcount
	alloc  Allocator[K, V]
}

func (kt *keyTable[K, V]) size() int {
	return kt.index.len()
}

func (kt *keyTable[K, V]) mask() uint64 {
	return uint64(kt.index.len() - 1)
}

// findEmptySlot probes for the first empty index cell for hash. Dummy cells
// are skipped: they are never reused, so stale probe chains stay intact.
func (kt *keyTable[K, V]) findEmptySlot(hash uint64) uint64 {
	mask := kt.mask()
	perturb := hash
	i := hash & mask
	for kt.index.get(i) != ixEmpty {
		perturb >>= perturbShift
		i = (i*5 + perturb + 1) & mask
	}
	return i
}

// indexSlot returns the index cell that points at entry ix, following the
// probe sequence for hash. The caller guarantees the cell exists.
func (kt *keyTable[K, V]) indexSlot(hash uint64, ix int) uint64 {
	mask := kt.mask()
	perturb := hash
	i := hash & mask
	for kt.index.get(i) != ix {
		perturb >>= perturbShift
		i = (i*5 + perturb + 1) & mask
	}
	return i
}

// lookupIdent finds key by direct == comparison, bypassing any configured
// equality callback. It is used to relocate a known, table-owned key after a
// resize without risking a callback failure (or reentrant mutation) once an
// operation has already begun mutating state.
func (kt *keyTable[K, V]) lookupIdent(key K, hash uint64) int {
	mask := kt.mask()
	perturb := hash
	i := hash & mask
	for {
		ix := kt.index.get(i)
		if ix == ixEmpty {
			return ixEmpty
		}
		if ix >= 0 {
			e := &kt.entries[ix]
			if e.live && e.hash == hash && e.key == key {
				return ix
			}
		}
		perturb >>= perturbShift
		i = (i*5 + perturb + 1) & mask
	}
}

func (kt *keyTable[K, V]) retain() *keyTable[K, V] {
	kt.refs.inc()
	return kt
}

func (kt *keyTable[K, V]) release() {
	if kt.refs.dec() == 0 {
		kt.alloc.FreeEntries(kt.entries)
		kt.entries = nil
	}
}

// Map is an insertion-ordered map from keys to values with Get, Put, Delete
// and All operations. By default a Map[K,V] hashes keys with hash/maphash
// and compares them with ==; both can be replaced using the WithHash and
// WithEqual options.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// keys is nil until the first insert allocates a table. A nil keys with
	// a non-nil values cannot occur: split maps always reference the shared
	// table.
	keys *keyTable[K, V]
	// values is non-nil only for split maps (see NewSplit).
	values *valueStore[V]
	hash   HashFn[K]
	equal  EqualFn[K]
	alloc  Allocator[K, V]
	kind   tableKind
	// used is the number of live entries.
	used int
	// offset is the index of the first logically-live entry slot. Always 0
	// for plain maps; OrderedMap reorders move it.
	offset int
	// version is the tag assigned by the most recent mutation, drawn from a
	// process-wide monotonic counter.
	version uint64
}

// New constructs a Map with room for at least initialCapacity entries before
// the first resize. If initialCapacity is 0 the map starts with no storage
// and allocates on the first insert. The zero value for a Map is not usable.
func New[K comparable, V any](initialCapacity int, opts ...option[K, V]) (*Map[K, V], error) {
	m := &Map[K, V]{
		alloc: defaultAllocator[K, V]{},
	}
	for _, op := range opts {
		op.apply(m)
	}
	if m.hash == nil {
		m.hash = defaultHasher[K]()
	}
	m.kind = kindGeneral
	if m.equal == nil {
		var zero K
		if _, ok := any(zero).(string); ok {
			m.kind = kindString
		}
	}
	if initialCapacity > 0 {
		if err := m.resize(initialCapacity, 0); err != nil {
			return nil, err
		}
	}
	m.checkInvariants()
	return m, nil
}

// defaultHasher returns the hash function used when no WithHash option is
// given: xxhash with a random seed for string keys, hash/maphash for every
// other comparable key type. Neither can fail.
func defaultHasher[K comparable]() HashFn[K] {
	var zero K
	if _, ok := any(zero).(string); ok {
		seed := rand.Uint64()
		return func(key K) (uint64, error) {
			var d xxhash.Digest
			d.ResetWithSeed(seed)
			_, _ = d.WriteString(any(key).(string))
			return d.Sum64(), nil
		}
	}
	seed := maphash.MakeSeed()
	return func(key K) (uint64, error) {
		return maphash.Comparable(seed, key), nil
	}
}

func (m *Map[K, V]) hashKey(key K) (uint64, error) {
	h, err := m.hash(key)
	if err != nil {
		return 0, fmt.Errorf("densemap: hash key: %w", err)
	}
	return h, nil
}

// find probes for key and returns its entry-store index, or ixEmpty on a
// miss. When an equality callback is configured, find guards every call:
// a callback error aborts the lookup with the error wrapped, and a callback
// that mutated this map (resized it, or bumped its version) aborts with
// ErrReentrantMutation. In both cases the table is left as the callback left
// it; find itself never writes.
func (m *Map[K, V]) find(key K, hash uint64) (int, error) {
	kt := m.keys
	if kt == nil {
		return ixEmpty, nil
	}
	mask := kt.mask()
	perturb := hash
	i := hash & mask
	for {
		ix := kt.index.get(i)
		if ix == ixEmpty {
			return ixEmpty, nil
		}
		if ix >= 0 {
			e := &kt.entries[ix]
			if e.live && e.hash == hash {
				// Identity shortcut: == equality never needs the callback.
				if e.key == key {
					return ix, nil
				}
				if m.equal != nil {
					stored := e.key
					version := m.version
					eq, err := m.equal(stored, key)
					if err != nil {
						return ixEmpty, fmt.Errorf("densemap: compare keys: %w", err)
					}
					if m.keys != kt || m.version != version {
						return ixEmpty, ErrReentrantMutation
					}
					if eq {
						return ix, nil
					}
				}
			}
		}
		perturb >>= perturbShift
		i = (i*5 + perturb + 1) & mask
	}
}

// Get retrieves the value for key. ok is false if the key is not present.
// A non-nil error means a hash or equality callback failed, or mutated the
// map mid-probe; Get itself never modifies the map.
func (m *Map[K, V]) Get(key K) (value V, ok bool, err error) {
	var zero V
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
	if m.values != nil {
		v, ok := m.values.get(ix)
		return v, ok, nil
	}
	return m.keys.entries[ix].value, true, nil
}

// Put inserts an entry into the map, overwriting the value if an entry with
// the same key already exists. A callback or allocation error aborts the
// insert and leaves the map on its prior storage, fully valid.
func (m *Map[K, V]) Put(key K, value V) error {
	h, err := m.hashKey(key)
	if err != nil {
		return err
	}
	ix, err := m.find(key, h)
	if err != nil {
		return err
	}

	if m.values != nil {
		if ix >= 0 {
			if m.values.has(ix) {
				m.values.set(ix, value)
				m.bumpVersion()
				return nil
			}
			// Key exists in the shared layout but not in this owner yet:
			// a purely local O(1) insert.
			m.values.insert(ix, value)
			m.used++
			m.bumpVersion()
			m.checkInvariants()
			return nil
		}
		// A genuinely new key: detach from the shared table first. The
		// shared table is never mutated on behalf of a single owner.
		if err := m.unshare(); err != nil {
			return err
		}
		ix = ixEmpty
	}

	if ix >= 0 {
		m.keys.entries[ix].value = value
		m.bumpVersion()
		return nil
	}

	if m.keys == nil || m.keys.usable == 0 {
		if err := m.resize(m.growthRate()+m.offset, m.offset); err != nil {
			return err
		}
	}
	kt := m.keys
	slot := kt.findEmptySlot(h)
	n := kt.nentries
	kt.entries[n] = Entry[K, V]{hash: h, key: key, value: value, live: true}
	kt.index.set(slot, n)
	kt.nentries++
	kt.usable--
	m.used++
	m.bumpVersion()
	m.checkInvariants()
	return nil
}

// Delete removes the entry for key, returning its value. ok is false (with
// the map untouched) if the key was not present. Deletion leaves a hole in
// the entry store and a dummy index cell; both are reclaimed by the next
// resize.
func (m *Map[K, V]) Delete(key K) (value V, ok bool, err error) {
	var zero V
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
	if m.values != nil {
		v, ok := m.values.take(ix)
		if !ok {
			return zero, false, nil
		}
		m.used--
		m.bumpVersion()
		m.checkInvariants()
		return v, true, nil
	}
	kt := m.keys
	slot := kt.indexSlot(h, ix)
	kt.index.set(slot, ixDummy)
	e := kt.entries[ix]
	kt.entries[ix] = Entry[K, V]{}
	m.used--
	m.bumpVersion()
	m.checkInvariants()
	return e.value, true, nil
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Version returns the map's current version tag. Tags are drawn from one
// process-wide monotonic counter: every mutation of any map assigns a
// strictly larger tag, so external caches can compare tags to detect that a
// map's shape or contents changed.
func (m *Map[K, V]) Version() uint64 {
	return m.version
}

func (m *Map[K, V]) bumpVersion() {
	m.version = nextVersion()
}

// All calls yield for each entry in insertion order, stopping early if yield
// returns false. It can be used directly in a range statement:
//
//	for k, v := range m.All {
//		...
//	}
//
// All does not detect concurrent mutation; use OrderedMap.Iter for fail-fast
// iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	if m.values != nil {
		kt := m.keys
		for _, sx := range m.values.order {
			v, ok := m.values.get(int(sx))
			if !ok {
				continue
			}
			if !yield(kt.entries[sx].key, v) {
				return
			}
		}
		return
	}
	kt := m.keys
	if kt == nil {
		return
	}
	n := kt.nentries
	for i := m.offset; i < n; i++ {
		e := &kt.entries[i]
		if !e.live {
			continue
		}
		if !yield(e.key, e.value) {
			return
		}
	}
}

// Clear removes all entries. A split map detaches from its shared key table;
// storage is released and reallocated lazily on the next insert.
func (m *Map[K, V]) Clear() {
	if m.keys != nil {
		m.keys.release()
		m.keys = nil
	}
	m.values = nil
	m.used = 0
	m.offset = 0
	m.bumpVersion()
}

// Close releases the map's storage back to its configured allocator. It is
// unnecessary to close a map using the default allocator. Using a Map after
// Close is invalid, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.keys != nil {
		m.keys.release()
		m.keys = nil
	}
	m.values = nil
	m.used = 0
	m.offset = 0
}

// growthRate computes the resize target: twice the live count plus half the
// current capacity, so tables that are mostly holes shed their dead weight
// and growing tables roughly double.
func (m *Map[K, V]) growthRate() int {
	if m.keys == nil {
		return 0
	}
	return 2*m.used + len(m.keys.entries)>>1
}

// capacity returns the entry-store capacity (0 before the first insert).
func (m *Map[K, V]) capacity() int {
	if m.keys == nil {
		return 0
	}
	return len(m.keys.entries)
}

// resize replaces the key table with one whose entry store holds the next
// power of two >= minused slots (floor 8), copying live entries in their
// current relative order into the new store starting at slot reserve. Holes
// are dropped and the hash index is rebuilt from the cached hashes, so no
// equality callback ever runs. The reserve leading slots remain pre-allocated
// empty headroom and become the map's new begin offset.
//
// resize is all-or-nothing: the new table is built fully off to the side and
// installed only on success. If allocation fails the map remains on its
// original table with no observable change.
func (m *Map[K, V]) resize(minused, reserve int) error {
	newcap := minCapacity
	for newcap < minused {
		newcap <<= 1
	}
	// The copied entries plus the reservation must leave at least one usable
	// tail slot, or the caller would resize again immediately.
	for newcap < reserve+m.used+1 {
		newcap <<= 1
	}

	entries, err := m.alloc.AllocEntries(newcap)
	if err != nil {
		return fmt.Errorf("densemap: resize: %w", err)
	}
	nk := &keyTable[K, V]{
		index:   newHashIndex(2 * newcap),
		entries: entries,
		kind:    m.kind,
		alloc:   m.alloc,
	}
	nk.refs.init()

	n := reserve
	if old := m.keys; old != nil {
		for i := m.offset; i < old.nentries; i++ {
			e := &old.entries[i]
			if !e.live {
				continue
			}
			nk.entries[n] = *e
			nk.index.set(nk.findEmptySlot(e.hash), n)
			n++
		}
	}
	nk.nentries = n
	nk.usable = newcap - n

	if debug {
		fmt.Printf("resize: capacity=%d->%d reserve=%d used=%d\n",
			m.capacity(), newcap, reserve, m.used)
	}

	old := m.keys
	m.keys = nk
	m.offset = reserve
	if old != nil {
		old.release()
	}
	m.checkInvariants()
	return nil
}

// unshare detaches a split map from its shared key table, building a private
// table holding this owner's entries in the owner's insertion order, with
// growth headroom for the insert that triggered it.
func (m *Map[K, V]) unshare() error {
	shared := m.keys
	vs := m.values

	minused := 2*m.used + len(shared.entries)>>1
	newcap := minCapacity
	for newcap < minused {
		newcap <<= 1
	}
	for newcap < m.used+1 {
		newcap <<= 1
	}

	entries, err := m.alloc.AllocEntries(newcap)
	if err != nil {
		return fmt.Errorf("densemap: unshare: %w", err)
	}
	kind := kindGeneral
	if m.equal == nil {
		var zero K
		if _, ok := any(zero).(string); ok {
			kind = kindString
		}
	}
	nk := &keyTable[K, V]{
		index:   newHashIndex(2 * newcap),
		entries: entries,
		kind:    kind,
		alloc:   m.alloc,
	}
	nk.refs.init()

	n := 0
	for _, sx := range vs.order {
		v, ok := vs.get(int(sx))
		if !ok {
			continue
		}
		se := &shared.entries[sx]
		nk.entries[n] = Entry[K, V]{hash: se.hash, key: se.key, value: v, live: true}
		nk.index.set(nk.findEmptySlot(se.hash), n)
		n++
	}
	nk.nentries = n
	nk.usable = newcap - n

	if debug {
		fmt.Printf("unshare: used=%d capacity=%d\n", m.used, newcap)
	}

	m.keys = nk
	m.values = nil
	m.kind = kind
	m.offset = 0
	shared.release()
	m.checkInvariants()
	return nil
}
