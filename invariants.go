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

// checkInvariants verifies internal consistency of the map's storage. It is
// a no-op unless built with -tags invariants.
func (m *Map[K, V]) checkInvariants() {
	if !invariants {
		return
	}
	kt := m.keys
	if kt == nil {
		if m.used != 0 {
			panic(fmt.Sprintf("invariant failed: nil key table but used=%d", m.used))
		}
		if m.offset != 0 {
			panic(fmt.Sprintf("invariant failed: nil key table but offset=%d", m.offset))
		}
		return
	}

	capacity := len(kt.entries)
	if kt.nentries < 0 || kt.nentries > capacity {
		panic(fmt.Sprintf("invariant failed: nentries=%d out of range [0, %d]",
			kt.nentries, capacity))
	}
	if kt.usable < 0 || kt.nentries+kt.usable > capacity {
		panic(fmt.Sprintf("invariant failed: nentries=%d + usable=%d exceeds capacity=%d",
			kt.nentries, kt.usable, capacity))
	}
	if size := kt.size(); size != 2*capacity {
		panic(fmt.Sprintf("invariant failed: index size=%d, expected %d for capacity=%d",
			size, 2*capacity, capacity))
	}
	if m.offset < 0 || m.offset > kt.nentries {
		panic(fmt.Sprintf("invariant failed: offset=%d out of range [0, %d]",
			m.offset, kt.nentries))
	}

	if m.values != nil {
		// Split map: the shared table is immutable, liveness lives in the
		// value store.
		present := 0
		for _, sx := range m.values.order {
			if _, ok := m.values.get(int(sx)); ok {
				present++
			}
		}
		if present != m.used {
			panic(fmt.Sprintf("invariant failed: found %d present values, but used count is %d",
				present, m.used))
		}
		return
	}

	// Virgin tail headroom must be holes.
	for i := kt.nentries; i < capacity; i++ {
		if kt.entries[i].live {
			panic(fmt.Sprintf("invariant failed: live entry in tail headroom at slot %d", i))
		}
	}

	// Every live entry in the logical window is reachable through the index
	// at its cached hash.
	live := 0
	for i := m.offset; i < kt.nentries; i++ {
		e := &kt.entries[i]
		if !e.live {
			continue
		}
		live++
		if ix := kt.lookupIdent(e.key, e.hash); ix != i {
			panic(fmt.Sprintf("invariant failed: slot %d (key %v) resolves to %d via index",
				i, e.key, ix))
		}
	}
	if live != m.used {
		panic(fmt.Sprintf("invariant failed: found %d live entries, but used count is %d",
			live, m.used))
	}

	// Index cells hold a marker or point at a live entry slot.
	size := uint64(kt.size())
	for i := uint64(0); i < size; i++ {
		ix := kt.index.get(i)
		switch {
		case ix == ixEmpty || ix == ixDummy:
		case ix < 0 || ix >= kt.nentries:
			panic(fmt.Sprintf("invariant failed: index cell %d holds %d, nentries=%d",
				i, ix, kt.nentries))
		case !kt.entries[ix].live:
			panic(fmt.Sprintf("invariant failed: index cell %d points at hole %d", i, ix))
		}
	}
}
