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

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustNewOrdered[K comparable, V any](
	t testing.TB, initialCapacity int, opts ...option[K, V],
) *OrderedMap[K, V] {
	om, err := NewOrdered[K, V](initialCapacity, opts...)
	require.NoError(t, err)
	return om
}

func orderedPut[K comparable, V any](t testing.TB, om *OrderedMap[K, V], k K, v V) {
	require.NoError(t, om.Put(k, v))
}

func (o *OrderedMap[K, V]) collect() []K {
	var r []K
	o.All(func(k K, v V) bool {
		r = append(r, k)
		return true
	})
	return r
}

func TestOrderedBasic(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		orderedPut(t, om, k, i)
	}
	require.EqualValues(t, 5, om.Len())
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, om.collect())

	// Overwriting a value keeps the entry in place.
	orderedPut(t, om, "b", 42)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, om.collect())
	v, ok, err := om.Get("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, v)

	_, ok, err = om.Delete("c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b", "d", "e"}, om.collect())

	// Reinsertion lands at the back.
	orderedPut(t, om, "c", 3)
	require.Equal(t, []string{"a", "b", "d", "e", "c"}, om.collect())
}

func TestMoveToEnd(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		orderedPut(t, om, k, i)
	}

	require.NoError(t, om.MoveToEnd("c", true))
	require.Equal(t, []string{"a", "b", "d", "e", "c"}, om.collect())

	// Already last: a no-op.
	require.NoError(t, om.MoveToEnd("c", true))
	require.Equal(t, []string{"a", "b", "d", "e", "c"}, om.collect())

	require.NoError(t, om.MoveToEnd("d", false))
	require.Equal(t, []string{"d", "a", "b", "e", "c"}, om.collect())

	// Already first: a no-op.
	require.NoError(t, om.MoveToEnd("d", false))
	require.Equal(t, []string{"d", "a", "b", "e", "c"}, om.collect())

	require.ErrorIs(t, om.MoveToEnd("zzz", true), ErrNotFound)
	require.ErrorIs(t, om.MoveToEnd("zzz", false), ErrNotFound)
	require.EqualValues(t, 5, om.Len())

	// Values survive the relocation.
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		v, ok, err := om.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, i, v)
	}
}

func TestMoveToEndChurn(t *testing.T) {
	// A long run of reorders on a fixed population. Every move consumes a
	// slot, so this exercises both the tail-growth and front-reserve resize
	// paths many times over.
	const count = 64
	om := mustNewOrdered[int, int](t, 0)
	var order []int
	for i := 0; i < count; i++ {
		orderedPut(t, om, i, i)
		order = append(order, i)
	}

	rng := rand.New(rand.NewSource(0))
	for i := 0; i < 10000; i++ {
		j := rng.Intn(count)
		k := order[j]
		last := rng.Intn(2) == 0
		require.NoError(t, om.MoveToEnd(k, last))
		order = append(order[:j], order[j+1:]...)
		if last {
			order = append(order, k)
		} else {
			order = append([]int{k}, order...)
		}

		if i%100 == 0 {
			require.Equal(t, order, om.collect())
		}
	}
	require.Equal(t, order, om.collect())
	require.EqualValues(t, count, om.Len())
	for i := 0; i < count; i++ {
		v, ok, err := om.Get(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, i, v)
	}
}

func TestPopEnd(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	for i, k := range []string{"a", "b", "c", "d"} {
		orderedPut(t, om, k, i)
	}

	k, v, err := om.PopEnd(true)
	require.NoError(t, err)
	require.Equal(t, "d", k)
	require.EqualValues(t, 3, v)

	k, v, err = om.PopEnd(false)
	require.NoError(t, err)
	require.Equal(t, "a", k)
	require.EqualValues(t, 0, v)

	require.Equal(t, []string{"b", "c"}, om.collect())
	require.EqualValues(t, 2, om.Len())

	_, ok, err := om.Get("d")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = om.PopEnd(true)
	require.NoError(t, err)
	_, _, err = om.PopEnd(true)
	require.NoError(t, err)
	_, _, err = om.PopEnd(true)
	require.ErrorIs(t, err, ErrEmpty)
	_, _, err = om.PopEnd(false)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestPopEndSkipsHoles(t *testing.T) {
	om := mustNewOrdered[int, int](t, 0)
	for i := 0; i < 6; i++ {
		orderedPut(t, om, i, i)
	}
	// Leave holes at both ends of the store.
	_, _, err := om.Delete(5)
	require.NoError(t, err)
	_, _, err = om.Delete(0)
	require.NoError(t, err)

	k, _, err := om.PopEnd(true)
	require.NoError(t, err)
	require.EqualValues(t, 4, k)
	k, _, err = om.PopEnd(false)
	require.NoError(t, err)
	require.EqualValues(t, 1, k)
	require.Equal(t, []int{2, 3}, om.collect())
}

func TestGetAndTouch(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	for i, k := range []string{"a", "b", "c"} {
		orderedPut(t, om, k, i)
	}

	v, ok, err := om.GetAndTouch("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0, v)
	require.Equal(t, []string{"b", "c", "a"}, om.collect())

	// Touching the most recent entry changes nothing.
	v, ok, err = om.GetAndTouch("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0, v)
	require.Equal(t, []string{"b", "c", "a"}, om.collect())

	// A miss mutates nothing.
	_, ok, err = om.GetAndTouch("zzz")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"b", "c", "a"}, om.collect())
}

func TestLimitSize(t *testing.T) {
	om := mustNewOrdered[int, int](t, 0)
	for i := 0; i < 10; i++ {
		orderedPut(t, om, i, i)
	}

	require.EqualValues(t, 0, om.LimitSize(20))
	require.EqualValues(t, 0, om.LimitSize(10))
	require.EqualValues(t, 10, om.Len())

	require.EqualValues(t, 4, om.LimitSize(6))
	require.EqualValues(t, 6, om.Len())
	require.Equal(t, []int{4, 5, 6, 7, 8, 9}, om.collect())

	require.EqualValues(t, 6, om.LimitSize(-1))
	require.EqualValues(t, 0, om.Len())
}

func TestLRU(t *testing.T) {
	// The LRU composition: touch on access, then evict from the front.
	om := mustNewOrdered[int, int](t, 0)
	for i := 0; i < 8; i++ {
		orderedPut(t, om, i, i)
	}
	for _, k := range []int{0, 2, 4} {
		_, ok, err := om.GetAndTouch(k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	om.LimitSize(3)
	require.Equal(t, []int{0, 2, 4}, om.collect())
}

func TestOrderedResizeScenario(t *testing.T) {
	om := mustNewOrdered[string, int](t, 8)
	require.EqualValues(t, 8, om.m.capacity())

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, k := range keys {
		orderedPut(t, om, k, i)
	}
	require.EqualValues(t, 8, om.m.capacity())

	// The ninth insert exhausts the tail and grows the store.
	orderedPut(t, om, "i", 8)
	require.GreaterOrEqual(t, om.m.capacity(), 16)
	require.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}, om.collect())

	require.NoError(t, om.MoveToEnd("a", true))
	require.Equal(t, []string{"b", "c", "d", "e", "f", "g", "h", "i", "a"}, om.collect())

	require.EqualValues(t, 6, om.LimitSize(3))
	require.Equal(t, []string{"h", "i", "a"}, om.collect())
}

func TestIterator(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	for i, k := range []string{"a", "b", "c"} {
		orderedPut(t, om, k, i)
	}

	it := om.Iter()
	var keys []string
	var vals []int
	for it.Next() {
		keys = append(keys, it.Key())
		vals = append(vals, it.Value())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"a", "b", "c"}, keys)
	require.Equal(t, []int{0, 1, 2}, vals)

	// Exhausted for good: iterators are not restartable.
	require.False(t, it.Next())
	require.NoError(t, it.Err())

	rit := om.Reversed()
	keys = nil
	for rit.Next() {
		keys = append(keys, rit.Key())
	}
	require.NoError(t, rit.Err())
	require.Equal(t, []string{"c", "b", "a"}, keys)

	// An iterator over an empty map terminates immediately.
	empty := mustNewOrdered[string, int](t, 0)
	eit := empty.Iter()
	require.False(t, eit.Next())
	require.NoError(t, eit.Err())
}

func TestIteratorInvalidation(t *testing.T) {
	setup := func(t *testing.T) *OrderedMap[string, int] {
		om := mustNewOrdered[string, int](t, 0)
		for i, k := range []string{"a", "b", "c", "d"} {
			orderedPut(t, om, k, i)
		}
		return om
	}

	t.Run("insert", func(t *testing.T) {
		om := setup(t)
		it := om.Iter()
		require.True(t, it.Next())
		orderedPut(t, om, "e", 4)
		require.False(t, it.Next())
		require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
		// Dead stays dead.
		require.False(t, it.Next())
		require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
	})

	t.Run("delete", func(t *testing.T) {
		om := setup(t)
		it := om.Iter()
		require.True(t, it.Next())
		_, ok, err := om.Delete("c")
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, it.Next())
		require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
	})

	t.Run("reorder", func(t *testing.T) {
		om := setup(t)
		it := om.Reversed()
		require.True(t, it.Next())
		require.NoError(t, om.MoveToEnd("a", true))
		require.False(t, it.Next())
		require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
	})

	t.Run("pop", func(t *testing.T) {
		om := setup(t)
		it := om.Iter()
		_, _, err := om.PopEnd(true)
		require.NoError(t, err)
		require.False(t, it.Next())
		require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)
	})

	t.Run("overwrite", func(t *testing.T) {
		// Overwriting a value is not a structural mutation; iteration
		// continues and observes the new value.
		om := setup(t)
		it := om.Iter()
		require.True(t, it.Next())
		orderedPut(t, om, "b", 42)
		require.True(t, it.Next())
		require.Equal(t, "b", it.Key())
		require.EqualValues(t, 42, it.Value())
		for it.Next() {
		}
		require.NoError(t, it.Err())
	})

	t.Run("size", func(t *testing.T) {
		// The size check is a backstop behind the state counter: force it
		// by resynchronizing the state snapshot after a delete.
		om := setup(t)
		it := om.Iter()
		require.True(t, it.Next())
		_, _, err := om.Delete("d")
		require.NoError(t, err)
		it.state = om.state
		require.False(t, it.Next())
		require.ErrorIs(t, it.Err(), ErrSizeChangedDuringIteration)
	})

	// A dead iterator leaves the map fully usable.
	om := setup(t)
	it := om.Iter()
	orderedPut(t, om, "e", 4)
	require.False(t, it.Next())
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, om.collect())
	v, ok, err := om.Get("e")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 4, v)
}

func TestBackward(t *testing.T) {
	om := mustNewOrdered[int, int](t, 0)
	for i := 0; i < 5; i++ {
		orderedPut(t, om, i, i*10)
	}
	_, _, err := om.Delete(2)
	require.NoError(t, err)

	var keys []int
	om.Backward(func(k, v int) bool {
		keys = append(keys, k)
		return true
	})
	require.Equal(t, []int{4, 3, 1, 0}, keys)

	// Early exit.
	keys = nil
	om.Backward(func(k, v int) bool {
		keys = append(keys, k)
		return false
	})
	require.Equal(t, []int{4}, keys)
}

func TestOrderedEqual(t *testing.T) {
	a := mustNewOrdered[string, int](t, 0)
	b := mustNewOrdered[string, int](t, 0)
	for i, k := range []string{"x", "y", "z"} {
		orderedPut(t, a, k, i)
		orderedPut(t, b, k, i)
	}

	eq, err := Equal(a, b)
	require.NoError(t, err)
	require.True(t, eq)

	// Same pairs, different order.
	require.NoError(t, b.MoveToEnd("x", true))
	eq, err = Equal(a, b)
	require.NoError(t, err)
	require.False(t, eq)

	// Different value.
	require.NoError(t, b.MoveToEnd("x", false))
	orderedPut(t, b, "y", 99)
	eq, err = Equal(a, b)
	require.NoError(t, err)
	require.False(t, eq)

	// Different length.
	orderedPut(t, b, "y", 1)
	orderedPut(t, b, "w", 3)
	eq, err = Equal(a, b)
	require.NoError(t, err)
	require.False(t, eq)
}

func TestOrderedEqualFunc(t *testing.T) {
	a := mustNewOrdered[string, int](t, 0)
	b := mustNewOrdered[string, string](t, 0)
	orderedPut(t, a, "x", 1)
	orderedPut(t, a, "y", 2)
	orderedPut(t, b, "x", "1")
	orderedPut(t, b, "y", "2")

	eq, err := EqualFunc(a, b, func(v1 int, v2 string) bool {
		return len(v2) == 1 && int(v2[0]-'0') == v1
	})
	require.NoError(t, err)
	require.True(t, eq)

	orderedPut(t, b, "y", "3")
	eq, err = EqualFunc(a, b, func(v1 int, v2 string) bool {
		return len(v2) == 1 && int(v2[0]-'0') == v1
	})
	require.NoError(t, err)
	require.False(t, eq)
}

func TestOrderedEqualMap(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	m := mustNew[string, int](t, 0)
	orderedPut(t, om, "x", 1)
	orderedPut(t, om, "y", 2)
	// Insertion order deliberately differs; EqualMap ignores it.
	mustPut(t, m, "y", 2)
	mustPut(t, m, "x", 1)

	eq, err := EqualMap(om, m)
	require.NoError(t, err)
	require.True(t, eq)

	mustPut(t, m, "x", 42)
	eq, err = EqualMap(om, m)
	require.NoError(t, err)
	require.False(t, eq)

	mustPut(t, m, "x", 1)
	mustPut(t, m, "z", 3)
	eq, err = EqualMap(om, m)
	require.NoError(t, err)
	require.False(t, eq)
}

func TestOrderedVersion(t *testing.T) {
	om := mustNewOrdered[string, int](t, 0)
	orderedPut(t, om, "a", 1)
	orderedPut(t, om, "b", 2)
	v0 := om.Version()

	require.NoError(t, om.MoveToEnd("a", true))
	v1 := om.Version()
	require.Greater(t, v1, v0)

	// A no-op move short-circuits before touching anything and keeps the tag.
	require.NoError(t, om.MoveToEnd("a", true))
	require.Equal(t, v1, om.Version())

	_, _, err := om.PopEnd(true)
	require.NoError(t, err)
	require.Greater(t, om.Version(), v1)
}

func TestOrderedClear(t *testing.T) {
	om := mustNewOrdered[int, int](t, 0)
	for i := 0; i < 100; i++ {
		orderedPut(t, om, i, i)
	}
	require.NoError(t, om.MoveToEnd(50, false))

	it := om.Iter()
	om.Clear()
	require.EqualValues(t, 0, om.Len())
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrMutatedDuringIteration)

	// Begin offset and headroom reset with the storage.
	orderedPut(t, om, 1, 1)
	require.Equal(t, []int{1}, om.collect())
}

func TestOrderedRandom(t *testing.T) {
	// Cross-check against a slice-backed reference model under a mix of
	// inserts, deletes, reorders, touches and pops.
	type pair struct {
		k, v int
	}
	om := mustNewOrdered[int, int](t, 0)
	var ref []pair

	refIndex := func(k int) int {
		for i := range ref {
			if ref[i].k == k {
				return i
			}
		}
		return -1
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		switch r := rng.Float64(); {
		case r < 0.40: // inserts and updates
			k, v := rng.Intn(500), rng.Int()
			orderedPut(t, om, k, v)
			if j := refIndex(k); j >= 0 {
				ref[j].v = v
			} else {
				ref = append(ref, pair{k, v})
			}
		case r < 0.55: // deletes
			k := rng.Intn(500)
			_, ok, err := om.Delete(k)
			require.NoError(t, err)
			j := refIndex(k)
			require.Equal(t, j >= 0, ok)
			if j >= 0 {
				ref = append(ref[:j], ref[j+1:]...)
			}
		case r < 0.75: // reorders
			if len(ref) == 0 {
				continue
			}
			j := rng.Intn(len(ref))
			p := ref[j]
			last := rng.Intn(2) == 0
			require.NoError(t, om.MoveToEnd(p.k, last))
			ref = append(ref[:j], ref[j+1:]...)
			if last {
				ref = append(ref, p)
			} else {
				ref = append([]pair{p}, ref...)
			}
		case r < 0.90: // touches
			k := rng.Intn(500)
			v, ok, err := om.GetAndTouch(k)
			require.NoError(t, err)
			j := refIndex(k)
			require.Equal(t, j >= 0, ok)
			if j >= 0 {
				p := ref[j]
				require.EqualValues(t, p.v, v)
				ref = append(ref[:j], ref[j+1:]...)
				ref = append(ref, p)
			}
		default: // pops
			last := rng.Intn(2) == 0
			k, v, err := om.PopEnd(last)
			if len(ref) == 0 {
				require.ErrorIs(t, err, ErrEmpty)
				continue
			}
			require.NoError(t, err)
			var p pair
			if last {
				p = ref[len(ref)-1]
				ref = ref[:len(ref)-1]
			} else {
				p = ref[0]
				ref = ref[1:]
			}
			require.EqualValues(t, p.k, k)
			require.EqualValues(t, p.v, v)
		}
		require.EqualValues(t, len(ref), om.Len())

		if i%200 == 0 {
			keys := om.collect()
			require.EqualValues(t, len(ref), len(keys))
			for j := range ref {
				require.EqualValues(t, ref[j].k, keys[j])
			}
		}
	}
}
