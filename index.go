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

// Hash index cell markers. Cells are signed so that non-negative values are
// entry-store indices.
const (
	// ixEmpty marks a cell that has never held an entry; probing stops here.
	ixEmpty = -1
	// ixDummy marks a cell whose entry was deleted. Probing continues past
	// it, keeping collision chains that ran through the cell intact. Dummy
	// cells are never reused and disappear at the next resize.
	ixDummy = -2
)

// hashIndex is an open-addressed array of entry-store indices. The cell
// width is picked from the table size so that small tables pay one byte per
// cell: tables up to 256 cells use int8 (indices reach at most 127, since
// the entry store holds half as many slots as the index has cells), up to
// 64K cells int16, up to 4G cells int32, int64 beyond. Exactly one backing
// slice is non-nil.
type hashIndex struct {
	i8  []int8
	i16 []int16
	i32 []int32
	i64 []int64
}

func newHashIndex(size int) hashIndex {
	var x hashIndex
	switch {
	case size <= 1<<8:
		x.i8 = make([]int8, size)
		for i := range x.i8 {
			x.i8[i] = ixEmpty
		}
	case size <= 1<<16:
		x.i16 = make([]int16, size)
		for i := range x.i16 {
			x.i16[i] = ixEmpty
		}
	case size <= 1<<32:
		x.i32 = make([]int32, size)
		for i := range x.i32 {
			x.i32[i] = ixEmpty
		}
	default:
		x.i64 = make([]int64, size)
		for i := range x.i64 {
			x.i64[i] = ixEmpty
		}
	}
	return x
}

func (x *hashIndex) len() int {
	switch {
	case x.i8 != nil:
		return len(x.i8)
	case x.i16 != nil:
		return len(x.i16)
	case x.i32 != nil:
		return len(x.i32)
	default:
		return len(x.i64)
	}
}

// get returns the entry index stored in cell i, or ixEmpty/ixDummy.
func (x *hashIndex) get(i uint64) int {
	switch {
	case x.i8 != nil:
		return int(x.i8[i])
	case x.i16 != nil:
		return int(x.i16[i])
	case x.i32 != nil:
		return int(x.i32[i])
	default:
		return int(x.i64[i])
	}
}

// set stores ix into cell i. ix must fit the cell width, which holds by
// construction: the entry store is half the index size.
func (x *hashIndex) set(i uint64, ix int) {
	switch {
	case x.i8 != nil:
		x.i8[i] = int8(ix)
	case x.i16 != nil:
		x.i16[i] = int16(ix)
	case x.i32 != nil:
		x.i32[i] = int32(ix)
	default:
		x.i64[i] = int64(ix)
	}
}

// width reports the cell width in bytes.
func (x *hashIndex) width() int {
	switch {
	case x.i8 != nil:
		return 1
	case x.i16 != nil:
		return 2
	case x.i32 != nil:
		return 4
	default:
		return 8
	}
}
