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

import "errors"

var (
	// ErrNotFound is returned by OrderedMap.MoveToEnd when the key is not
	// present. Lookups report a plain miss through their ok result instead;
	// a missing key is not an exceptional condition.
	ErrNotFound = errors.New("densemap: key not found")

	// ErrEmpty is returned by OrderedMap.PopEnd on a map with no live
	// entries.
	ErrEmpty = errors.New("densemap: empty map")

	// ErrMutatedDuringIteration is reported by Iterator.Next after the map
	// was structurally mutated (insert, delete, reorder or resize) since the
	// iterator was created. The iterator is dead; the map is fine.
	ErrMutatedDuringIteration = errors.New("densemap: map mutated during iteration")

	// ErrSizeChangedDuringIteration is reported by Iterator.Next when the
	// map's size changed without the structural checks firing. The iterator
	// is dead; the map is fine.
	ErrSizeChangedDuringIteration = errors.New("densemap: map changed size during iteration")

	// ErrReentrantMutation is reported when a hash or equality callback
	// mutated the very map it was invoked for, mid-probe. The operation is
	// aborted; the map reflects whatever the callback did to it.
	ErrReentrantMutation = errors.New("densemap: map mutated by callback during lookup")
)
