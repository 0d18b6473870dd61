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

import "sync/atomic"

// versionCounter is the process-wide source of version tags. Every mutation
// of every map draws the next tag from it, so tags are strictly increasing
// across the process and two observations of the same tag imply the map was
// not mutated in between. A uint64 at one-mutation-per-nanosecond lasts
// around 580 years; wraparound is not handled.
var versionCounter atomic.Uint64

func nextVersion() uint64 {
	return versionCounter.Add(1)
}

// refcount counts the owners of a keyTable. It exceeds 1 only for shared
// (split-mode) tables. The counter is atomic so that read-only sharing of a
// key layout across goroutine-confined maps stays sound; individual maps
// remain single-threaded.
type refcount struct {
	n atomic.Int32
}

func (r *refcount) init()      { r.n.Store(1) }
func (r *refcount) inc()       { r.n.Add(1) }
func (r *refcount) dec() int32 { return r.n.Add(-1) }
