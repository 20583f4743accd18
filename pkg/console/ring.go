// Copyright Pigeonworks LLC
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

package console

// ring is a fixed-capacity FIFO. Pushing into a full ring overwrites the
// oldest entry.
type ring struct {
	entries []Entry
	head    int // index of the oldest entry
	size    int
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]Entry, capacity)}
}

func (r *ring) push(e Entry) {
	capacity := len(r.entries)
	if r.size < capacity {
		r.entries[(r.head+r.size)%capacity] = e
		r.size++
		return
	}
	r.entries[r.head] = e
	r.head = (r.head + 1) % capacity
}

func (r *ring) len() int {
	return r.size
}

func (r *ring) slice() []Entry {
	out := make([]Entry, r.size)
	capacity := len(r.entries)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%capacity]
	}
	return out
}
