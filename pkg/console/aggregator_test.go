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

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	t.Run("keeps entries in push order below capacity", func(t *testing.T) {
		r := newRing(3)
		r.push(Entry{Message: "a"})
		r.push(Entry{Message: "b"})

		assert.Equal(t, 2, r.len())
		assert.Equal(t, []string{"a", "b"}, messages(r.slice()))
	})

	t.Run("evicts oldest first when full", func(t *testing.T) {
		r := newRing(3)
		for _, m := range []string{"a", "b", "c", "d", "e"} {
			r.push(Entry{Message: m})
		}

		assert.Equal(t, 3, r.len())
		assert.Equal(t, []string{"c", "d", "e"}, messages(r.slice()))
	})
}

func TestAggregator_Append(t *testing.T) {
	t.Run("1001 appends leave the last 1000 in order", func(t *testing.T) {
		agg := NewAggregator(0)
		for i := 0; i < 1001; i++ {
			agg.Append(1, KindLog, fmt.Sprintf("line %d", i))
		}

		entries := agg.Entries(1)
		require.Len(t, entries, 1000)
		assert.Equal(t, "line 1", entries[0].Message)
		assert.Equal(t, "line 1000", entries[999].Message)
	})

	t.Run("buffer equals the last min(capacity, N) appends", func(t *testing.T) {
		for _, n := range []int{0, 1, 7, 10, 11, 25} {
			agg := NewAggregator(10)
			var want []string
			for i := 0; i < n; i++ {
				msg := fmt.Sprintf("%d", i)
				agg.Append(9, KindLog, msg)
				want = append(want, msg)
			}
			if len(want) > 10 {
				want = want[len(want)-10:]
			}
			if want == nil {
				want = []string{}
			}

			assert.Equal(t, want, messages(agg.Entries(9)), "n=%d", n)
		}
	})

	t.Run("worlds are buffered independently", func(t *testing.T) {
		agg := NewAggregator(5)
		agg.Append(1, KindLog, "one")
		agg.Append(2, KindError, "two")

		snapshot := agg.Snapshot()
		require.Len(t, snapshot, 2)
		assert.Equal(t, KindLog, snapshot[1][0].Kind)
		assert.Equal(t, KindError, snapshot[2][0].Kind)
	})

	t.Run("discard drops a world", func(t *testing.T) {
		agg := NewAggregator(5)
		agg.Append(1, KindLog, "one")
		agg.Discard(1)

		assert.Empty(t, agg.Entries(1))
		assert.Empty(t, agg.Snapshot())
	})
}

func TestAggregator_Subscribe(t *testing.T) {
	t.Run("delivers events in append order", func(t *testing.T) {
		agg := NewAggregator(0)
		sub := agg.Subscribe(10)
		defer sub.Unsubscribe()

		agg.Append(1, KindLog, "first")
		agg.Append(2, KindError, "second")

		ev := <-sub.Events()
		assert.Equal(t, int64(1), ev.WorldID)
		assert.Equal(t, "first", ev.Entry.Message)

		ev = <-sub.Events()
		assert.Equal(t, int64(2), ev.WorldID)
		assert.Equal(t, KindError, ev.Entry.Kind)
	})

	t.Run("each subscription is independent", func(t *testing.T) {
		agg := NewAggregator(0)
		a := agg.Subscribe(4)
		b := agg.Subscribe(4)

		agg.Append(1, KindLog, "x")
		a.Unsubscribe()
		agg.Append(1, KindLog, "y")

		assert.Equal(t, "x", (<-b.Events()).Entry.Message)
		assert.Equal(t, "y", (<-b.Events()).Entry.Message)

		ev, open := <-a.Events()
		require.True(t, open)
		assert.Equal(t, "x", ev.Entry.Message)
		_, open = <-a.Events()
		assert.False(t, open)
		b.Unsubscribe()
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		agg := NewAggregator(0)
		sub := agg.Subscribe(1)

		sub.Unsubscribe()
		sub.Unsubscribe()

		assert.Equal(t, 0, agg.Subscribers())
		assert.False(t, sub.Dropped())
	})

	t.Run("slow subscriber is dropped without blocking others", func(t *testing.T) {
		agg := NewAggregator(0)
		slow := agg.Subscribe(1)
		fast := agg.Subscribe(100)
		defer fast.Unsubscribe()

		for i := 0; i < 10; i++ {
			agg.Append(1, KindLog, fmt.Sprintf("%d", i))
		}

		assert.True(t, slow.Dropped())
		assert.Equal(t, 1, agg.Subscribers())

		// The slow subscriber still gets what fit, then sees the close.
		ev, ok := <-slow.Events()
		require.True(t, ok)
		assert.Equal(t, "0", ev.Entry.Message)
		_, ok = <-slow.Events()
		assert.False(t, ok)

		assert.Len(t, fast.Events(), 10)
	})

	t.Run("snapshot and subscription line up", func(t *testing.T) {
		agg := NewAggregator(0)
		agg.Append(3, KindLog, "before")

		snapshot, sub := agg.SubscribeWithSnapshot(4)
		defer sub.Unsubscribe()
		agg.Append(3, KindLog, "after")

		assert.Equal(t, []string{"before"}, messages(snapshot[3]))
		assert.Equal(t, "after", (<-sub.Events()).Entry.Message)
	})
}

func TestAggregator_ConcurrentAppend(t *testing.T) {
	agg := NewAggregator(100)
	sub := agg.Subscribe(1000)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for w := int64(1); w <= 4; w++ {
		wg.Add(1)
		go func(world int64) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.Append(world, KindLog, fmt.Sprintf("%d", i))
			}
		}(w)
	}
	wg.Wait()

	// Per-world order must survive interleaving.
	last := map[int64]int{1: -1, 2: -1, 3: -1, 4: -1}
	for i := 0; i < 400; i++ {
		ev := <-sub.Events()
		var n int
		_, err := fmt.Sscanf(ev.Entry.Message, "%d", &n)
		require.NoError(t, err)
		assert.Greater(t, n, last[ev.WorldID])
		last[ev.WorldID] = n
	}
	for w := int64(1); w <= 4; w++ {
		assert.Len(t, agg.Entries(w), 100)
	}
}

func messages(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
