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

// Package console collects world console output into bounded per-world
// buffers and fans it out to live observers.
package console

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept per world.
const DefaultCapacity = 1000

// DefaultSubscriberBuffer is the channel depth given to a subscriber when
// none is requested.
const DefaultSubscriberBuffer = 256

// Kind tags where a line came from.
type Kind string

const (
	// KindLog marks standard output and supervisor notices.
	KindLog Kind = "log"
	// KindError marks standard error and supervisor failures.
	KindError Kind = "error"
)

// Entry is one console line. Entries are never modified after Append.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"type"`
}

// Event is an entry delivered to subscribers together with its world.
type Event struct {
	WorldID int64 `json:"worldId"`
	Entry   Entry `json:"log"`
}

// Aggregator stores the recent console output of every world and
// publishes new lines to subscribers.
//
// Publishing never blocks: a subscriber whose channel is full is dropped
// and its channel closed.
type Aggregator struct {
	mu       sync.Mutex
	capacity int
	buffers  map[int64]*ring
	subs     map[uint64]*Subscription
	nextID   uint64
	now      func() time.Time
}

// NewAggregator creates an aggregator keeping capacity entries per world.
// A non-positive capacity selects DefaultCapacity.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Aggregator{
		capacity: capacity,
		buffers:  make(map[int64]*ring),
		subs:     make(map[uint64]*Subscription),
		now:      time.Now,
	}
}

// Append records a line for a world and publishes it.
func (a *Aggregator) Append(worldID int64, kind Kind, message string) Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := Entry{
		Timestamp: a.now(),
		Message:   message,
		Kind:      kind,
	}

	buf, ok := a.buffers[worldID]
	if !ok {
		buf = newRing(a.capacity)
		a.buffers[worldID] = buf
	}
	buf.push(entry)

	event := Event{WorldID: worldID, Entry: entry}
	for id, sub := range a.subs {
		select {
		case sub.ch <- event:
		default:
			// Slow observer: disconnect rather than stall the producer.
			sub.dropped = true
			a.closeLocked(id, sub)
		}
	}

	return entry
}

// Entries returns a copy of one world's buffer, oldest first.
func (a *Aggregator) Entries(worldID int64) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.buffers[worldID]
	if !ok {
		return []Entry{}
	}
	return buf.slice()
}

// Snapshot returns a copy of every world's buffer.
func (a *Aggregator) Snapshot() map[int64][]Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[int64][]Entry, len(a.buffers))
	for id, buf := range a.buffers {
		out[id] = buf.slice()
	}
	return out
}

// Discard drops a world's buffer. Used when the world is deleted.
func (a *Aggregator) Discard(worldID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.buffers, worldID)
}

// Subscribe attaches a new observer. Events appended after this call are
// delivered on the subscription's channel in append order.
func (a *Aggregator) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	sub := &Subscription{
		id:     a.nextID,
		ch:     make(chan Event, buffer),
		parent: a,
	}
	a.subs[sub.id] = sub
	return sub
}

// SubscribeWithSnapshot attaches an observer and returns the buffers as
// they were at the moment of attachment, so no line is missed or repeated.
func (a *Aggregator) SubscribeWithSnapshot(buffer int) (map[int64][]Entry, *Subscription) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make(map[int64][]Entry, len(a.buffers))
	for id, buf := range a.buffers {
		snapshot[id] = buf.slice()
	}

	a.nextID++
	sub := &Subscription{
		id:     a.nextID,
		ch:     make(chan Event, buffer),
		parent: a,
	}
	a.subs[sub.id] = sub
	return snapshot, sub
}

// Subscribers returns the number of attached observers.
func (a *Aggregator) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

func (a *Aggregator) unsubscribe(sub *Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if current, ok := a.subs[sub.id]; ok && current == sub {
		a.closeLocked(sub.id, sub)
	}
}

// closeLocked must be called with a.mu held.
func (a *Aggregator) closeLocked(id uint64, sub *Subscription) {
	delete(a.subs, id)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Subscription is one observer's view of the event stream.
type Subscription struct {
	id     uint64
	ch     chan Event
	parent *Aggregator

	// guarded by parent.mu
	closed  bool
	dropped bool
}

// Events returns the delivery channel. It is closed on Unsubscribe or
// when the subscriber is dropped for falling behind.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe detaches the observer. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.parent.unsubscribe(s)
}

// Dropped reports whether the subscription was closed because it fell
// behind.
func (s *Subscription) Dropped() bool {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	return s.dropped
}
