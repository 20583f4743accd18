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

package fleet

import (
	"sync"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
)

// transitions lists every lifecycle move the supervisor may make.
var transitions = map[store.Status][]store.Status{
	store.StatusCreating: {store.StatusStopped, store.StatusError},
	store.StatusStopped:  {store.StatusStarting},
	store.StatusError:    {store.StatusStarting},
	store.StatusStarting: {store.StatusRunning, store.StatusStopping, store.StatusStopped, store.StatusError},
	store.StatusRunning:  {store.StatusStopping, store.StatusStopped, store.StatusError},
	store.StatusStopping: {store.StatusStopped},
}

// CanTransition reports whether a world may move from one status to
// another.
func CanTransition(from, to store.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// entry is the supervisor's view of one world.
//
// op serializes Start, Stop, Delete and friends for the world. mu guards
// the fields below it and is also taken by process hooks, which never take
// op.
type entry struct {
	id int64
	op sync.Mutex

	mu     sync.Mutex
	status store.Status
	// active is the process the world is running, if any.
	active *run
	// draining is a process that was asked to stop and has not exited.
	draining *run
	deleted  bool
}

// run is one launch of a world server. Hooks carry their run so that
// events from a replaced process are ignored.
type run struct {
	proc Process
	// exited is closed once the exit event has been applied.
	exited chan struct{}
}

func newRun() *run {
	return &run{exited: make(chan struct{})}
}

// current returns the process a world is running or winding down.
func (e *entry) current() *run {
	if e.active != nil {
		return e.active
	}
	return e.draining
}
