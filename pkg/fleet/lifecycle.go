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
	"fmt"

	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
)

// hooks binds process events for run r to world e.
func (s *Supervisor) hooks(e *entry, r *run) process.Hooks {
	return process.Hooks{
		OnLine: func(stream process.Stream, line string) {
			s.onLine(e, stream, line)
		},
		OnReady: func() {
			s.onReady(e, r)
		},
		OnReadyTimeout: func() {
			s.onReadyTimeout(e, r)
		},
		OnHeartbeatTimeout: func() {
			s.onHeartbeatTimeout(e, r)
		},
		OnExit: func(info process.ExitInfo) {
			s.onExit(e, r, info)
		},
	}
}

func (s *Supervisor) onLine(e *entry, stream process.Stream, line string) {
	kind := console.KindLog
	if stream == process.Stderr {
		kind = console.KindError
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return
	}
	s.logs.Append(e.id, kind, line)
}

func (s *Supervisor) onReady(e *entry, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A stop may have raced with the marker; STOPPING wins.
	if e.active != r || e.status != store.StatusStarting {
		return
	}
	_ = s.transitionLocked(e, store.StatusRunning)
	s.logs.Append(e.id, console.KindLog, "Server is ready")
}

func (s *Supervisor) onReadyTimeout(e *entry, r *run) {
	e.mu.Lock()
	current := e.active == r && !e.deleted
	e.mu.Unlock()
	if !current {
		return
	}

	s.logs.Append(e.id, console.KindError, "Server did not become ready in time and is being killed")
	s.logger.Warn("world did not become ready", zap.Int64("world_id", e.id))
}

func (s *Supervisor) onHeartbeatTimeout(e *entry, r *run) {
	e.mu.Lock()
	current := e.active == r && !e.deleted
	e.mu.Unlock()
	if !current {
		return
	}

	s.logs.Append(e.id, console.KindError, "Heartbeat timeout - no response received")
}

// onExit is the only place a launched world becomes STOPPED or ERROR.
func (s *Supervisor) onExit(e *entry, r *run, info process.ExitInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer close(r.exited)

	switch {
	case e.deleted:
		e.active, e.draining = nil, nil
		return

	case e.draining == r:
		e.draining = nil
		_ = s.transitionLocked(e, store.StatusStopped)
		s.logs.Append(e.id, console.KindLog, "Server stopped")

	case e.active == r:
		e.active = nil
		if info.Clean() {
			_ = s.transitionLocked(e, store.StatusStopped)
			s.logs.Append(e.id, console.KindLog, "Server exited")
			return
		}
		_ = s.transitionLocked(e, store.StatusError)
		s.logs.Append(e.id, console.KindError, fmt.Sprintf("Server exited unexpectedly (%s)", info))
		s.logger.Warn("world exited unexpectedly",
			zap.Int64("world_id", e.id),
			zap.Stringer("exit", info))

	default:
		// Event from a process that is no longer tracked.
	}
}
