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
	"context"
	"fmt"
	"time"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
)

// WorldStatus is a world record combined with what the supervisor knows
// about its process.
type WorldStatus struct {
	store.World

	// Running reports whether a process is attached.
	Running               bool      `json:"running"`
	PID                   int       `json:"pid,omitempty"`
	StartTime             time.Time `json:"start_time,omitzero"`
	Uptime                int64     `json:"uptime"`
	IsInitialized         bool      `json:"is_initialized"`
	PendingHeartbeat      bool      `json:"pending_heartbeat"`
	LastHeartbeat         time.Time `json:"last_heartbeat,omitzero"`
	LastHealthCheck       time.Time `json:"last_health_check"`
	IsResponsive          bool      `json:"is_responsive"`
	IsHeartbeatResponsive bool      `json:"is_heartbeat_responsive"`
}

// Status returns the current status of one world.
func (s *Supervisor) Status(ctx context.Context, id int64) (WorldStatus, error) {
	w, err := s.store.GetWorld(ctx, id)
	if err != nil {
		return WorldStatus{}, notFound(id, err)
	}
	return s.overlay(w), nil
}

// StatusAll returns the status of every world, ordered by id.
func (s *Supervisor) StatusAll(ctx context.Context) ([]WorldStatus, error) {
	worlds, err := s.store.ListWorlds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list worlds: %w", err)
	}

	out := make([]WorldStatus, 0, len(worlds))
	for _, w := range worlds {
		out = append(out, s.overlay(w))
	}
	return out, nil
}

// overlay fills in live process details. The in-memory status wins over the
// record because it is written first.
func (s *Supervisor) overlay(w store.World) WorldStatus {
	now := s.now()
	st := WorldStatus{World: w, LastHealthCheck: now}

	s.mu.Lock()
	e, ok := s.worlds[w.ID]
	s.mu.Unlock()
	if !ok {
		return st
	}

	e.mu.Lock()
	st.Status = e.status
	var proc Process
	if r := e.current(); r != nil {
		proc = r.proc
	}
	e.mu.Unlock()

	if proc == nil {
		return st
	}

	ps := proc.State()
	window := s.config.ResponsiveWindow

	st.Running = true
	st.PID = ps.PID
	st.StartTime = ps.StartTime
	if !ps.StartTime.IsZero() {
		st.Uptime = int64(now.Sub(ps.StartTime) / time.Second)
	}
	st.IsInitialized = ps.Initialized
	st.PendingHeartbeat = ps.PendingHeartbeat
	st.LastHeartbeat = ps.LastHeartbeatAt
	st.IsResponsive = recent(now, ps.LastOutputAt, window)
	st.IsHeartbeatResponsive = !ps.PendingHeartbeat && recent(now, ps.LastHeartbeatAt, window)
	return st
}

func recent(now, t time.Time, window time.Duration) bool {
	return !t.IsZero() && now.Sub(t) < window
}
