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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
)

// Stop asks a world's server to shut down and returns without waiting for
// it to exit; the exit moves the world to STOPPED. Stopping a world with no
// process is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id int64) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	e.op.Lock()
	defer e.op.Unlock()

	if _, err := s.load(ctx, e); err != nil {
		return err
	}
	s.stopLocked(e)
	return nil
}

// ForceStop kills a world's server immediately. It also applies to a world
// that is already STOPPING.
func (s *Supervisor) ForceStop(ctx context.Context, id int64) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	e.op.Lock()
	defer e.op.Unlock()

	if _, err := s.load(ctx, e); err != nil {
		return err
	}

	e.mu.Lock()
	r := s.detachLocked(e)
	if r == nil {
		r = e.draining
	}
	e.mu.Unlock()

	if r == nil || r.proc == nil {
		return nil
	}

	s.logs.Append(id, console.KindLog, "Killing server")
	if err := r.proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill world %d: %w", id, err)
	}
	return nil
}

// detachLocked moves the active run to draining and marks the world
// STOPPING. It returns the detached run, or nil if nothing was running.
// e.mu must be held.
func (s *Supervisor) detachLocked(e *entry) *run {
	r := e.active
	if r == nil {
		return nil
	}
	e.active = nil
	e.draining = r
	_ = s.transitionLocked(e, store.StatusStopping)
	return r
}

// stopLocked terminates the active run of e. e.op must be held.
func (s *Supervisor) stopLocked(e *entry) {
	e.mu.Lock()
	r := s.detachLocked(e)
	e.mu.Unlock()

	if r == nil || r.proc == nil {
		return
	}

	s.logs.Append(e.id, console.KindLog, "Stopping server")
	s.logger.Info("stopping world", zap.Int64("world_id", e.id))

	proc := r.proc
	if err := proc.Terminate(); err != nil {
		s.logger.Warn("terminate failed, killing", zap.Int64("world_id", e.id), zap.Error(err))
		_ = proc.Kill()
		return
	}

	if s.config.StopTimeout > 0 {
		go s.killAfter(e.id, proc, s.config.StopTimeout)
	}
}

// killAfter kills proc if it is still running after timeout.
func (s *Supervisor) killAfter(id int64, proc Process, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-proc.Done():
	case <-timer.C:
		s.logger.Warn("world ignored stop, killing", zap.Int64("world_id", id), zap.Duration("timeout", timeout))
		s.logs.Append(id, console.KindError, "Server did not stop in time and is being killed")
		if err := proc.Kill(); err != nil {
			s.logger.Error("failed to kill world", zap.Int64("world_id", id), zap.Error(err))
		}
	}
}

// StopAll stops every world in parallel. It returns once every stop has
// been dispatched; exits are confirmed asynchronously.
func (s *Supervisor) StopAll() {
	var wg sync.WaitGroup
	for _, e := range s.entries() {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()

			e.op.Lock()
			defer e.op.Unlock()

			e.mu.Lock()
			deleted := e.deleted
			e.mu.Unlock()
			if !deleted {
				s.stopLocked(e)
			}
		}(e)
	}
	wg.Wait()
}

// Shutdown stops every world and waits for their processes to exit.
// Processes still running when ctx ends are killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.StopAll()

	var runs []*run
	for _, e := range s.entries() {
		e.mu.Lock()
		if r := e.current(); r != nil && r.proc != nil {
			runs = append(runs, r)
		}
		e.mu.Unlock()
	}

	killed := 0
	for _, r := range runs {
		select {
		case <-r.exited:
			continue
		case <-ctx.Done():
		}

		killed++
		if err := r.proc.Kill(); err != nil {
			s.logger.Error("failed to kill process on shutdown", zap.Error(err))
			continue
		}
		<-r.exited
	}

	s.logger.Info("fleet shut down", zap.Int("processes", len(runs)), zap.Int("killed", killed))
	if killed > 0 {
		return fmt.Errorf("killed %d worlds that did not stop in time: %w", killed, ctx.Err())
	}
	return nil
}

// Delete removes a world: its process, workspace, record and log buffer.
// A running world is stopped first. The record is deleted once workspace
// removal has succeeded or run out of attempts; in the latter case the
// returned error wraps ErrIO.
func (s *Supervisor) Delete(ctx context.Context, id int64) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	e.op.Lock()
	defer e.op.Unlock()

	w, err := s.load(ctx, e)
	if err != nil {
		return err
	}

	s.stopLocked(e)
	s.awaitExit(ctx, e)

	removeErr := s.removeWorkspace(ctx, id, w.Path)
	if err := ctx.Err(); err != nil && removeErr != nil {
		return fmt.Errorf("delete of world %d interrupted: %w", id, err)
	}

	// The workspace is gone or given up on; the record must follow.
	if err := s.store.DeleteWorldRecord(context.WithoutCancel(ctx), id); err != nil {
		return fmt.Errorf("failed to delete world record: %w", err)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	s.logs.Discard(id)
	s.forget(e)

	if removeErr != nil {
		s.logger.Error("world deleted but workspace remains",
			zap.Int64("world_id", id),
			zap.String("path", w.Path),
			zap.Error(removeErr))
		return fmt.Errorf("%w: %w", ErrIO, removeErr)
	}

	s.logger.Info("world deleted", zap.Int64("world_id", id), zap.String("path", w.Path))
	return nil
}

// awaitExit gives a stopping world the grace interval to exit and release
// its files, then kills it.
func (s *Supervisor) awaitExit(ctx context.Context, e *entry) {
	e.mu.Lock()
	r := e.current()
	e.mu.Unlock()
	if r == nil || r.proc == nil {
		return
	}

	timer := time.NewTimer(s.config.DeleteGrace)
	defer timer.Stop()

	select {
	case <-r.exited:
		return
	case <-ctx.Done():
	case <-timer.C:
	}

	s.logger.Warn("world still running after grace period, killing", zap.Int64("world_id", e.id))
	if err := r.proc.Kill(); err != nil {
		s.logger.Error("failed to kill world", zap.Int64("world_id", e.id), zap.Error(err))
		return
	}

	timer.Reset(s.config.DeleteGrace)
	select {
	case <-r.exited:
	case <-timer.C:
	}
}

func (s *Supervisor) removeWorkspace(ctx context.Context, id int64, path string) error {
	var err error
	for attempt := 1; attempt <= s.config.RemoveAttempts; attempt++ {
		if err = s.workspaces.Remove(path); err == nil {
			return nil
		}

		s.logger.Warn("workspace removal failed",
			zap.Int64("world_id", id),
			zap.Int("attempt", attempt),
			zap.Int("attempts", s.config.RemoveAttempts),
			zap.Error(err))

		if attempt == s.config.RemoveAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("workspace removal interrupted: %w", err)
		case <-time.After(s.config.RemoveBackoff):
		}
	}
	return fmt.Errorf("failed to remove workspace after %d attempts: %w", s.config.RemoveAttempts, err)
}
