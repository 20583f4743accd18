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

// Package fleet supervises a fleet of world servers.
//
// The Supervisor owns the authoritative view of which worlds have a live
// process. Operations on one world are serialized by a per-world lock;
// different worlds never wait on each other. Every status change is
// written to the record store before the lock is released, and process
// events (readiness, exit) are applied through the same per-world
// serialization point.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/ports"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/workspace"
)

// Config holds supervisor timing and retry settings.
type Config struct {
	// StopTimeout is how long a stopped server may take to exit before it
	// is killed. Zero disables the escalation.
	StopTimeout time.Duration
	// DeleteGrace is how long Delete waits for a stopped server to exit
	// before removing its workspace.
	DeleteGrace time.Duration
	// RemoveAttempts bounds workspace removal attempts on Delete.
	RemoveAttempts int
	// RemoveBackoff is the pause between removal attempts.
	RemoveBackoff time.Duration
	// ResponsiveWindow is how recent output or a heartbeat reply must be
	// for a world to count as responsive.
	ResponsiveWindow time.Duration
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() *Config {
	return &Config{
		StopTimeout:      30 * time.Second,
		DeleteGrace:      time.Second,
		RemoveAttempts:   3,
		RemoveBackoff:    time.Second,
		ResponsiveWindow: 30 * time.Second,
	}
}

// Options wires a Supervisor to its collaborators.
type Options struct {
	Config     *Config
	Store      Store
	Workspaces Workspaces
	Launcher   Launcher
	// Ports defaults to an allocator with the standard bases.
	Ports *ports.Allocator
	// Logs defaults to an aggregator with the standard capacity.
	Logs   *console.Aggregator
	Logger *zap.Logger
}

// Supervisor manages the lifecycle of every world.
type Supervisor struct {
	config     *Config
	store      Store
	workspaces Workspaces
	launcher   Launcher
	ports      *ports.Allocator
	logs       *console.Aggregator
	logger     *zap.Logger
	now        func() time.Time

	// createMu serializes port allocation with record insertion.
	createMu sync.Mutex

	mu     sync.Mutex
	worlds map[int64]*entry
}

// New creates a supervisor and reconciles the record store: worlds left
// active by a previous supervisor have no process any more and are reset.
func New(ctx context.Context, opts Options) (*Supervisor, error) {
	if opts.Store == nil || opts.Workspaces == nil || opts.Launcher == nil {
		return nil, errors.New("store, workspaces and launcher are required")
	}

	config := opts.Config
	if config == nil {
		config = DefaultConfig()
	}
	if config.RemoveAttempts < 1 {
		config.RemoveAttempts = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allocator := opts.Ports
	if allocator == nil {
		allocator = ports.NewAllocator(nil)
	}
	logs := opts.Logs
	if logs == nil {
		logs = console.NewAggregator(console.DefaultCapacity)
	}

	s := &Supervisor{
		config:     config,
		store:      opts.Store,
		workspaces: opts.Workspaces,
		launcher:   opts.Launcher,
		ports:      allocator,
		logs:       logs,
		logger:     logger.Named("fleet"),
		now:        time.Now,
		worlds:     make(map[int64]*entry),
	}

	fixed, err := s.store.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile world records: %w", err)
	}
	if fixed > 0 {
		s.logger.Info("reset worlds left active by a previous run", zap.Int("count", fixed))
	}

	return s, nil
}

// Logs returns the console log aggregator.
func (s *Supervisor) Logs() *console.Aggregator {
	return s.logs
}

// SubscribeLogs attaches a log observer. The snapshot holds the buffered
// lines of every world as of the moment the subscription started.
func (s *Supervisor) SubscribeLogs(buffer int) (map[int64][]console.Entry, *console.Subscription) {
	return s.logs.SubscribeWithSnapshot(buffer)
}

// SnapshotLogs returns the buffered lines of every world.
func (s *Supervisor) SnapshotLogs() map[int64][]console.Entry {
	return s.logs.Snapshot()
}

// CreateWorld allocates ports, provisions a workspace and records a new
// STOPPED world.
func (s *Supervisor) CreateWorld(ctx context.Context, name, seed string) (store.World, error) {
	name = strings.TrimSpace(name)
	seed = strings.TrimSpace(seed)
	if name == "" || seed == "" {
		return store.World{}, fmt.Errorf("%w: name and seed are required", ErrInvalidWorld)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	maxServer, maxMap, err := s.store.MaxAllocatedPorts(ctx)
	if err != nil {
		return store.World{}, fmt.Errorf("failed to read allocated ports: %w", err)
	}
	pair, err := s.ports.Next(maxServer, maxMap)
	if err != nil {
		return store.World{}, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	path, err := s.workspaces.Provision(workspace.Spec{
		Name:       name,
		Seed:       seed,
		ServerPort: pair.Server,
		MapPort:    pair.Map,
	})
	if err != nil {
		return store.World{}, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	id, err := s.store.InsertWorld(ctx, store.World{
		Name:       name,
		Seed:       seed,
		Path:       path,
		ServerPort: pair.Server,
		MapPort:    pair.Map,
		Status:     store.StatusStopped,
	})
	if err != nil {
		if rmErr := s.workspaces.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove unrecorded workspace", zap.String("path", path), zap.Error(rmErr))
		}
		return store.World{}, fmt.Errorf("failed to record world: %w", err)
	}

	w, err := s.store.GetWorld(ctx, id)
	if err != nil {
		return store.World{}, notFound(id, err)
	}

	s.logger.Info("world created",
		zap.Int64("world_id", id),
		zap.String("name", name),
		zap.Int("server_port", pair.Server),
		zap.Int("map_port", pair.Map))

	return w, nil
}

// lookup returns the entry for id, loading it from the store on first use.
func (s *Supervisor) lookup(ctx context.Context, id int64) (*entry, error) {
	s.mu.Lock()
	e, ok := s.worlds[id]
	s.mu.Unlock()
	if ok {
		return e, nil
	}

	w, err := s.store.GetWorld(ctx, id)
	if err != nil {
		return nil, notFound(id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.worlds[id]; ok {
		return e, nil
	}
	e = &entry{id: id, status: w.Status}
	s.worlds[id] = e
	return e, nil
}

func (s *Supervisor) forget(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worlds[e.id] == e {
		delete(s.worlds, e.id)
	}
}

func (s *Supervisor) entries() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entry, 0, len(s.worlds))
	for _, e := range s.worlds {
		out = append(out, e)
	}
	return out
}

// load reads the world record while e.op is held.
func (s *Supervisor) load(ctx context.Context, e *entry) (store.World, error) {
	e.mu.Lock()
	deleted := e.deleted
	e.mu.Unlock()
	if deleted {
		return store.World{}, fmt.Errorf("%w: %d", ErrNotFound, e.id)
	}

	w, err := s.store.GetWorld(ctx, e.id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.forget(e)
		}
		return store.World{}, notFound(e.id, err)
	}
	return w, nil
}

// Start launches a world's server. It returns once the process is spawned;
// readiness arrives later and moves the world to RUNNING.
func (s *Supervisor) Start(ctx context.Context, id int64) error {
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

	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	if status.Active() {
		return fmt.Errorf("%w: world %d is %s", ErrAlreadyRunning, id, status)
	}
	if !CanTransition(status, store.StatusStarting) {
		return fmt.Errorf("%w: world %d is %s", ErrInvalidWorld, id, status)
	}

	if err := s.workspaces.Validate(w.Path, workspace.Spec{
		Name:       w.Name,
		Seed:       w.Seed,
		ServerPort: w.ServerPort,
		MapPort:    w.MapPort,
	}); err != nil {
		s.logs.Append(id, console.KindError, "Workspace is not usable: "+err.Error())
		return fmt.Errorf("%w: %w", ErrProvision, err)
	}

	r := newRun()

	e.mu.Lock()
	if err := s.transitionLocked(e, store.StatusStarting); err != nil {
		// Nothing was launched, so the previous status still holds.
		e.status = status
		e.mu.Unlock()
		return err
	}
	e.active = r
	e.mu.Unlock()

	s.logs.Append(id, console.KindLog, "Starting server")

	proc, err := s.launcher.Launch(ctx, process.Spec{
		Dir:        w.Path,
		ConsoleLog: s.workspaces.ConsoleLog(w.Path),
	}, s.hooks(e, r))
	if err != nil {
		if !errors.Is(err, ErrSpawn) {
			err = fmt.Errorf("%w: %w", ErrSpawn, err)
		}

		e.mu.Lock()
		if e.active == r {
			e.active = nil
			_ = s.transitionLocked(e, store.StatusError)
		}
		e.mu.Unlock()

		s.logs.Append(id, console.KindError, "Failed to start server: "+err.Error())
		s.logger.Error("failed to start world", zap.Int64("world_id", id), zap.Error(err))
		return fmt.Errorf("failed to start world %d: %w", id, err)
	}

	e.mu.Lock()
	r.proc = proc
	e.mu.Unlock()

	s.logger.Info("world started", zap.Int64("world_id", id), zap.Int("pid", proc.State().PID))
	return nil
}

// SendCommand writes a console command to a starting or running world.
func (s *Supervisor) SendCommand(ctx context.Context, id int64, command string) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	var proc Process
	if e.active != nil {
		proc = e.active.proc
	}
	e.mu.Unlock()

	if proc == nil {
		return fmt.Errorf("%w: %d", ErrNotRunning, id)
	}
	if err := proc.Send(command); err != nil {
		if errors.Is(err, process.ErrExited) {
			return fmt.Errorf("%w: %d", ErrNotRunning, id)
		}
		return fmt.Errorf("failed to send command to world %d: %w", id, err)
	}
	return nil
}

// transitionLocked moves e to status and persists it. e.mu must be held.
func (s *Supervisor) transitionLocked(e *entry, status store.Status) error {
	from := e.status
	if from == status {
		return nil
	}
	if !CanTransition(from, status) {
		s.logger.Error("refusing invalid transition",
			zap.Int64("world_id", e.id),
			zap.String("from", string(from)),
			zap.String("to", string(status)))
		return fmt.Errorf("%w: cannot move world %d from %s to %s", ErrInvalidWorld, e.id, from, status)
	}

	// The in-memory status follows the process even when the write fails.
	e.status = status
	if e.deleted {
		return nil
	}

	if err := s.store.UpdateWorldStatus(context.Background(), e.id, status); err != nil {
		s.logger.Error("failed to persist world status",
			zap.Int64("world_id", e.id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to persist status of world %d: %w", e.id, err)
	}

	s.logger.Info("world status changed",
		zap.Int64("world_id", e.id),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	return nil
}
