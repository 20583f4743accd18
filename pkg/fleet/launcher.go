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

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/workspace"
)

// Process is a running world server as seen by the supervisor.
type Process interface {
	Send(command string) error
	Terminate() error
	Kill() error
	Done() <-chan struct{}
	State() process.State
}

// Launcher starts world servers.
type Launcher interface {
	Launch(ctx context.Context, spec process.Spec, hooks process.Hooks) (Process, error)
}

// NewProcessLauncher adapts a process.Launcher to Launcher.
func NewProcessLauncher(l *process.Launcher) Launcher {
	return processLauncher{launcher: l}
}

type processLauncher struct {
	launcher *process.Launcher
}

func (p processLauncher) Launch(ctx context.Context, spec process.Spec, hooks process.Hooks) (Process, error) {
	h, err := p.launcher.Launch(ctx, spec, hooks)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Store is the record store the supervisor persists worlds to.
type Store interface {
	ListWorlds(ctx context.Context) ([]store.World, error)
	GetWorld(ctx context.Context, id int64) (store.World, error)
	InsertWorld(ctx context.Context, w store.World) (int64, error)
	UpdateWorldStatus(ctx context.Context, id int64, status store.Status) error
	DeleteWorldRecord(ctx context.Context, id int64) error
	MaxAllocatedPorts(ctx context.Context) (serverPort, mapPort int, err error)
	Reconcile(ctx context.Context) (int, error)
}

// Workspaces provisions and removes world directories.
type Workspaces interface {
	Provision(spec workspace.Spec) (string, error)
	Validate(path string, spec workspace.Spec) error
	Remove(path string) error
	ConsoleLog(path string) string
}
