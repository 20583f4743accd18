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

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/internal/config"
	"github.com/pigeonworks-llc/go-fleetvisor/internal/logging"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/fleet"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/lock"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/ports"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/workspace"
)

// env is the configuration and logger shared by every command.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func loadEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.ProfileRuntime, logLevel)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) openStore() (*store.Store, error) {
	st, err := store.Open(e.cfg.StoreConfig(e.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open world store: %w", err)
	}
	return st, nil
}

func (e *env) provisioner() *workspace.Provisioner {
	return workspace.NewProvisioner(e.cfg.WorkspaceConfig(), workspace.WithLogger(e.logger))
}

// app is a supervisor that owns the fleet lock for the lifetime of a
// command.
type app struct {
	*env
	lock  *lock.Lock
	store *store.Store
	logs  *console.Aggregator
	sup   *fleet.Supervisor
}

// openApp takes the fleet lock, opens the store and builds a supervisor.
// Building the supervisor reconciles records left active by a crash.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}

	l, err := lock.Acquire(lock.PathFor(e.cfg.Database), cmd.Name())
	if err != nil {
		return nil, err
	}

	st, err := e.openStore()
	if err != nil {
		_ = l.Release()
		return nil, err
	}

	logs := console.NewAggregator(e.cfg.Logs.Capacity)
	sup, err := fleet.New(ctx, fleet.Options{
		Config:     e.cfg.FleetConfig(),
		Store:      st,
		Workspaces: e.provisioner(),
		Launcher:   fleet.NewProcessLauncher(process.NewLauncher(e.cfg.ProcessConfig(), e.logger)),
		Ports:      ports.NewAllocator(e.cfg.AllocatorConfig()),
		Logs:       logs,
		Logger:     e.logger,
	})
	if err != nil {
		_ = st.Close()
		_ = l.Release()
		return nil, err
	}

	return &app{env: e, lock: l, store: st, logs: logs, sup: sup}, nil
}

func (a *app) Close() error {
	err := a.store.Close()
	if releaseErr := a.lock.Release(); releaseErr != nil {
		err = errors.Join(err, releaseErr)
	}
	_ = a.logger.Sync()
	return err
}
