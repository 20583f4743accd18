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

package config

import (
	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/fleet"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/ports"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/workspace"
)

// ProcessConfig returns the launcher configuration.
func (c Config) ProcessConfig() *process.Config {
	return &process.Config{
		Command:           c.Launch.Command,
		Args:              append([]string(nil), c.Launch.Args...),
		Env:               append([]string(nil), c.Launch.Env...),
		Detector:          process.MarkerDetector{Marker: c.Launch.ReadyMarker},
		ReadyTimeout:      c.Launch.ReadyTimeout,
		HeartbeatInterval: c.Heartbeat.Interval,
		HeartbeatTimeout:  c.Heartbeat.Timeout,
		HeartbeatCommand:  c.Heartbeat.Command,
		HeartbeatReply:    c.Heartbeat.Reply,
	}
}

// WorkspaceConfig returns the provisioner configuration.
func (c Config) WorkspaceConfig() *workspace.Config {
	return &workspace.Config{
		TemplateDir:    c.TemplateDir,
		WorldsDir:      c.WorldsDir,
		PropertiesFile: c.Workspace.PropertiesFile,
		MapConfigFile:  c.Workspace.MapConfigFile,
		MapPortKey:     c.Workspace.MapPortKey,
		ConsoleLogFile: c.Workspace.ConsoleLogFile,
	}
}

// AllocatorConfig returns the port allocator configuration.
func (c Config) AllocatorConfig() *ports.AllocatorConfig {
	return &ports.AllocatorConfig{
		ServerBase: c.Ports.ServerBase,
		MapBase:    c.Ports.MapBase,
	}
}

// FleetConfig returns the supervisor configuration.
func (c Config) FleetConfig() *fleet.Config {
	config := fleet.DefaultConfig()
	config.StopTimeout = c.Launch.StopTimeout
	config.DeleteGrace = c.Teardown.Grace
	config.RemoveAttempts = c.Teardown.RemoveAttempts
	config.RemoveBackoff = c.Teardown.RemoveBackoff
	return config
}

// StoreConfig returns the record store configuration.
func (c Config) StoreConfig(logger *zap.Logger) store.Config {
	return store.Config{
		Path:   c.Database,
		Logger: logger,
	}
}
