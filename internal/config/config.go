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

// Package config loads the fleetvisor YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/ports"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/workspace"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "fleetvisor.yaml"

// Config is the complete supervisor configuration.
type Config struct {
	WorldsDir   string `yaml:"worlds_dir"`
	TemplateDir string `yaml:"template_dir"`
	Database    string `yaml:"database"`
	// Listen is the address of the websocket log feed. Empty disables it.
	Listen string `yaml:"listen"`

	Ports     PortsConfig     `yaml:"ports"`
	Launch    LaunchConfig    `yaml:"launch"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Teardown  TeardownConfig  `yaml:"teardown"`
	Logs      LogsConfig      `yaml:"logs"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

type PortsConfig struct {
	ServerBase int `yaml:"server_base"`
	MapBase    int `yaml:"map_base"`
}

type LaunchConfig struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	Env          []string      `yaml:"env"`
	ReadyMarker  string        `yaml:"ready_marker"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

type HeartbeatConfig struct {
	// Interval of zero disables heartbeats.
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Command  string        `yaml:"command"`
	Reply    string        `yaml:"reply"`
}

type TeardownConfig struct {
	Grace          time.Duration `yaml:"grace"`
	RemoveAttempts int           `yaml:"remove_attempts"`
	RemoveBackoff  time.Duration `yaml:"remove_backoff"`
}

type LogsConfig struct {
	Capacity int `yaml:"capacity"`
}

type WorkspaceConfig struct {
	PropertiesFile string `yaml:"properties_file"`
	MapConfigFile  string `yaml:"map_config_file"`
	MapPortKey     string `yaml:"map_port_key"`
	ConsoleLogFile string `yaml:"console_log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	launch := process.DefaultConfig()
	return Config{
		WorldsDir:   "worlds",
		TemplateDir: "server_template",
		Database:    "fleetvisor.db",
		Ports: PortsConfig{
			ServerBase: ports.DefaultServerBase,
			MapBase:    ports.DefaultMapBase,
		},
		Launch: LaunchConfig{
			Command:      launch.Command,
			Args:         launch.Args,
			ReadyMarker:  process.DefaultReadyMarker,
			ReadyTimeout: process.DefaultReadyTimeout,
			StopTimeout:  30 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: process.DefaultHeartbeatInterval,
			Timeout:  process.DefaultHeartbeatTimeout,
			Command:  process.DefaultHeartbeatCommand,
			Reply:    process.DefaultHeartbeatReply,
		},
		Teardown: TeardownConfig{
			Grace:          time.Second,
			RemoveAttempts: 3,
			RemoveBackoff:  time.Second,
		},
		Logs: LogsConfig{
			Capacity: console.DefaultCapacity,
		},
		Workspace: WorkspaceConfig{
			PropertiesFile: workspace.DefaultPropertiesFile,
			MapConfigFile:  workspace.DefaultMapConfigFile,
			MapPortKey:     workspace.DefaultMapPortKey,
			ConsoleLogFile: workspace.DefaultConsoleLogFile,
		},
	}
}

// Load reads path over the defaults and validates the result. A missing
// file is only accepted for DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return cfg, Validate(cfg)
		}
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks a configuration for values the supervisor cannot run
// with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.WorldsDir) == "" {
		return fmt.Errorf("worlds_dir is required")
	}
	if strings.TrimSpace(cfg.TemplateDir) == "" {
		return fmt.Errorf("template_dir is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return fmt.Errorf("database is required")
	}
	if err := ValidatePorts(cfg.Ports); err != nil {
		return fmt.Errorf("ports invalid: %w", err)
	}
	if err := ValidateLaunch(cfg.Launch); err != nil {
		return fmt.Errorf("launch invalid: %w", err)
	}
	if err := ValidateHeartbeat(cfg.Heartbeat); err != nil {
		return fmt.Errorf("heartbeat invalid: %w", err)
	}
	if cfg.Teardown.RemoveAttempts < 1 {
		return fmt.Errorf("teardown.remove_attempts must be at least 1")
	}
	if cfg.Teardown.Grace < 0 || cfg.Teardown.RemoveBackoff < 0 {
		return fmt.Errorf("teardown durations must not be negative")
	}
	if cfg.Logs.Capacity < 1 {
		return fmt.Errorf("logs.capacity must be at least 1")
	}
	if strings.TrimSpace(cfg.Workspace.MapPortKey) == "" {
		return fmt.Errorf("workspace.map_port_key is required")
	}
	return nil
}

func ValidatePorts(cfg PortsConfig) error {
	for name, port := range map[string]int{"server_base": cfg.ServerBase, "map_base": cfg.MapBase} {
		if port < 1 || port > ports.MaxPort {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	if cfg.ServerBase == cfg.MapBase {
		return fmt.Errorf("server_base and map_base must differ")
	}
	return nil
}

func ValidateLaunch(cfg LaunchConfig) error {
	if strings.TrimSpace(cfg.Command) == "" {
		return fmt.Errorf("command is required")
	}
	if cfg.ReadyMarker == "" {
		return fmt.Errorf("ready_marker is required")
	}
	if cfg.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive")
	}
	if cfg.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	return nil
}

func ValidateHeartbeat(cfg HeartbeatConfig) error {
	if cfg.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if cfg.Interval == 0 {
		return nil
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive when heartbeats are enabled")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return fmt.Errorf("command is required when heartbeats are enabled")
	}
	if cfg.Reply == "" {
		return fmt.Errorf("reply is required when heartbeats are enabled")
	}
	return nil
}
