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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetvisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 25565, cfg.Ports.ServerBase)
	assert.Equal(t, 8123, cfg.Ports.MapBase)
	assert.Equal(t, "java", cfg.Launch.Command)
	assert.Equal(t, 2*time.Minute, cfg.Launch.ReadyTimeout)
	assert.Equal(t, 30*time.Second, cfg.Launch.StopTimeout)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 1000, cfg.Logs.Capacity)
	assert.Equal(t, "webserver-port", cfg.Workspace.MapPortKey)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
worlds_dir: /srv/worlds
template_dir: /srv/template
database: /srv/fleet.db
listen: 127.0.0.1:8080
ports:
  server_base: 30000
launch:
  command: /usr/bin/java
  args: ["-jar", "server.jar"]
  ready_timeout: 45s
heartbeat:
  interval: 0s
teardown:
  grace: 250ms
  remove_attempts: 5
logs:
  capacity: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/worlds", cfg.WorldsDir)
	assert.Equal(t, "/srv/template", cfg.TemplateDir)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, 30000, cfg.Ports.ServerBase)
	assert.Equal(t, 8123, cfg.Ports.MapBase, "unset keys keep defaults")
	assert.Equal(t, []string{"-jar", "server.jar"}, cfg.Launch.Args)
	assert.Equal(t, 45*time.Second, cfg.Launch.ReadyTimeout)
	assert.Equal(t, `For help, type "help"`, cfg.Launch.ReadyMarker)
	assert.Zero(t, cfg.Heartbeat.Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.Teardown.Grace)
	assert.Equal(t, 5, cfg.Teardown.RemoveAttempts)
	assert.Equal(t, 50, cfg.Logs.Capacity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "ports: [not, a, map]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config parse failed")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "ports:\n  server_base: 8123\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no worlds dir", func(c *Config) { c.WorldsDir = " " }, "worlds_dir"},
		{"no template", func(c *Config) { c.TemplateDir = "" }, "template_dir"},
		{"no database", func(c *Config) { c.Database = "" }, "database"},
		{"port too high", func(c *Config) { c.Ports.MapBase = 70000 }, "map_base 70000 out of range"},
		{"port zero", func(c *Config) { c.Ports.ServerBase = 0 }, "server_base 0 out of range"},
		{"no command", func(c *Config) { c.Launch.Command = "" }, "command is required"},
		{"no marker", func(c *Config) { c.Launch.ReadyMarker = "" }, "ready_marker"},
		{"zero ready timeout", func(c *Config) { c.Launch.ReadyTimeout = 0 }, "ready_timeout"},
		{"negative stop timeout", func(c *Config) { c.Launch.StopTimeout = -time.Second }, "stop_timeout"},
		{"heartbeat without timeout", func(c *Config) { c.Heartbeat.Timeout = 0 }, "timeout must be positive"},
		{"heartbeat without reply", func(c *Config) { c.Heartbeat.Reply = "" }, "reply is required"},
		{"no remove attempts", func(c *Config) { c.Teardown.RemoveAttempts = 0 }, "remove_attempts"},
		{"no capacity", func(c *Config) { c.Logs.Capacity = 0 }, "logs.capacity"},
		{"no map key", func(c *Config) { c.Workspace.MapPortKey = "" }, "map_port_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_DisabledHeartbeatSkipsChecks(t *testing.T) {
	cfg := Default()
	cfg.Heartbeat = HeartbeatConfig{}
	assert.NoError(t, Validate(cfg))
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.WorldsDir = "/w"
	cfg.TemplateDir = "/t"
	cfg.Launch.Args = []string{"-jar", "x.jar"}
	cfg.Launch.StopTimeout = 10 * time.Second
	cfg.Teardown.RemoveAttempts = 7

	pc := cfg.ProcessConfig()
	assert.Equal(t, "java", pc.Command)
	assert.Equal(t, []string{"-jar", "x.jar"}, pc.Args)
	assert.True(t, pc.Detector.Ready(`Done (1.0s)! For help, type "help"`))
	assert.Equal(t, cfg.Heartbeat.Interval, pc.HeartbeatInterval)

	pc.Args[0] = "mutated"
	assert.Equal(t, "-jar", cfg.Launch.Args[0], "process config owns its args")

	wc := cfg.WorkspaceConfig()
	assert.Equal(t, "/w", wc.WorldsDir)
	assert.Equal(t, "/t", wc.TemplateDir)
	assert.Equal(t, "console.log", wc.ConsoleLogFile)

	ac := cfg.AllocatorConfig()
	assert.Equal(t, 25565, ac.ServerBase)
	assert.Equal(t, 8123, ac.MapBase)

	fc := cfg.FleetConfig()
	assert.Equal(t, 10*time.Second, fc.StopTimeout)
	assert.Equal(t, 7, fc.RemoveAttempts)
	assert.Equal(t, 30*time.Second, fc.ResponsiveWindow)

	sc := cfg.StoreConfig(nil)
	assert.Equal(t, cfg.Database, sc.Path)
}
