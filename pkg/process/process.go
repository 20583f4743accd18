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

// Package process spawns one world server and watches its console.
//
// A Handle owns the operating system process, splits its output into
// lines, detects readiness from a console marker and probes liveness with
// periodic heartbeat commands written to standard input. Everything the
// handle observes is reported through Hooks; the handle itself never
// decides a world's lifecycle state.
package process

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultReadyMarker is printed by the server once its world is loaded.
	DefaultReadyMarker = `For help, type "help"`
	// DefaultReadyTimeout bounds how long a server may take to become ready.
	DefaultReadyTimeout = 2 * time.Minute
	// DefaultHeartbeatInterval is the time between heartbeat probes.
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultHeartbeatTimeout is how long a probe may go unanswered.
	DefaultHeartbeatTimeout = 5 * time.Second
	// DefaultHeartbeatCommand is a harmless status query.
	DefaultHeartbeatCommand = "list"
	// DefaultHeartbeatReply identifies the answer to DefaultHeartbeatCommand.
	DefaultHeartbeatReply = "players online"
)

var (
	// ErrSpawn is returned when the process could not be started at all.
	ErrSpawn = errors.New("failed to spawn process")
	// ErrExited is returned when writing to a process that has exited.
	ErrExited = errors.New("process has exited")
)

// Stream identifies the output pipe a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// ReadinessDetector decides whether a console line means the server has
// finished loading.
type ReadinessDetector interface {
	Ready(line string) bool
}

// MarkerDetector reports readiness when a line contains Marker.
type MarkerDetector struct {
	Marker string
}

// Ready implements ReadinessDetector.
func (d MarkerDetector) Ready(line string) bool {
	return d.Marker != "" && strings.Contains(line, d.Marker)
}

// Config holds configuration for launching world servers.
type Config struct {
	Command string
	Args    []string
	// Env is appended to the supervisor's environment.
	Env []string

	Detector     ReadinessDetector
	ReadyTimeout time.Duration

	// HeartbeatInterval of zero disables heartbeats.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HeartbeatCommand  string
	HeartbeatReply    string
}

// DefaultConfig returns the configuration for a Paper server launcher.
func DefaultConfig() *Config {
	return &Config{
		Command:           "java",
		Args:              []string{"-Xmx2G", "-jar", "paper-server-launcher.jar", "nogui"},
		Detector:          MarkerDetector{Marker: DefaultReadyMarker},
		ReadyTimeout:      DefaultReadyTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		HeartbeatCommand:  DefaultHeartbeatCommand,
		HeartbeatReply:    DefaultHeartbeatReply,
	}
}

// Spec describes one launch.
type Spec struct {
	// Dir is the working directory, normally the world's workspace.
	Dir string
	// ConsoleLog, when set, receives every console line.
	ConsoleLog string
}

// Hooks receive what a Handle observes. Any hook may be nil. Hooks are
// called from the handle's goroutines and must not block for long.
type Hooks struct {
	// OnLine is called for every non-blank output line.
	OnLine func(stream Stream, line string)
	// OnReady is called once, after the line carrying the marker.
	OnReady func()
	// OnReadyTimeout is called when the server did not become ready in
	// time. The process is killed right after.
	OnReadyTimeout func()
	// OnHeartbeatTimeout is called when a probe went unanswered.
	OnHeartbeatTimeout func()
	// OnExit is called once, after Done is closed.
	OnExit func(info ExitInfo)
}

// ExitInfo describes how a process ended.
type ExitInfo struct {
	Code   int
	Signal string
	// Err is set when waiting for the process failed.
	Err error
}

// Clean reports whether the process exited on its own with status zero.
func (e ExitInfo) Clean() bool {
	return e.Err == nil && e.Signal == "" && e.Code == 0
}

func (e ExitInfo) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("wait failed: %v", e.Err)
	case e.Signal != "":
		return fmt.Sprintf("killed by signal %s", e.Signal)
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}

// State is a snapshot of what a handle knows about its process.
type State struct {
	PID              int       `json:"pid"`
	StartTime        time.Time `json:"start_time"`
	Initialized      bool      `json:"is_initialized"`
	PendingHeartbeat bool      `json:"pending_heartbeat"`
	LastHeartbeatAt  time.Time `json:"last_heartbeat"`
	LastOutputAt     time.Time `json:"last_output"`
}
