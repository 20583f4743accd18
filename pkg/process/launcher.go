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

package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Launcher starts world servers with a shared configuration.
type Launcher struct {
	config *Config
	logger *zap.Logger
}

// NewLauncher creates a launcher. A nil config uses DefaultConfig.
func NewLauncher(config *Config, logger *zap.Logger) *Launcher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Detector == nil {
		config.Detector = MarkerDetector{Marker: DefaultReadyMarker}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		config: config,
		logger: logger,
	}
}

// Launch starts a server in spec.Dir. The returned handle is already
// reading output and counting down its readiness timeout. Errors wrap
// ErrSpawn; no handle is returned in that case.
func (l *Launcher) Launch(ctx context.Context, spec Spec, hooks Hooks) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	// #nosec G204 - command comes from operator configuration
	cmd := exec.Command(l.config.Command, l.config.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), l.config.Env...)
	// Own process group so signals reach the server and anything it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrSpawn, err)
	}

	h := &Handle{
		cmd:    cmd,
		config: l.config,
		hooks:  hooks,
		logger: l.logger,
		stdin:  stdin,
		done:   make(chan struct{}),
		now:    time.Now,
	}

	if spec.ConsoleLog != "" {
		// #nosec G302 G304 - console log lives in the workspace
		f, err := os.OpenFile(spec.ConsoleLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.logger.Warn("console log unavailable", zap.String("path", spec.ConsoleLog), zap.Error(err))
		} else {
			h.consoleLog = f
		}
	}

	if err := cmd.Start(); err != nil {
		h.closeConsoleLog()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	h.mu.Lock()
	h.state.PID = cmd.Process.Pid
	h.state.StartTime = h.now()
	// Spawning counts as the first sign of life until a probe answers.
	h.state.LastHeartbeatAt = h.state.StartTime
	if l.config.ReadyTimeout > 0 {
		h.readyTimer = time.AfterFunc(l.config.ReadyTimeout, h.readyTimedOut)
	}
	h.mu.Unlock()

	l.logger.Info("process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("dir", spec.Dir),
		zap.String("command", l.config.Command))

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		h.scan(stdout, Stdout)
	}()
	go func() {
		defer readers.Done()
		h.scan(stderr, Stderr)
	}()
	go h.wait(&readers)

	if l.config.HeartbeatInterval > 0 && l.config.HeartbeatCommand != "" {
		go h.heartbeatLoop(l.config.HeartbeatInterval)
	}

	return h, nil
}
