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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// maxLineSize bounds a single console line.
const maxLineSize = 1024 * 1024

// Handle owns one running server process. Output is not restartable: once
// the process exits the handle is finished and a new launch is needed.
type Handle struct {
	cmd    *exec.Cmd
	config *Config
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	logMu      sync.Mutex
	consoleLog *os.File

	mu         sync.Mutex
	state      State
	exited     bool
	exit       ExitInfo
	readyTimer *time.Timer
	probeTimer *time.Timer
	probeSeq   uint64
	done       chan struct{}
}

// PID returns the process id.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.PID
}

// State returns a snapshot of the handle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitInfo returns how the process ended. It is only meaningful after Done
// is closed.
func (h *Handle) ExitInfo() ExitInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

// Send writes one console command to the process.
func (h *Handle) Send(command string) error {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return ErrExited
	}

	command = strings.TrimRight(command, "\r\n")

	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if _, err := io.WriteString(h.stdin, command+"\n"); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			return ErrExited
		}
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// Terminate asks the process group to shut down.
func (h *Handle) Terminate() error {
	return h.signal(unix.SIGTERM)
}

// Kill ends the process group immediately.
func (h *Handle) Kill() error {
	return h.signal(unix.SIGKILL)
}

func (h *Handle) signal(sig syscall.Signal) error {
	h.mu.Lock()
	exited := h.exited
	pid := h.state.PID
	h.mu.Unlock()

	if exited {
		return nil
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to signal process group %d: %w", pid, err)
	}
	return nil
}

func (h *Handle) scan(r io.Reader, stream Stream) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.handleLine(stream, line)
	}

	if err := scanner.Err(); err != nil {
		h.logger.Warn("console read failed", zap.String("stream", string(stream)), zap.Error(err))
		// Keep the pipe drained so the process never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (h *Handle) handleLine(stream Stream, line string) {
	now := h.now()

	h.mu.Lock()
	h.state.LastOutputAt = now
	ready := false
	if stream == Stdout && !h.state.Initialized && h.config.Detector.Ready(line) {
		h.state.Initialized = true
		if h.readyTimer != nil {
			h.readyTimer.Stop()
		}
		ready = true
	}
	if stream == Stdout && h.state.PendingHeartbeat && h.config.HeartbeatReply != "" &&
		strings.Contains(line, h.config.HeartbeatReply) {
		h.state.PendingHeartbeat = false
		h.state.LastHeartbeatAt = now
		if h.probeTimer != nil {
			h.probeTimer.Stop()
			h.probeTimer = nil
		}
	}
	h.mu.Unlock()

	h.writeConsoleLog(line)

	if h.hooks.OnLine != nil {
		h.hooks.OnLine(stream, line)
	}
	if ready {
		h.logger.Info("server ready", zap.Int("pid", h.PID()))
		if h.hooks.OnReady != nil {
			h.hooks.OnReady()
		}
	}
}

func (h *Handle) readyTimedOut() {
	h.mu.Lock()
	if h.state.Initialized || h.exited {
		h.mu.Unlock()
		return
	}
	pid := h.state.PID
	h.mu.Unlock()

	h.logger.Warn("server did not become ready in time",
		zap.Int("pid", pid),
		zap.Duration("timeout", h.config.ReadyTimeout))

	if h.hooks.OnReadyTimeout != nil {
		h.hooks.OnReadyTimeout()
	}
	if err := h.Kill(); err != nil {
		h.logger.Error("failed to kill unready server", zap.Int("pid", pid), zap.Error(err))
	}
}

func (h *Handle) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.probe()
		}
	}
}

// probe sends one heartbeat unless the server is not ready yet or a probe
// is already outstanding. It reports whether a probe was sent.
func (h *Handle) probe() bool {
	h.mu.Lock()
	if h.exited || !h.state.Initialized || h.state.PendingHeartbeat {
		h.mu.Unlock()
		return false
	}
	h.state.PendingHeartbeat = true
	h.probeSeq++
	seq := h.probeSeq
	if h.config.HeartbeatTimeout > 0 {
		h.probeTimer = time.AfterFunc(h.config.HeartbeatTimeout, func() {
			h.probeTimedOut(seq)
		})
	}
	h.mu.Unlock()

	if err := h.Send(h.config.HeartbeatCommand); err != nil {
		h.logger.Debug("heartbeat not sent", zap.Error(err))
	}
	return true
}

func (h *Handle) probeTimedOut(seq uint64) {
	h.mu.Lock()
	if h.exited || !h.state.PendingHeartbeat || seq != h.probeSeq {
		h.mu.Unlock()
		return
	}
	h.state.PendingHeartbeat = false
	h.probeTimer = nil
	pid := h.state.PID
	h.mu.Unlock()

	h.logger.Warn("heartbeat timed out", zap.Int("pid", pid))
	if h.hooks.OnHeartbeatTimeout != nil {
		h.hooks.OnHeartbeatTimeout()
	}
}

func (h *Handle) wait(readers *sync.WaitGroup) {
	readers.Wait()
	info := exitInfoFrom(h.cmd.Wait())

	h.mu.Lock()
	h.exited = true
	h.exit = info
	h.state.PendingHeartbeat = false
	if h.readyTimer != nil {
		h.readyTimer.Stop()
	}
	if h.probeTimer != nil {
		h.probeTimer.Stop()
		h.probeTimer = nil
	}
	pid := h.state.PID
	h.mu.Unlock()

	h.closeConsoleLog()
	h.logger.Info("process exited", zap.Int("pid", pid), zap.Stringer("exit", info))

	close(h.done)
	if h.hooks.OnExit != nil {
		h.hooks.OnExit(info)
	}
}

func exitInfoFrom(err error) ExitInfo {
	if err == nil {
		return ExitInfo{}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return ExitInfo{Code: -1, Signal: unix.SignalName(status.Signal())}
		}
		return ExitInfo{Code: exitErr.ExitCode()}
	}
	return ExitInfo{Code: -1, Err: err}
}

func (h *Handle) writeConsoleLog(line string) {
	h.logMu.Lock()
	defer h.logMu.Unlock()

	if h.consoleLog == nil {
		return
	}
	if _, err := h.consoleLog.WriteString(line + "\n"); err != nil {
		h.logger.Warn("console log write failed", zap.Error(err))
		_ = h.consoleLog.Close()
		h.consoleLog = nil
	}
}

func (h *Handle) closeConsoleLog() {
	h.logMu.Lock()
	defer h.logMu.Unlock()

	if h.consoleLog != nil {
		_ = h.consoleLog.Close()
		h.consoleLog = nil
	}
}
