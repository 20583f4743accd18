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
	"sync"
	"time"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
)

// fakeProcess is a scripted world server. Tests drive its console and exit
// explicitly; Terminate and Kill end it asynchronously like a real one.
type fakeProcess struct {
	hooks process.Hooks
	spec  process.Spec

	mu         sync.Mutex
	state      process.State
	sent       []string
	ignoreTerm bool
	terminated int
	killed     int

	once sync.Once
	done chan struct{}
}

func newFakeProcess(spec process.Spec, hooks process.Hooks, pid int) *fakeProcess {
	now := time.Now()
	return &fakeProcess{
		hooks: hooks,
		spec:  spec,
		state: process.State{PID: pid, StartTime: now, LastHeartbeatAt: now},
		done:  make(chan struct{}),
	}
}

func (p *fakeProcess) Send(command string) error {
	select {
	case <-p.done:
		return process.ErrExited
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, command)
	return nil
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	ignore := p.ignoreTerm
	p.mu.Unlock()

	if !ignore {
		go p.exit(process.ExitInfo{Code: -1, Signal: "SIGTERM"})
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()

	go p.exit(process.ExitInfo{Code: -1, Signal: "SIGKILL"})
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} {
	return p.done
}

func (p *fakeProcess) State() process.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// print emits a console line.
func (p *fakeProcess) print(stream process.Stream, line string) {
	p.mu.Lock()
	p.state.LastOutputAt = time.Now()
	p.mu.Unlock()

	if p.hooks.OnLine != nil {
		p.hooks.OnLine(stream, line)
	}
}

// ready prints the readiness marker.
func (p *fakeProcess) ready() {
	p.mu.Lock()
	p.state.Initialized = true
	p.mu.Unlock()

	p.print(process.Stdout, `Done (2.5s)! For help, type "help"`)
	if p.hooks.OnReady != nil {
		p.hooks.OnReady()
	}
}

// exit ends the process once; later calls are ignored.
func (p *fakeProcess) exit(info process.ExitInfo) {
	p.once.Do(func() {
		close(p.done)
		if p.hooks.OnExit != nil {
			p.hooks.OnExit(info)
		}
	})
}

func (p *fakeProcess) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

func (p *fakeProcess) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// fakeLauncher records every launch.
type fakeLauncher struct {
	mu         sync.Mutex
	procs      []*fakeProcess
	fail       error
	ignoreTerm bool
}

func (l *fakeLauncher) Launch(ctx context.Context, spec process.Spec, hooks process.Hooks) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail != nil {
		return nil, l.fail
	}
	p := newFakeProcess(spec, hooks, 1000+len(l.procs))
	p.ignoreTerm = l.ignoreTerm
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) setFail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}
