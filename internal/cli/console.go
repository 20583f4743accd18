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
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/console"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/fleet"
)

const consoleHelp = `Console commands:
  <id> <command>        send a command to a world's server console
  :start <id>           start a world
  :stop <id>            stop a world (killed after the stop timeout)
  :kill <id>            kill a world immediately
  :create <name> [seed] create a world
  :delete <id>          stop and delete a world
  :status [id]          show world status
  :help                 show this help
  :quit                 stop every world and exit`

// syncWriter serializes writes from the log printer and the console.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printLogs writes every console event until the subscription closes.
func printLogs(out io.Writer, sub *console.Subscription) {
	for event := range sub.Events() {
		if event.Entry.Kind == console.KindError {
			fmt.Fprintf(out, "[%d] error: %s\n", event.WorldID, event.Entry.Message)
			continue
		}
		fmt.Fprintf(out, "[%d] %s\n", event.WorldID, event.Entry.Message)
	}
}

// operator executes console lines against a supervisor.
type operator struct {
	sup *fleet.Supervisor
	out io.Writer
}

// dispatch runs one console line. It reports true when the operator asked
// to quit.
func (o *operator) dispatch(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, ":") {
		idText, command, _ := strings.Cut(line, " ")
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil || strings.TrimSpace(command) == "" {
			fmt.Fprintln(o.out, "usage: <id> <command> (type :help for more)")
			return false
		}
		o.report(o.sup.SendCommand(ctx, id, strings.TrimSpace(command)))
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case ":help":
		fmt.Fprintln(o.out, consoleHelp)
	case ":quit", ":exit":
		return true
	case ":status":
		o.status(ctx, fields[1:])
	case ":create":
		o.create(ctx, fields[1:])
	case ":start", ":stop", ":kill", ":delete":
		if len(fields) != 2 {
			fmt.Fprintf(o.out, "usage: %s <id>\n", fields[0])
			return false
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Fprintf(o.out, "invalid world id %q\n", fields[1])
			return false
		}
		o.lifecycle(ctx, fields[0], id)
	default:
		fmt.Fprintf(o.out, "unknown command %s (type :help)\n", fields[0])
	}
	return false
}

func (o *operator) lifecycle(ctx context.Context, verb string, id int64) {
	switch verb {
	case ":start":
		o.report(o.sup.Start(ctx, id))
	case ":stop":
		o.report(o.sup.Stop(ctx, id))
	case ":kill":
		o.report(o.sup.ForceStop(ctx, id))
	case ":delete":
		if err := o.sup.Delete(ctx, id); err != nil {
			o.report(err)
			return
		}
		fmt.Fprintf(o.out, "World %d deleted\n", id)
	}
}

func (o *operator) create(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(o.out, "usage: :create <name> [seed]")
		return
	}
	seed := strconv.FormatInt(rand.Int63(), 10)
	if len(args) == 2 {
		seed = args[1]
	}

	w, err := o.sup.CreateWorld(ctx, args[0], seed)
	if err != nil {
		o.report(err)
		return
	}
	fmt.Fprintf(o.out, "World %d created (ports %d/%d)\n", w.ID, w.ServerPort, w.MapPort)
}

func (o *operator) status(ctx context.Context, args []string) {
	var worlds []fleet.WorldStatus
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(o.out, "invalid world id %q\n", args[0])
			return
		}
		st, err := o.sup.Status(ctx, id)
		if err != nil {
			o.report(err)
			return
		}
		worlds = append(worlds, st)
	} else {
		all, err := o.sup.StatusAll(ctx)
		if err != nil {
			o.report(err)
			return
		}
		worlds = all
	}

	fmt.Fprintf(o.out, "%-5s %-16s %-9s %-8s %-9s %s\n", "ID", "NAME", "STATUS", "PID", "UPTIME", "RESPONSIVE")
	for _, w := range worlds {
		pid := "-"
		if w.Running {
			pid = strconv.Itoa(w.PID)
		}
		fmt.Fprintf(o.out, "%-5d %-16s %-9s %-8s %-9s %t\n",
			w.ID,
			truncate(w.Name, 16),
			w.Status,
			pid,
			(time.Duration(w.Uptime) * time.Second).String(),
			w.IsResponsive)
	}
}

func (o *operator) report(err error) {
	if err != nil {
		fmt.Fprintf(o.out, "error: %v\n", err)
	}
}
