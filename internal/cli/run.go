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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-fleetvisor/internal/logstream"
)

var (
	runAll             bool
	runListen          string
	runShutdownTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [world-id...]",
	Short: "Supervise worlds in the foreground",
	Long: `Run starts a supervisor, launches the given worlds and streams their
console output until interrupted.

While running:
  - Every console line is printed as "[<id>] <line>"
  - Lines typed on stdin as "<id> <command>" are sent to that world
  - ":start", ":stop", ":kill", ":create", ":delete" and ":status" manage
    worlds without restarting the supervisor (":help" lists them)
  - With --listen, a websocket log feed is served at ws://<addr>/ws

On SIGINT, SIGTERM or ":quit" every world is asked to stop. Worlds that
have not exited when the shutdown timeout expires are killed.`,
	Example: `  # Supervise worlds 1 and 2
  fleetvisor run 1 2

  # Supervise every world and serve the log feed
  fleetvisor run --all --listen 127.0.0.1:8080`,
	Args: cobra.ArbitraryArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runAll, "all", "a", false, "Start every recorded world")
	runCmd.Flags().StringVarP(&runListen, "listen", "l", "", "Websocket log feed address (overrides the config file)")
	runCmd.Flags().DurationVar(&runShutdownTimeout, "shutdown-timeout", 0, "How long to wait for worlds to stop on exit (default stop timeout + 5s)")
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid world id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := &syncWriter{w: cmd.OutOrStdout()}

	sub := a.logs.Subscribe(0)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printLogs(out, sub)
	}()
	defer func() {
		sub.Unsubscribe()
		<-printed
	}()

	listen := runListen
	if listen == "" {
		listen = a.cfg.Listen
	}
	if listen != "" {
		shutdownFeed, err := serveLogFeed(listen, a, out)
		if err != nil {
			return err
		}
		defer shutdownFeed()
	}

	if runAll {
		worlds, err := a.sup.StatusAll(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, w := range worlds {
			ids = append(ids, w.ID)
		}
	}
	for _, id := range ids {
		if err := a.sup.Start(ctx, id); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	op := &operator{sup: a.sup, out: out}
	lines := readLines(ctx, cmd.InOrStdin())
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep supervising until signalled.
				lines = nil
				continue
			}
			if op.dispatch(ctx, line) {
				running = false
			}
		}
	}

	timeout := runShutdownTimeout
	if timeout <= 0 {
		timeout = a.cfg.Launch.StopTimeout + 5*time.Second
	}
	fmt.Fprintln(out, "Stopping all worlds...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.sup.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
		return err
	}
	fmt.Fprintln(out, "All worlds stopped")
	return nil
}

// readLines feeds stdin lines to the caller until EOF or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func serveLogFeed(addr string, a *app, out io.Writer) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           logstream.NewMux(a.logs, 0, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("log feed stopped", zap.Error(err))
		}
	}()

	fmt.Fprintf(out, "Log feed listening on ws://%s/ws\n", ln.Addr())
	a.logger.Info("log feed listening", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
