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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/lock"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/ports"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
)

var (
	listFormat string
	listProbe  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all worlds",
	Long: `List every recorded world.

This command displays the world ID, name, persisted status, port pair,
creation time and workspace. With --probe (the default) each port is
checked for a listener, which shows whether the server and its map are
actually reachable. Listing never takes the fleet lock, so it is safe to
run next to "fleetvisor run".`,
	Example: `  # List all worlds in table format
  fleetvisor list

  # List in JSON format
  fleetvisor list --format json

  # Skip the port probe
  fleetvisor list --probe=false`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listFormat, "format", "table", "Output format (table, json)")
	listCmd.Flags().BoolVar(&listProbe, "probe", true, "Probe each port for a listener")
}

// listedWorld is a world record plus the live port probe.
type listedWorld struct {
	store.World
	ServerListening *bool `json:"server_listening,omitempty"`
	MapListening    *bool `json:"map_listening,omitempty"`
}

type listOutput struct {
	Supervisor *lock.Owner   `json:"supervisor,omitempty"`
	Worlds     []listedWorld `json:"worlds"`
}

func runList(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("unknown format: %s", listFormat)
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	worlds, err := st.ListWorlds(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list worlds: %w", err)
	}

	output := listOutput{Worlds: make([]listedWorld, 0, len(worlds))}
	if owner, held, err := lock.Holder(lock.PathFor(e.cfg.Database)); err == nil && held {
		output.Supervisor = &owner
	}

	allocator := ports.NewAllocator(e.cfg.AllocatorConfig())
	for _, w := range worlds {
		lw := listedWorld{World: w}
		if listProbe {
			server := allocator.IsPortInUse(w.ServerPort)
			mapPort := allocator.IsPortInUse(w.MapPort)
			lw.ServerListening = &server
			lw.MapListening = &mapPort
		}
		output.Worlds = append(output.Worlds, lw)
	}

	if listFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), output)
	}
	outputListTable(cmd.OutOrStdout(), output)
	return nil
}

func outputListTable(out io.Writer, output listOutput) {
	if output.Supervisor != nil {
		fmt.Fprintf(out, "Supervisor: pid %d (%s, since %s)\n\n",
			output.Supervisor.PID,
			output.Supervisor.Command,
			formatTimeAgo(output.Supervisor.AcquiredAt))
	} else {
		fmt.Fprint(out, "Supervisor: not running\n\n")
	}

	if len(output.Worlds) == 0 {
		fmt.Fprintln(out, "No worlds found")
		return
	}

	fmt.Fprintf(out, "%-5s %-16s %-9s %-13s %-11s %-12s %s\n",
		"ID", "NAME", "STATUS", "PORTS", "LISTENING", "CREATED", "WORKSPACE")
	fmt.Fprintln(out, strings.Repeat("-", 100))

	for _, w := range output.Worlds {
		workspace := w.Path
		if len(workspace) > 40 {
			workspace = "..." + workspace[len(workspace)-37:]
		}

		fmt.Fprintf(out, "%-5d %-16s %-9s %-13s %-11s %-12s %s\n",
			w.ID,
			truncate(w.Name, 16),
			w.Status,
			fmt.Sprintf("%d/%d", w.ServerPort, w.MapPort),
			formatListening(w),
			formatTimeAgo(w.CreatedAt),
			workspace)
	}

	fmt.Fprintf(out, "\nTotal: %d world(s)\n", len(output.Worlds))
}

func formatListening(w listedWorld) string {
	if w.ServerListening == nil || w.MapListening == nil {
		return "-"
	}
	mark := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	return mark(*w.ServerListening) + "/" + mark(*w.MapListening)
}

func formatTimeAgo(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
