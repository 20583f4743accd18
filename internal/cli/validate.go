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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/ports"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/workspace"
)

var validateID int64

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a world's workspace",
	Long: `Validate checks that a world can be started.

This command verifies:
  1. The world record exists
  2. The workspace directory exists
  3. server.properties sets the recorded server port
  4. The map plugin configuration sets the recorded map port

It also reports whether either port is currently bound. A bound port on a
stopped world usually means another program is using it.`,
	Example: `  # Validate world 1
  fleetvisor validate --id 1`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().Int64Var(&validateID, "id", 0, "World ID to validate (required)")
	_ = validateCmd.MarkFlagRequired("id")
}

func runValidate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	w, err := st.GetWorld(cmd.Context(), validateID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("world %d does not exist", validateID)
	}
	if err != nil {
		return fmt.Errorf("failed to read world %d: %w", validateID, err)
	}

	out := cmd.OutOrStdout()
	spec := workspace.Spec{Name: w.Name, Seed: w.Seed, ServerPort: w.ServerPort, MapPort: w.MapPort}
	if err := e.provisioner().Validate(w.Path, spec); err != nil {
		fmt.Fprintf(out, "Validation failed: %v\n", err)
		return err
	}

	busy := ports.NewAllocator(e.cfg.AllocatorConfig()).InUse(ports.Pair{Server: w.ServerPort, Map: w.MapPort})

	fmt.Fprintln(out, "World validation successful!")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:          %d\n", w.ID)
	fmt.Fprintf(out, "  Name:        %s\n", w.Name)
	fmt.Fprintf(out, "  Status:      %s\n", w.Status)
	fmt.Fprintf(out, "  Workspace:   %s ✓\n", w.Path)
	fmt.Fprintf(out, "  Server Port: %d ✓\n", w.ServerPort)
	fmt.Fprintf(out, "  Map Port:    %d ✓\n", w.MapPort)
	if len(busy) > 0 {
		fmt.Fprintf(out, "\n  Ports in use: %v\n", busy)
	}
	return nil
}
