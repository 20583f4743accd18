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

	"github.com/spf13/cobra"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/lock"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reset world records left active by a crashed supervisor",
	Long: `Reconcile rewrites world records that claim a live process.

After a crash the store can still show worlds as STARTING, RUNNING or
STOPPING although no process exists. Reconcile resets those to STOPPED
and marks worlds stuck in CREATING as ERROR. Every supervisor does this
on startup; this command does it without starting one.

The reconcile operation is safe and idempotent. It refuses to run while
another supervisor holds the fleet lock.`,
	Example: `  # Reconcile the default database
  fleetvisor reconcile

  # Reconcile using a specific configuration
  fleetvisor reconcile --config /etc/fleetvisor.yaml`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	l, err := lock.Acquire(lock.PathFor(e.cfg.Database), cmd.Name())
	if err != nil {
		return err
	}
	defer l.Release()

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "Reconciling world records...")

	count, err := st.Reconcile(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Reset %d world(s)\n", count)
	fmt.Fprintf(cmd.OutOrStdout(), "Store: %s\n", st.Path())
	return nil
}
