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
)

var deleteID int64

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a world",
	Long: `Delete removes a world's workspace and its record.

A world that is still running under this command's supervisor is stopped
first and killed if it does not exit within the grace period. Workspace
removal is retried; if every attempt fails the record is still deleted
and the error is reported so the directory can be removed by hand.

Deleting requires the fleet lock. While "fleetvisor run" holds it, use
":delete <id>" on its console instead.`,
	Example: `  # Delete world 3
  fleetvisor delete --id 3`,
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().Int64Var(&deleteID, "id", 0, "World ID to delete (required)")
	_ = deleteCmd.MarkFlagRequired("id")
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sup.Delete(cmd.Context(), deleteID); err != nil {
		return fmt.Errorf("failed to delete world %d: %w", deleteID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "World %d deleted successfully\n", deleteID)
	return nil
}
