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

// Package cli provides the command-line interface for fleetvisor.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is set during build time
	Version = "dev"

	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "fleetvisor",
		Short: "Supervisor for a fleet of game-server worlds",
		Long: `fleetvisor provisions, launches and supervises game-server worlds on a single host.

Features:
  - Per-world workspaces cloned from a server template with unique ports
  - Readiness detection, heartbeats and stop escalation for every process
  - Console logs buffered per world, written to disk and streamed over a websocket
  - World records kept in SQLite and reconciled after a crash

Example:
  # Create a world
  fleetvisor create --name Alpha --seed 1234

  # Supervise every world in the foreground
  fleetvisor run --all --listen 127.0.0.1:8080

  # Show all worlds
  fleetvisor list`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default fleetvisor.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, off)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fleetvisor version %s\n", Version)
	},
}
