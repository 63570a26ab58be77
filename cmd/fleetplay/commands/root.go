package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fleetplay",
		Short: "Fleetplay - Playbook Automation Engine",
		Long: `Fleetplay executes declarative automation playbooks against remote
node fleets over batched RPC.

Features:
  - YAML playbooks validated against CUE schemas
  - Typed inputs with template substitution
  - Node group resolution from a static inventory
  - Batched SSH dispatch with retry, continue, and fail policies
  - Policy gates via OPA/rego before any dispatch
  - SQLite run history with per-node outcomes`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInputsCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
