package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the active policies",
		Long: `Inspect the policies runs are evaluated against.

The built-in policies are always active. Additional Rego or JSON
policies are loaded from the configured policy directory.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyShowCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and loaded policies",
		Example: `  # Built-in policies only
  fleetplay policy list

  # Include the configured policy directory
  fleetplay policy list -c fleetplay.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := optionalEngineConfig()
			if err != nil {
				return err
			}
			engine, err := buildPolicyEngine(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}

			fmt.Printf("%-28s  %-9s  %-8s  %s\n", "POLICY", "SEVERITY", "ENABLED", "DESCRIPTION")
			for _, p := range policies {
				fmt.Printf("%-28s  %-9s  %-8t  %s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return nil
		},
	}

	return cmd
}

func newPolicyShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one policy with its Rego source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := optionalEngineConfig()
			if err != nil {
				return err
			}
			engine, err := buildPolicyEngine(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}

			p, err := engine.GetPolicy(args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(p)
			}

			fmt.Printf("Policy:      %s\n", p.Name)
			fmt.Printf("Severity:    %s\n", p.Severity)
			fmt.Printf("Enabled:     %t\n", p.Enabled)
			if p.Description != "" {
				fmt.Printf("Description: %s\n", p.Description)
			}
			if len(p.Tags) > 0 {
				fmt.Printf("Tags:        %s\n", strings.Join(p.Tags, ", "))
			}
			fmt.Println()
			fmt.Println(p.Rego)
			return nil
		},
	}

	return cmd
}
