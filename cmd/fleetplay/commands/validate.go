package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetplay/fleetplay/pkg/config"
	"github.com/fleetplay/fleetplay/pkg/playbook"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <playbook>",
		Short: "Validate a playbook document",
		Long: `Validate a playbook document without dispatching anything.

This command checks:
  - YAML syntax validity
  - Schema conformance (unknown fields, enum values, field types)
  - Structural parsing of metadata, inputs, uses, nodes, tasks, and hooks

Node group resolution, input values, and policies are checked at run
time; use run --dry-run for a full pre-flight.`,
		Example: `  # Validate a playbook
  fleetplay validate restart-web.yaml

  # Machine-readable summary
  fleetplay validate restart-web.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.LoadDocument(args[0])
			if err != nil {
				return err
			}

			p := playbook.New(playbook.Options{Logger: zerolog.Nop()})
			if err := p.FromMap(doc); err != nil {
				return err
			}

			meta := p.Metadata()
			if jsonOutput {
				return printJSON(map[string]any{
					"valid":    true,
					"playbook": meta.Name,
					"version":  meta.Version,
					"on_fail":  meta.OnFail,
					"inputs":   p.Inputs().Keys(),
					"groups":   p.Nodes().Keys(),
					"tasks":    len(p.Tasks().List()),
				})
			}

			fmt.Printf("%s is valid\n", args[0])
			fmt.Println(p.Describe())
			return nil
		},
	}

	return cmd
}
