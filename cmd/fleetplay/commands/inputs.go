package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetplay/fleetplay/pkg/config"
	"github.com/fleetplay/fleetplay/pkg/playbook"
)

func newInputsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inputs <playbook>",
		Short: "Describe a playbook's declared inputs",
		Long: `Describe the inputs a playbook declares: type, whether the input is
required, its default, and its validation rule. The flag listing shows
how the inputs surface as run-time flags.`,
		Example: `  fleetplay inputs deploy.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.LoadDocument(args[0])
			if err != nil {
				return err
			}

			p := playbook.New(playbook.Options{Logger: zerolog.Nop()})
			if err := p.FromMap(doc); err != nil {
				return err
			}

			inputs := p.Inputs()
			if jsonOutput {
				out := make(map[string]any, len(inputs.Keys()))
				for _, name := range inputs.Keys() {
					spec, err := inputs.Spec(name)
					if err != nil {
						return err
					}
					out[name] = spec
				}
				return printJSON(out)
			}

			fmt.Printf("%-20s  %-8s  %-8s  %-16s  %s\n", "INPUT", "TYPE", "REQUIRED", "DEFAULT", "DESCRIPTION")
			for _, name := range inputs.Keys() {
				spec, err := inputs.Spec(name)
				if err != nil {
					return err
				}
				def := ""
				if spec.HasDefault {
					def = fmt.Sprintf("%v", spec.Default)
				}
				fmt.Printf("%-20s  %-8s  %-8t  %-16s  %s\n", name, spec.Type, spec.Required, def, spec.Description)
			}

			// Render the flag surface the inputs would register on the
			// run command.
			probe := &cobra.Command{Use: "run"}
			if err := inputs.AddCLIOptions(probe, true); err != nil {
				return err
			}
			if usages := probe.LocalFlags().FlagUsages(); usages != "" {
				fmt.Println("\nFlags:")
				fmt.Print(usages)
			}
			return nil
		},
	}

	return cmd
}
