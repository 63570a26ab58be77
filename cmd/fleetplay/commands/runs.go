package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
		Long: `Inspect the persisted run history.

Every completed run is saved to the configured SQLite store with its
per-task and per-node outcomes plus an append-only event log.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Example: `  # Last 20 runs
  fleetplay runs list -c fleetplay.yaml

  # Page through older runs
  fleetplay runs list -c fleetplay.yaml --limit 50 --offset 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			store, err := openRunStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			fmt.Printf("%-36s  %-24s  %-10s  %-9s  %s\n", "RUN", "PLAYBOOK", "VERSION", "RESULT", "STARTED")
			for _, run := range runs {
				result := "succeeded"
				if !run.Success {
					result = "failed"
				}
				fmt.Printf("%-36s  %-24s  %-10s  %-9s  %s\n",
					run.ID, run.Playbook, run.Version, result,
					run.StartedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var showNodes bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with task and node outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			store, err := openRunStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			tasks, err := store.TaskReports(ctx, runID)
			if err != nil {
				return err
			}
			events, err := store.Events(ctx, runID, 100, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := map[string]any{
					"run":    run,
					"tasks":  tasks,
					"events": events,
				}
				if showNodes {
					nodes, err := store.NodeResults(ctx, runID, nil)
					if err != nil {
						return err
					}
					out["nodes"] = nodes
				}
				return printJSON(out)
			}

			result := "succeeded"
			if !run.Success {
				result = "failed"
			}
			fmt.Printf("Run %s\n", run.ID)
			fmt.Printf("  playbook: %s %s\n", run.Playbook, run.Version)
			fmt.Printf("  result:   %s\n", result)
			fmt.Printf("  started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
			fmt.Printf("  duration: %dms\n", run.DurationMS)
			if run.Error != nil {
				fmt.Printf("  error:    %s\n", *run.Error)
			}

			fmt.Println("Tasks:")
			for _, task := range tasks {
				fmt.Printf("  %2d. [%-9s] %s (%s#%s on %s) attempts=%d nodes=%d\n",
					task.Seq, task.Status, task.Name, task.Agent, task.Action,
					task.NodeGroup, task.Attempts, task.Attempted)
				if task.Error != nil {
					fmt.Printf("      error: %s\n", *task.Error)
				}
			}

			if showNodes {
				nodes, err := store.NodeResults(ctx, runID, nil)
				if err != nil {
					return err
				}
				fmt.Println("Nodes:")
				for _, node := range nodes {
					fmt.Printf("  task=%d %-20s status=%d duration=%dms", node.TaskSeq, node.Node, node.Status, node.DurationMS)
					if node.Error != nil {
						fmt.Printf(" error=%s", *node.Error)
					}
					fmt.Println()
				}
			}

			if len(events) > 0 {
				fmt.Println("Events:")
				for _, event := range events {
					fmt.Printf("  %s [%-7s] %s\n",
						event.Timestamp.Local().Format(time.RFC3339), event.Level, event.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showNodes, "nodes", false, "include per-node results")

	return cmd
}

func newRunsDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its task, node, and event records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			store, err := openRunStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted run %s\n", args[0])
			return nil
		},
	}

	return cmd
}
