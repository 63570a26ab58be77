package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetplay/fleetplay/pkg/config"
	"github.com/fleetplay/fleetplay/pkg/discovery"
	"github.com/fleetplay/fleetplay/pkg/playbook"
	"github.com/fleetplay/fleetplay/pkg/policy"
	"github.com/fleetplay/fleetplay/pkg/rpc"
	"github.com/fleetplay/fleetplay/pkg/rpc/sshrpc"
	"github.com/fleetplay/fleetplay/pkg/stores"
	"github.com/fleetplay/fleetplay/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		inputValues map[string]string
		batchSize   int
		environment string
		storePath   string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Execute a playbook against the fleet",
		Long: `Execute a playbook document against the configured fleet.

The document is schema-validated, inputs and node groups are resolved,
and the prepared run is evaluated against the active policies before
the first dispatch. Tasks then execute in order over batched SSH
dispatches, honoring the playbook's on_fail policy.`,
		Example: `  # Run a playbook
  fleetplay run restart-web.yaml --config fleetplay.yaml

  # Supply input values
  fleetplay run deploy.yaml -c fleetplay.yaml --input version=1.2.3 --input cluster=blue

  # Check what would run without dispatching
  fleetplay run reboot-fleet.yaml -c fleetplay.yaml --dry-run

  # Evaluate production policies
  fleetplay run reboot-fleet.yaml -c fleetplay.yaml --environment production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			if storePath != "" {
				cfg.StorePath = storePath
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(cfg))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			if err := tel.StartMetricsServer(); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			logger := tel.Logger.Zerolog()
			ctx = tel.WithContext(ctx)

			doc, err := config.LoadDocument(args[0])
			if err != nil {
				return err
			}

			// The configured identity backs playbooks that declare no
			// run_as of their own.
			if _, ok := doc["run_as"]; !ok {
				doc["run_as"] = cfg.Identity
			}

			inventory, err := discovery.LoadInventory(cfg.InventoryPath)
			if err != nil {
				return err
			}
			registry, err := rpc.LoadStaticRegistry(cfg.AgentsPath)
			if err != nil {
				return err
			}
			client, err := sshrpc.NewClient(sshClientConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("failed to create dispatch client: %w", err)
			}
			defer client.Close()

			if batchSize <= 0 {
				batchSize = cfg.BatchSize
			}

			p := playbook.New(playbook.Options{
				Logger:          logger,
				Client:          client,
				Registry:        registry,
				Discoverer:      inventory,
				BatchSize:       batchSize,
				RetryLimit:      cfg.RetryLimit,
				RetryDelay:      cfg.RetryDelay(),
				DispatchTimeout: cfg.DispatchTimeout(),
			})
			if err := p.FromMap(doc); err != nil {
				return err
			}

			p.SetInputData(inputData(inputValues))
			if err := p.Prepare(ctx); err != nil {
				return err
			}

			engine, err := buildPolicyEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			decision, err := engine.EvaluateRun(ctx, policyRunInput(p, environment, dryRun))
			if err != nil {
				return fmt.Errorf("policy evaluation failed: %w", err)
			}
			reportViolations(logger, tel, decision)
			if !decision.Allowed {
				tel.Metrics.RecordError("policy_denied")
				return fmt.Errorf("run blocked by policy: %d violation(s)", len(decision.Violations))
			}

			if dryRun {
				return printPlan(p)
			}

			meta := p.Metadata()
			tel.Metrics.RecordRunStarted(meta.Name, meta.RunAs)

			report, err := p.Run(ctx, nil)
			if err != nil {
				tel.Metrics.RecordError("run")
				return err
			}

			status := "succeeded"
			if !report.Success {
				status = "failed"
			}
			tel.Metrics.RecordRunCompleted(meta.Name, status, report.Duration)
			if report.Success {
				_ = tel.Events.PublishRunCompleted(report.RunID, status, report.Duration)
			} else {
				_ = tel.Events.PublishRunFailed(report.RunID, report.Error)
			}

			if cfg.StorePath != "" {
				if err := persistReport(ctx, cfg, report); err != nil {
					logger.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to persist run report")
				}
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printRunReport(report)
			}

			if !report.Success {
				return fmt.Errorf("run %s failed", report.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&inputValues, "input", "i", nil, "playbook input values (key=value)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override nodes per dispatch batch")
	cmd.Flags().StringVar(&storePath, "store", "", "override the run store path")
	cmd.Flags().StringVar(&environment, "environment", "staging", "environment for policy evaluation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "prepare and policy-check without dispatching")

	return cmd
}

// inputData widens the CLI string map; the input layer coerces values
// to their declared types.
func inputData(values map[string]string) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// reportViolations logs every policy finding and records the denial
// metrics.
func reportViolations(logger zerolog.Logger, tel *telemetry.Telemetry, decision *policy.Decision) {
	for _, v := range decision.Violations {
		tel.Metrics.RecordPolicyDenial(v.Policy, string(v.Severity))

		event := logger.Warn()
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			event = logger.Error()
		}
		event.
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("task", v.Task).
			Msg(v.Message)
	}
	for _, w := range decision.Warnings {
		logger.Warn().Str("component", "policy-engine").Msg(w)
	}
}

// printPlan prints the prepared run without dispatching.
func printPlan(p *playbook.Playbook) error {
	if jsonOutput {
		return printJSON(policyRunInput(p, "", true))
	}

	fmt.Println(p.Describe())
	for _, t := range p.Tasks().List() {
		nodes, err := p.Nodes().Group(t.Group)
		if err != nil {
			return err
		}
		fmt.Printf("  %s: %s#%s on %s (%d nodes)\n", t.Name, t.Agent, t.Action, t.Group, len(nodes))
	}
	fmt.Println("Dry run: nothing dispatched.")
	return nil
}

// persistReport saves the run report and appends summary entries to the
// run event log.
func persistReport(ctx context.Context, cfg *config.Config, report *playbook.RunReport) error {
	store, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveReport(ctx, report); err != nil {
		return err
	}

	level := stores.EventLevelInfo
	message := fmt.Sprintf("run completed in %s", playbook.SecondsToHuman(int(report.Duration.Seconds())))
	if !report.Success {
		level = stores.EventLevelError
		message = fmt.Sprintf("run failed: %s", report.Error)
	}
	if err := store.AppendEvent(ctx, &stores.Event{
		RunID:     report.RunID,
		Level:     level,
		Message:   message,
		Timestamp: report.CompletedAt,
	}); err != nil {
		return err
	}

	for _, task := range report.FailedTasks() {
		event := &stores.Event{
			RunID:     report.RunID,
			Level:     stores.EventLevelWarning,
			Message:   fmt.Sprintf("task %s failed: %s", task.Name, task.Error),
			Timestamp: report.CompletedAt,
		}
		if err := store.AppendEvent(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// printRunReport prints a human-readable run summary.
func printRunReport(report *playbook.RunReport) {
	result := "succeeded"
	if !report.Success {
		result = "FAILED"
	}
	fmt.Printf("Run %s: %s %s %s in %s\n",
		report.RunID, report.Playbook, report.Version, result,
		playbook.SecondsToHuman(int(report.Duration.Seconds())))

	for _, task := range report.Tasks {
		name := task.Name
		if task.Hook != "" {
			name = fmt.Sprintf("%s hook: %s", task.Hook, name)
		}
		fmt.Printf("  [%-9s] %s (%s#%s on %s)", task.Status, name, task.Agent, task.Action, task.Group)
		if task.Dispatch != nil {
			fmt.Printf(" nodes=%d batches=%d attempts=%d", task.Dispatch.Attempted, task.Dispatch.Batches, task.Attempts)
			if len(task.Dispatch.Failed) > 0 {
				fmt.Printf(" failed=%v", task.Dispatch.Failed)
			}
		}
		fmt.Println()
	}

	if report.Error != "" {
		fmt.Printf("Error: %s\n", report.Error)
	}
}
