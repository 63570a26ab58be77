package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetplay/fleetplay/pkg/config"
	"github.com/fleetplay/fleetplay/pkg/playbook"
	"github.com/fleetplay/fleetplay/pkg/policy"
	"github.com/fleetplay/fleetplay/pkg/rpc/sshrpc"
	"github.com/fleetplay/fleetplay/pkg/stores"
	"github.com/fleetplay/fleetplay/pkg/telemetry"
)

// loadEngineConfig loads the engine configuration from the --config
// flag. The --verbose flag lowers the log level to debug.
func loadEngineConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// optionalEngineConfig loads the configuration when --config was given
// and returns nil otherwise.
func optionalEngineConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, nil
	}
	return loadEngineConfig()
}

// telemetryConfig maps the engine configuration onto the telemetry
// stack's own configuration object.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()

	tc.Logging.Level = cfg.Logging.Level
	tc.Logging.Format = cfg.Logging.Format
	tc.Logging.Output = cfg.Logging.Output

	tc.Metrics.Enabled = cfg.Metrics.Enabled
	if cfg.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = cfg.Metrics.ListenAddress
	}
	if cfg.Metrics.Path != "" {
		tc.Metrics.Path = cfg.Metrics.Path
	}

	tc.Tracing.Enabled = cfg.Tracing.Enabled
	if cfg.Tracing.Exporter != "" {
		tc.Tracing.Exporter = cfg.Tracing.Exporter
	}
	tc.Tracing.Endpoint = cfg.Tracing.Endpoint
	if cfg.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = cfg.Tracing.SamplingRate
	}
	tc.Tracing.Insecure = cfg.Tracing.Insecure

	return tc
}

// sshClientConfig maps the engine SSH section onto the dispatch
// transport configuration.
func sshClientConfig(cfg *config.Config) *sshrpc.Config {
	sc := sshrpc.DefaultConfig(cfg.SSH.User)
	sc.Port = cfg.SSH.Port
	sc.PrivateKeyPath = cfg.SSH.PrivateKeyPath
	sc.KnownHostsPath = cfg.SSH.KnownHostsPath
	sc.StrictHostKeyChecking = cfg.SSH.StrictHostKeyChecking
	sc.ConnectTimeout = cfg.SSH.ConnectTimeout()
	sc.MaxInFlight = cfg.SSH.MaxInFlight
	return sc
}

// buildPolicyEngine creates the policy engine with the built-in
// policies, plus any policies found in the configured policy directory.
func buildPolicyEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if cfg != nil && cfg.PolicyDir != "" {
		if err := engine.LoadPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", cfg.PolicyDir, err)
		}
	}

	return engine, nil
}

// policyRunInput flattens a prepared playbook into the document the
// policy engine evaluates.
func policyRunInput(p *playbook.Playbook, environment string, dryRun bool) *policy.RunInput {
	meta := p.Metadata()
	list := p.Tasks().List()

	tasks := make([]policy.TaskInput, 0, len(list))
	for _, t := range list {
		nodes, err := p.Nodes().Group(t.Group)
		if err != nil {
			nodes = nil
		}
		tasks = append(tasks, policy.TaskInput{
			Name:    t.Name,
			Group:   t.Group,
			Agent:   t.Agent,
			Action:  t.Action,
			Nodes:   nodes,
			Options: t.Options,
		})
	}

	return &policy.RunInput{
		Playbook: meta.Name,
		Version:  meta.Version,
		RunAs:    meta.RunAs,
		OnFail:   string(meta.OnFail),
		Tasks:    tasks,
		Context: &policy.RunContext{
			Environment: environment,
			Timestamp:   time.Now(),
			DryRun:      dryRun,
		},
	}
}

// openRunStore opens and initializes the configured SQLite run store.
func openRunStore(ctx context.Context, cfg *config.Config) (*stores.RunStore, error) {
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("no run store configured (set store in the config file)")
	}

	store, err := stores.NewRunStore(stores.Config{Path: cfg.StorePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
