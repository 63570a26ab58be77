package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/fleetplay/fleetplay/pkg/playbook"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunStore persists run reports in SQLite so operators can inspect
// per-node outcomes after the fact, including runs that aborted early.
type RunStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewRunStore creates a run store instance. Init must be called before
// use.
func NewRunStore(cfg Config) (*RunStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &RunStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode and runs pending migrations.
func (s *RunStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *RunStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveReport persists a complete run report: the run header, every task
// outcome, and every per-node result, in one transaction.
func (s *RunStore) SaveReport(ctx context.Context, report *playbook.RunReport) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runErr *string
	if report.Error != "" {
		runErr = &report.Error
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, playbook, version, success, error, started_at, completed_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Playbook,
		report.Version,
		report.Success,
		runErr,
		report.StartedAt.UTC(),
		report.CompletedAt.UTC(),
		report.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for seq, task := range report.Tasks {
		var taskErr *string
		if task.Error != "" {
			taskErr = &task.Error
		}
		attempted, batches := 0, 0
		if task.Dispatch != nil {
			attempted = task.Dispatch.Attempted
			batches = task.Dispatch.Batches
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_reports (run_id, seq, name, agent, action, node_group, hook, status, attempts, attempted, batches, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID,
			seq,
			task.Name,
			task.Agent,
			task.Action,
			task.Group,
			task.Hook,
			string(task.Status),
			task.Attempts,
			attempted,
			batches,
			taskErr,
			task.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert task report %s: %w", task.Name, err)
		}

		if task.Dispatch == nil {
			continue
		}
		for _, res := range task.Dispatch.Results {
			var nodeErr, payload *string
			if res.Error != "" {
				nodeErr = &res.Error
			}
			if len(res.Payload) > 0 {
				p := string(res.Payload)
				payload = &p
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO node_results (run_id, task_seq, node, status, error, payload, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				report.RunID,
				seq,
				res.Node,
				int(res.Status),
				nodeErr,
				payload,
				res.Duration.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert node result %s: %w", res.Node, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run report: %w", err)
	}
	return nil
}

// GetRun retrieves a run header by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, playbook, version, success, error, started_at, completed_at, duration_ms, created_at
		FROM runs WHERE id = ?
	`, id).Scan(
		&run.ID,
		&run.Playbook,
		&run.Version,
		&run.Success,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMS,
		&run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists run headers newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playbook, version, success, error, started_at, completed_at, duration_ms, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.Playbook,
			&run.Version,
			&run.Success,
			&run.Error,
			&run.StartedAt,
			&run.CompletedAt,
			&run.DurationMS,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// TaskReports lists the task outcomes of a run in execution order.
func (s *RunStore) TaskReports(ctx context.Context, runID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, name, agent, action, node_group, hook, status, attempts, attempted, batches, error, duration_ms
		FROM task_reports
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task reports: %w", err)
	}
	defer rows.Close()

	tasks := []*TaskRecord{}
	for rows.Next() {
		task := &TaskRecord{}
		err := rows.Scan(
			&task.ID,
			&task.RunID,
			&task.Seq,
			&task.Name,
			&task.Agent,
			&task.Action,
			&task.NodeGroup,
			&task.Hook,
			&task.Status,
			&task.Attempts,
			&task.Attempted,
			&task.Batches,
			&task.Error,
			&task.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task report: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task reports: %w", err)
	}
	return tasks, nil
}

// NodeResults lists the per-node outcomes of a run, optionally filtered
// to one node.
func (s *RunStore) NodeResults(ctx context.Context, runID string, node *string) ([]*NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, task_seq, node, status, error, payload, duration_ms
		FROM node_results
		WHERE run_id = ?
		  AND (? IS NULL OR node = ?)
		ORDER BY task_seq ASC, id ASC
	`, runID, node, node)
	if err != nil {
		return nil, fmt.Errorf("failed to list node results: %w", err)
	}
	defer rows.Close()

	results := []*NodeRecord{}
	for rows.Next() {
		res := &NodeRecord{}
		err := rows.Scan(
			&res.ID,
			&res.RunID,
			&res.TaskSeq,
			&res.Node,
			&res.Status,
			&res.Error,
			&res.Payload,
			&res.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node results: %w", err)
	}
	return results, nil
}

// DeleteRun removes a run and, via cascade, its task and node records.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// AppendEvent appends an entry to the run event log.
func (s *RunStore) AppendEvent(ctx context.Context, event *Event) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// Events lists a run's event log newest first.
func (s *RunStore) Events(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, level, message, details, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *RunStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
