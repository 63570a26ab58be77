package stores

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetplay/fleetplay/pkg/playbook"
	"github.com/fleetplay/fleetplay/pkg/rpc"
)

// setupTestStore creates a file-backed store in a temporary directory.
func setupTestStore(t *testing.T) *RunStore {
	t.Helper()

	store, err := NewRunStore(Config{
		Path: filepath.Join(t.TempDir(), "runs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func sampleReport(runID string, success bool) *playbook.RunReport {
	started := time.Now().Add(-time.Minute)
	report := &playbook.RunReport{
		RunID:       runID,
		Playbook:    "restart-web",
		Version:     "1.2.0",
		Success:     success,
		StartedAt:   started,
		CompletedAt: started.Add(30 * time.Second),
		Duration:    30 * time.Second,
		Tasks: []*playbook.TaskReport{
			{
				Name:     "restart web services",
				Agent:    "service",
				Action:   "restart",
				Group:    "web",
				Status:   playbook.TaskStatusSucceeded,
				Attempts: 1,
				Duration: 12 * time.Second,
				Dispatch: &playbook.DispatchReport{
					RequestID: runID + "-d1",
					Attempted: 2,
					Batches:   1,
					Results: []*rpc.NodeResult{
						{Node: "web1", Status: rpc.StatusOK, Payload: json.RawMessage(`{"changed":true}`), Duration: time.Second},
						{Node: "web2", Status: rpc.StatusOK, Duration: 2 * time.Second},
					},
				},
			},
		},
	}
	if !success {
		report.Error = "task restart web services failed on 1 of 2 nodes"
		report.Tasks[0].Status = playbook.TaskStatusFailed
		report.Tasks[0].Error = "1 of 2 nodes failed"
		web2 := report.Tasks[0].Dispatch.Results[1]
		web2.Status = rpc.StatusTimeout
		web2.Error = "no reply within timeout"
		report.Tasks[0].Dispatch.Failed = []string{"web2"}
	}
	return report
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "task_reports", "node_results", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSaveAndReadReport(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveReport(ctx, sampleReport("run-1", true)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Playbook != "restart-web" || !run.Success {
		t.Errorf("run header differs: %+v", run)
	}
	if run.DurationMS != 30000 {
		t.Errorf("duration_ms = %d", run.DurationMS)
	}

	tasks, err := store.TaskReports(ctx, "run-1")
	if err != nil {
		t.Fatalf("TaskReports failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Attempted != 2 || tasks[0].Status != "succeeded" {
		t.Errorf("task records differ: %+v", tasks)
	}

	results, err := store.NodeResults(ctx, "run-1", nil)
	if err != nil {
		t.Fatalf("NodeResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 node results, got %d", len(results))
	}
	if results[0].Payload == nil || *results[0].Payload != `{"changed":true}` {
		t.Errorf("payload not carried: %+v", results[0])
	}
}

func TestFailedRunKeepsPerNodeOutcomes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveReport(ctx, sampleReport("run-2", false)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Success || run.Error == nil {
		t.Errorf("failed run not recorded as such: %+v", run)
	}

	// The node that succeeded before the abort is still queryable.
	node := "web1"
	results, err := store.NodeResults(ctx, "run-2", &node)
	if err != nil {
		t.Fatalf("NodeResults failed: %v", err)
	}
	if len(results) != 1 || results[0].Status != int(rpc.StatusOK) {
		t.Errorf("surviving node outcome lost: %+v", results)
	}

	node = "web2"
	results, err = store.NodeResults(ctx, "run-2", &node)
	if err != nil {
		t.Fatalf("NodeResults failed: %v", err)
	}
	if len(results) != 1 || results[0].Status != int(rpc.StatusTimeout) {
		t.Errorf("timed-out node outcome lost: %+v", results)
	}
}

func TestListRunsOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older := sampleReport("run-old", true)
	older.StartedAt = time.Now().Add(-time.Hour)
	older.CompletedAt = older.StartedAt.Add(time.Minute)
	if err := store.SaveReport(ctx, older); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := store.SaveReport(ctx, sampleReport("run-new", true)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-new" {
		t.Errorf("runs not newest first: %+v", runs)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveReport(ctx, sampleReport("run-3", true)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-3"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	if _, err := store.GetRun(ctx, "run-3"); err == nil {
		t.Error("run should be gone")
	}
	results, err := store.NodeResults(ctx, "run-3", nil)
	if err != nil {
		t.Fatalf("NodeResults failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("node results should cascade on delete: %+v", results)
	}

	if err := store.DeleteRun(ctx, "run-3"); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestEventsLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveReport(ctx, sampleReport("run-4", true)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	for i, msg := range []string{"run started", "task dispatched", "run completed"} {
		event := &Event{
			RunID:     "run-4",
			Level:     EventLevelInfo,
			Message:   msg,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		if event.ID == 0 {
			t.Error("event ID not populated")
		}
	}

	events, err := store.Events(ctx, "run-4", 10, 0)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 3 || events[0].Message != "run completed" {
		t.Errorf("events not newest first: %+v", events)
	}
}
