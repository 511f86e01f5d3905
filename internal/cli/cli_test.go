package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/headline-goat/variant-goat/internal/store"
)

const definitions = `
experiments:
  - name: Hero headline
    status: running
    variants:
      - {id: a, name: Ship Faster, weight: 70}
      - {id: b, name: Build Better, weight: 30}
    goal: {type: click}
    lifecycle:
      duration_type: fixed_days
      duration_days: 7
  - name: Pricing
    variants:
      - {id: x, name: X, weight: 60}
`

// run executes the root command with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupDB(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	definitionsPath := filepath.Join(dir, "experiments.yaml")
	if err := os.WriteFile(definitionsPath, []byte(definitions), 0o644); err != nil {
		t.Fatalf("failed to write definitions: %v", err)
	}

	db := filepath.Join(dir, "test.db")
	out, err := run(t, "experiment", "import", definitionsPath, "--db", db)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "Saved experiment 1 'Hero headline' (running)") {
		t.Errorf("unexpected import output:\n%s", out)
	}
	if !strings.Contains(out, "weights sum to 60") {
		t.Errorf("expected weight warning:\n%s", out)
	}
	return db
}

func openDB(t *testing.T, db string) *store.SQLStore {
	t.Helper()

	s, err := store.Open(db)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExperimentList(t *testing.T) {
	db := setupDB(t)

	out, err := run(t, "experiment", "list", "--db", db, "--status", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, want := range []string{"Hero headline", "RUNNING", "Pricing", "DRAFT"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "experiment", "list", "--db", db, "--status", "draft")
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if strings.Contains(out, "Hero headline") {
		t.Errorf("status filter ignored:\n%s", out)
	}
}

func TestExperimentSetStatus(t *testing.T) {
	db := setupDB(t)

	if _, err := run(t, "experiment", "set-status", "2", "running", "--yes", "--db", db); err != nil {
		t.Fatalf("set-status failed: %v", err)
	}

	s := openDB(t, db)
	e, err := s.GetExperiment(context.Background(), 2)
	if err != nil {
		t.Fatalf("failed to get experiment: %v", err)
	}
	if e.Status != store.StatusRunning || e.ActivatedAt == nil {
		t.Errorf("expected running with activation stamp, got %s %v", e.Status, e.ActivatedAt)
	}

	if _, err := run(t, "experiment", "set-status", "2", "archived", "--yes", "--db", db); err == nil {
		t.Error("expected running -> archived to be rejected")
	}
	if _, err := run(t, "experiment", "set-status", "99", "paused", "--yes", "--db", db); err == nil {
		t.Error("expected unknown experiment error")
	}
}

func TestAggregateAndStats(t *testing.T) {
	db := setupDB(t)

	s := openDB(t, db)
	day := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	for _, ev := range []*store.RawEvent{
		{ExperimentID: 1, VariantID: "a", VisitorID: "v1", EventType: store.EventView, CreatedAt: day},
		{ExperimentID: 1, VariantID: "a", VisitorID: "v2", EventType: store.EventView, CreatedAt: day},
		{ExperimentID: 1, VariantID: "a", VisitorID: "v1", EventType: store.EventConversion, GoalType: "click", CreatedAt: day},
		{ExperimentID: 1, VariantID: "b", VisitorID: "v3", EventType: store.EventView, CreatedAt: day},
	} {
		if _, err := s.AppendEvent(context.Background(), ev); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	out, err := run(t, "aggregate", "--date", "2026-05-10", "--evaluate=false", "--db", db)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if !strings.Contains(out, "Aggregated 4 events into 2 daily stats for 2026-05-10") {
		t.Errorf("unexpected aggregate output:\n%s", out)
	}

	// Re-running adds nothing.
	out, _ = run(t, "aggregate", "--date", "2026-05-10", "--evaluate=false", "--db", db)
	if !strings.Contains(out, "Aggregated 0 events") {
		t.Errorf("expected idempotent re-run:\n%s", out)
	}

	out, err = run(t, "stats", "1", "--daily", "--from", "", "--to", "", "--db", db)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	for _, want := range []string{"EXPERIMENT: Hero headline (1)", "Ship Faster", "50.00%", "2026-05-10"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "stats", "1", "--daily=false", "--from", "May 1", "--db", db); err == nil {
		t.Error("expected invalid date error")
	}
}

func TestScheduledAggregation_CatchesUpMissedDay(t *testing.T) {
	db := setupDB(t)
	s := openDB(t, db)
	ctx := context.Background()

	_, err := s.AppendEvent(ctx, &store.RawEvent{
		ExperimentID: 1, VariantID: "a", VisitorID: "v1", EventType: store.EventView,
		CreatedAt: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	// The run for the 11th never happened.
	old := timeNow
	timeNow = func() time.Time { return time.Date(2026, 5, 12, 2, 0, 0, 0, time.UTC) }
	defer func() { timeNow = old }()

	jobs := scheduledJobs(s)
	if jobs[0].Name != "aggregate" {
		t.Fatalf("first entry is %q, want aggregate", jobs[0].Name)
	}
	if err := jobs[0].Job(ctx); err != nil {
		t.Fatalf("scheduled aggregation failed: %v", err)
	}

	left, _ := s.QueryUnprocessed(ctx, time.Unix(0, 0), time.Date(2026, 5, 13, 0, 0, 0, 0, time.UTC))
	if len(left) != 0 {
		t.Errorf("%d events left unprocessed", len(left))
	}
	totals, _ := s.VariantTotals(ctx, 1, "2026-05-10", "2026-05-10")
	if len(totals) != 1 || totals[0].Impressions != 1 {
		t.Errorf("expected the missed day to be aggregated, got %+v", totals)
	}
}

func TestEvaluate(t *testing.T) {
	db := setupDB(t)

	out, err := run(t, "evaluate", "--db", db)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !strings.Contains(out, "No experiments reached their end condition.") {
		t.Errorf("unexpected evaluate output:\n%s", out)
	}
}

func TestEvaluate_CompletesElapsed(t *testing.T) {
	old := timeNow
	timeNow = func() time.Time { return time.Now().Add(-10 * 24 * time.Hour) }
	defer func() { timeNow = old }()

	// Activated ten days ago with a seven day duration.
	db := setupDB(t)

	out, err := run(t, "evaluate", "--db", db)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !strings.Contains(out, "Completed experiment 1 (Hero headline): duration_elapsed") {
		t.Errorf("unexpected evaluate output:\n%s", out)
	}

	s := openDB(t, db)
	e, _ := s.GetExperiment(context.Background(), 1)
	if e.Status != store.StatusCompleted {
		t.Errorf("status = %s, want completed", e.Status)
	}
}

func TestFormatting(t *testing.T) {
	for n, want := range map[int64]string{7: "7", 1234: "1,234", 2500042: "2,500,042"} {
		if got := formatNumber(n); got != want {
			t.Errorf("formatNumber(%d) = %q, want %q", n, got, want)
		}
	}
	for rate, want := range map[float64]string{0: "0%", 0.5: "50.00%", 0.0375: "3.75%"} {
		if got := formatPercent(rate); got != want {
			t.Errorf("formatPercent(%v) = %q, want %q", rate, got, want)
		}
	}
}

func TestExport(t *testing.T) {
	db := setupDB(t)

	s := openDB(t, db)
	_, err := s.AppendEvent(context.Background(), &store.RawEvent{
		ExperimentID: 1, VariantID: "b", VisitorID: "v9", EventType: store.EventConversion,
		GoalType: "click", GoalDetail: json.RawMessage(`{"text":"Buy"}`),
		CreatedAt: time.Unix(1767225600, 0),
	})
	if err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	out, err := run(t, "export", "1", "--format", "csv", "--db", db)
	if err != nil {
		t.Fatalf("csv export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "1767225600,b,conversion,v9") {
		t.Errorf("unexpected csv:\n%s", out)
	}

	out, err = run(t, "export", "1", "--format", "json", "--db", db)
	if err != nil {
		t.Fatalf("json export failed: %v", err)
	}
	var export jsonExport
	if err := json.Unmarshal([]byte(out), &export); err != nil {
		t.Fatalf("invalid json export: %v", err)
	}
	if len(export.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(export.Events))
	}
	var detail map[string]string
	if err := json.Unmarshal(export.Events[0].GoalDetail, &detail); err != nil || detail["text"] != "Buy" {
		t.Errorf("unexpected goal detail %s", export.Events[0].GoalDetail)
	}

	if _, err := run(t, "export", "1", "--format", "xml", "--db", db); err == nil {
		t.Error("expected invalid format error")
	}
}
