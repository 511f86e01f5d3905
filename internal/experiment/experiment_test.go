package experiment_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/headline-goat/variant-goat/internal/experiment"
	"github.com/headline-goat/variant-goat/internal/store"
)

func validExperiment() *store.Experiment {
	return &store.Experiment{
		Name:   "hero",
		Status: store.StatusDraft,
		Variants: []store.Variant{
			{ID: "a", Name: "A", Weight: 70},
			{ID: "b", Name: "B", Weight: 30},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := experiment.Validate(validExperiment()); err != nil {
		t.Fatalf("expected valid experiment, got %v", err)
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *store.Experiment)
		want   string
	}{
		{"empty name", func(e *store.Experiment) { e.Name = " " }, "name is required"},
		{"bad status", func(e *store.Experiment) { e.Status = "live" }, `unknown status "live"`},
		{"duplicate variant", func(e *store.Experiment) { e.Variants[1].ID = "a" }, `duplicate id "a"`},
		{"empty variant id", func(e *store.Experiment) { e.Variants[0].ID = "" }, "id is required"},
		{"weight too high", func(e *store.Experiment) { e.Variants[0].Weight = 101 }, "outside 0..100"},
		{"bad duration type", func(e *store.Experiment) { e.Lifecycle.DurationType = "weeks" }, "unknown duration_type"},
		{"bad end date", func(e *store.Experiment) {
			e.Lifecycle.DurationType = store.DurationEndDate
			e.Lifecycle.EndDate = "05/01/2026"
		}, "not YYYY-MM-DD"},
		{"bad auto end", func(e *store.Experiment) { e.Lifecycle.AutoEndCondition = "max_views" }, "unknown auto_end_condition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validExperiment()
			tt.mutate(e)
			err := experiment.Validate(e)
			if !experiment.IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWarnings_WeightSum(t *testing.T) {
	e := validExperiment()
	e.Variants[1].Weight = 0

	warnings := experiment.Warnings(e)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "sum to 70") {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if err := experiment.Validate(e); err != nil {
		t.Errorf("weight sum must not fail validation: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to store.Status
		want     bool
	}{
		{store.StatusDraft, store.StatusRunning, true},
		{store.StatusDraft, store.StatusPaused, true},
		{store.StatusPaused, store.StatusDraft, true},
		{store.StatusRunning, store.StatusPaused, true},
		{store.StatusPaused, store.StatusRunning, true},
		{store.StatusRunning, store.StatusCompleted, true},
		{store.StatusCompleted, store.StatusArchived, true},
		{store.StatusRunning, store.StatusDraft, false},
		{store.StatusCompleted, store.StatusRunning, false},
		{store.StatusArchived, store.StatusCompleted, false},
		{store.StatusDraft, store.StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := experiment.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDecodeYAML(t *testing.T) {
	doc := `
experiments:
  - id: 7
    name: Hero headline
    status: running
    variants:
      - {id: a, name: Ship Faster, weight: 50}
      - {id: b, name: Build Better, weight: 50}
    goal:
      type: page_visit
      config:
        url: /thanks
    lifecycle:
      duration_type: fixed_days
      duration_days: 14
      auto_end_condition: min_views
      auto_end_value: 1000
    consent:
      required: true
      mechanism: cookie_key
      key_name: cookie_consent
      key_value: "yes"
  - name: Pricing
    variants:
      - {id: x, name: X, weight: 100}
`
	experiments, err := experiment.DecodeYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(experiments) != 2 {
		t.Fatalf("got %d experiments, want 2", len(experiments))
	}

	hero := experiments[0]
	if hero.ID != 7 || hero.Status != store.StatusRunning {
		t.Errorf("unexpected header fields: id=%d status=%s", hero.ID, hero.Status)
	}
	wantLifecycle := store.LifecycleConfig{
		DurationType:     store.DurationFixedDays,
		DurationDays:     14,
		AutoEndCondition: store.AutoEndMinViews,
		AutoEndValue:     1000,
	}
	if diff := cmp.Diff(wantLifecycle, hero.Lifecycle); diff != "" {
		t.Errorf("lifecycle mismatch (-want +got):\n%s", diff)
	}
	if string(hero.Goal.Config) != `{"url":"/thanks"}` {
		t.Errorf("got goal config %s", hero.Goal.Config)
	}
	if hero.Consent.KeyValue != "yes" {
		t.Errorf("got consent key value %q", hero.Consent.KeyValue)
	}

	if experiments[1].Status != store.StatusDraft {
		t.Errorf("expected default draft status, got %s", experiments[1].Status)
	}
}

func TestDecodeYAML_Invalid(t *testing.T) {
	doc := `
experiments:
  - name: ""
    variants: []
`
	_, err := experiment.DecodeYAML(strings.NewReader(doc))
	if !experiment.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = experiment.DecodeYAML(strings.NewReader("experiments:\n  - nmae: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestRegistry_Transition(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	r := experiment.NewRegistry(s)

	e := validExperiment()
	if err := r.Save(ctx, e); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	if err := r.Transition(ctx, e.ID, store.StatusRunning); err != nil {
		t.Fatalf("draft -> running failed: %v", err)
	}

	err = r.Transition(ctx, e.ID, store.StatusDraft)
	if !errors.Is(err, experiment.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	running, err := r.ListByStatus(ctx, store.StatusRunning)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(running) != 1 || running[0].ActivatedAt == nil {
		t.Errorf("expected one activated running experiment, got %+v", running)
	}

	bad := validExperiment()
	bad.Name = ""
	if err := r.Save(ctx, bad); !experiment.IsValidationError(err) {
		t.Errorf("expected Save to reject invalid definition, got %v", err)
	}
}

func TestRegistry_SaveReplaceFollowsStateMachine(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	r := experiment.NewRegistry(s)

	e := validExperiment()
	e.ID = 5
	e.Status = store.StatusRunning
	if err := r.Save(ctx, e); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := r.Transition(ctx, 5, store.StatusCompleted); err != nil {
		t.Fatalf("running -> completed failed: %v", err)
	}

	revived := validExperiment()
	revived.ID = 5
	revived.Status = store.StatusRunning
	if err := r.Save(ctx, revived); !errors.Is(err, experiment.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition re-saving a completed experiment as running, got %v", err)
	}
	got, _ := r.Get(ctx, 5)
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// Same status replaces the definition; a legal status change is applied.
	renamed := validExperiment()
	renamed.ID = 5
	renamed.Name = "hero v2"
	renamed.Status = store.StatusArchived
	if err := r.Save(ctx, renamed); err != nil {
		t.Fatalf("completed -> archived re-save failed: %v", err)
	}
	got, _ = r.Get(ctx, 5)
	if got.Name != "hero v2" || got.Status != store.StatusArchived || got.ActivatedAt == nil {
		t.Errorf("unexpected stored experiment %+v", got)
	}
}
