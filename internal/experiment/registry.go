package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/headline-goat/variant-goat/internal/store"
)

// Gateway is the read/transition surface the core uses to reach experiment
// definitions owned elsewhere.
type Gateway interface {
	Get(ctx context.Context, id int64) (*store.Experiment, error)
	ListByStatus(ctx context.Context, status store.Status) ([]*store.Experiment, error)
	Transition(ctx context.Context, id int64, to store.Status) error
}

// Registry implements Gateway over an ExperimentStore.
type Registry struct {
	store store.ExperimentStore
}

var _ Gateway = (*Registry)(nil)

func NewRegistry(s store.ExperimentStore) *Registry {
	return &Registry{store: s}
}

func (r *Registry) Get(ctx context.Context, id int64) (*store.Experiment, error) {
	return r.store.GetExperiment(ctx, id)
}

func (r *Registry) ListByStatus(ctx context.Context, status store.Status) ([]*store.Experiment, error) {
	return r.store.ListExperiments(ctx, status)
}

// Save validates e and persists it. Replacing a stored experiment may only
// change its status along the state machine; the change is applied with the
// same compare-and-swap update as Transition. A new running experiment is
// stamped as activated now.
func (r *Registry) Save(ctx context.Context, e *store.Experiment) error {
	if err := Validate(e); err != nil {
		return err
	}

	var stored *store.Experiment
	if e.ID != 0 {
		existing, err := r.store.GetExperiment(ctx, e.ID)
		switch {
		case err == nil:
			stored = existing
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("failed to load experiment %d: %w", e.ID, err)
		}
	}

	if stored == nil {
		if e.Status == store.StatusRunning && e.ActivatedAt == nil {
			now := time.Now()
			e.ActivatedAt = &now
		}
		if err := r.store.SaveExperiment(ctx, e); err != nil {
			return fmt.Errorf("failed to save experiment: %w", err)
		}
		return nil
	}

	to := e.Status
	if to != stored.Status {
		if err := checkTransition(stored.Status, to); err != nil {
			return fmt.Errorf("experiment %d: %w", e.ID, err)
		}
	}

	// The definition is replaced under the stored status first; the status
	// change goes through the compare-and-swap update.
	e.Status = stored.Status
	if err := r.store.SaveExperiment(ctx, e); err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}
	if to != stored.Status {
		if err := r.store.UpdateStatus(ctx, e.ID, stored.Status, to); err != nil {
			return err
		}
	}

	saved, err := r.store.GetExperiment(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("failed to reload experiment %d: %w", e.ID, err)
	}
	*e = *saved
	return nil
}

// Transition moves experiment id to status to, enforcing the state machine.
// The write is a compare-and-swap on the status read here, so a concurrent
// change surfaces as store.ErrStatusConflict instead of being overwritten.
func (r *Registry) Transition(ctx context.Context, id int64, to store.Status) error {
	e, err := r.store.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if err := checkTransition(e.Status, to); err != nil {
		return err
	}
	return r.store.UpdateStatus(ctx, id, e.Status, to)
}
