// Package assign decides which variant of an experiment a visitor sees and
// whether tracking is allowed for that experiment.
package assign

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/headline-goat/variant-goat/internal/store"
)

// AssignmentStore persists visitor assignments wherever the caller keeps
// them: cookies, local storage mirrors, or memory.
type AssignmentStore interface {
	Get(ctx context.Context, experimentID int64, visitorID string) (variantID string, ok bool, err error)
	Set(ctx context.Context, experimentID int64, visitorID, variantID string) error
	Delete(ctx context.Context, experimentID int64, visitorID string) error
}

// Source draws integers in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

type Assigner struct {
	store  AssignmentStore
	source Source
}

// New returns an Assigner. A nil source uses the concurrency-safe global
// generator; a *rand.Rand passed here must not be shared across goroutines.
func New(s AssignmentStore, source Source) *Assigner {
	if source == nil {
		source = globalSource{}
	}
	return &Assigner{store: s, source: source}
}

// Assign returns the visitor's variant for e. ok is false when the
// experiment is not running or has no variants, in which case the page
// renders its default content and no event should be sent.
func (a *Assigner) Assign(ctx context.Context, e *store.Experiment, visitorID string) (variantID string, ok bool, err error) {
	if e.Status != store.StatusRunning || len(e.Variants) == 0 {
		return "", false, nil
	}

	prior, found, err := a.store.Get(ctx, e.ID, visitorID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read assignment: %w", err)
	}
	// A prior assignment naming a removed variant is stale and redrawn.
	if found && e.HasVariant(prior) {
		return prior, true, nil
	}

	variantID = Pick(e.Variants, a.source.IntN(100))
	if err := a.store.Set(ctx, e.ID, visitorID, variantID); err != nil {
		return "", false, fmt.Errorf("failed to store assignment: %w", err)
	}
	return variantID, true, nil
}

// Reset forgets the visitor's assignment so the next Assign draws again.
func (a *Assigner) Reset(ctx context.Context, experimentID int64, visitorID string) error {
	if err := a.store.Delete(ctx, experimentID, visitorID); err != nil {
		return fmt.Errorf("failed to reset assignment: %w", err)
	}
	return nil
}

// Pick walks variants in order, accumulating weights, and returns the first
// whose cumulative weight exceeds r (0 <= r < 100). If the weights never get
// past r, because they sum to less than 100, the last variant is returned.
// Negative weights count as zero. variants must not be empty.
func Pick(variants []store.Variant, r int) string {
	cumulative := 0
	for _, v := range variants {
		if v.Weight > 0 {
			cumulative += v.Weight
		}
		if cumulative > r {
			return v.ID
		}
	}
	return variants[len(variants)-1].ID
}
