// Package lifecycle ends running experiments whose duration or auto-end
// condition has been met.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/headline-goat/variant-goat/internal/experiment"
	"github.com/headline-goat/variant-goat/internal/logging"
	"github.com/headline-goat/variant-goat/internal/store"
)

type Reason string

const (
	ReasonDurationElapsed Reason = "duration_elapsed"
	ReasonEndDateReached  Reason = "end_date_reached"
	ReasonMinConversions  Reason = "min_conversions_reached"
	ReasonMinViews        Reason = "min_views_reached"
)

// Termination records one experiment moved to completed.
type Termination struct {
	ExperimentID int64     `json:"experimentId"`
	Name         string    `json:"name"`
	Reason       Reason    `json:"reason"`
	CompletedAt  time.Time `json:"completedAt"`
}

// Notifier is told about each completed experiment after the status change
// has been committed.
type Notifier interface {
	NotifyCompleted(ctx context.Context, t Termination) error
}

type Option func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

type Evaluator struct {
	experiments experiment.Gateway
	stats       store.StatStore
	notifier    Notifier
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
}

// NewEvaluator returns an Evaluator. End dates are read as calendar days in
// loc. notifier may be nil.
func NewEvaluator(experiments experiment.Gateway, stats store.StatStore, notifier Notifier, loc *time.Location, opts ...Option) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	e := &Evaluator{
		experiments: experiments,
		stats:       stats,
		notifier:    notifier,
		loc:         loc,
		now:         time.Now,
		logger:      logging.New("lifecycle"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks every running experiment and completes those whose end
// condition holds. A store error aborts the pass; experiments already
// completed stay completed and the rest are retried on the next pass.
func (ev *Evaluator) Evaluate(ctx context.Context) ([]Termination, error) {
	running, err := ev.experiments.ListByStatus(ctx, store.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running experiments: %w", err)
	}

	var done []Termination
	for _, e := range running {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		now := ev.now()
		reason, ok, err := ev.check(ctx, e, now)
		if err != nil {
			return done, fmt.Errorf("failed to evaluate experiment %d: %w", e.ID, err)
		}
		if !ok {
			continue
		}

		err = ev.experiments.Transition(ctx, e.ID, store.StatusCompleted)
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, experiment.ErrInvalidTransition) {
			// Someone else moved it since it was listed.
			ev.logger.Info("experiment no longer running, skipping", "experiment_id", e.ID)
			continue
		}
		if err != nil {
			return done, fmt.Errorf("failed to complete experiment %d: %w", e.ID, err)
		}

		t := Termination{ExperimentID: e.ID, Name: e.Name, Reason: reason, CompletedAt: now}
		done = append(done, t)
		ev.logger.Info("experiment completed", "experiment_id", e.ID, "name", e.Name, "reason", reason)

		if ev.notifier != nil {
			if err := ev.notifier.NotifyCompleted(ctx, t); err != nil {
				ev.logger.Warn("failed to send completion notification", "experiment_id", e.ID, "error", err)
			}
		}
	}
	return done, nil
}

func (ev *Evaluator) check(ctx context.Context, e *store.Experiment, now time.Time) (Reason, bool, error) {
	if reason, ok := DurationReached(e, now, ev.loc); ok {
		return reason, true, nil
	}

	cond := e.Lifecycle.AutoEndCondition
	if cond == store.AutoEndNone || cond == "" || e.Lifecycle.AutoEndValue <= 0 {
		return "", false, nil
	}
	totals, err := ev.stats.VariantTotals(ctx, e.ID, "", "")
	if err != nil {
		return "", false, err
	}
	reason, ok := AutoEndReached(e, totals)
	return reason, ok, nil
}

// DurationReached applies the experiment's duration rule at now. Fixed-day
// durations count from activation, or creation for experiments that were
// never stamped. End dates end at 23:59:59 of that day in loc.
func DurationReached(e *store.Experiment, now time.Time, loc *time.Location) (Reason, bool) {
	lc := e.Lifecycle
	switch lc.DurationType {
	case store.DurationFixedDays:
		if lc.DurationDays <= 0 {
			return "", false
		}
		start := e.CreatedAt
		if e.ActivatedAt != nil {
			start = *e.ActivatedAt
		}
		if start.IsZero() {
			return "", false
		}
		if now.Sub(start) >= time.Duration(lc.DurationDays)*24*time.Hour {
			return ReasonDurationElapsed, true
		}
	case store.DurationEndDate:
		if lc.EndDate == "" {
			return "", false
		}
		day, err := time.ParseInLocation(store.DateLayout, lc.EndDate, loc)
		if err != nil {
			return "", false
		}
		endOfDay := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, loc)
		if !now.Before(endOfDay) {
			return ReasonEndDateReached, true
		}
	}
	return "", false
}

// AutoEndReached reports whether any of e's variants has reached the
// auto-end threshold in totals. Variants without totals count as zero.
func AutoEndReached(e *store.Experiment, totals []store.VariantTotals) (Reason, bool) {
	threshold := e.Lifecycle.AutoEndValue
	if threshold <= 0 {
		return "", false
	}

	byVariant := make(map[string]store.VariantTotals, len(totals))
	for _, t := range totals {
		byVariant[t.VariantID] = t
	}

	for _, v := range e.Variants {
		t := byVariant[v.ID]
		switch e.Lifecycle.AutoEndCondition {
		case store.AutoEndMinConversions:
			if t.Conversions >= threshold {
				return ReasonMinConversions, true
			}
		case store.AutoEndMinViews:
			if t.Impressions >= threshold {
				return ReasonMinViews, true
			}
		}
	}
	return "", false
}
