// Package ingest validates tracking events and appends them to the raw
// event log. It never touches aggregated counters.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/headline-goat/variant-goat/internal/assign"
	"github.com/headline-goat/variant-goat/internal/logging"
	"github.com/headline-goat/variant-goat/internal/store"
)

// ValidationError rejects a single request; nothing is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type SkipReason string

const (
	SkipConsentDenied SkipReason = "consent_denied"
	SkipInactive      SkipReason = "experiment_inactive"
)

type Event struct {
	ExperimentID int64
	VariantID    string
	VisitorID    string
	SessionID    string // Optional; same-session repeats are dropped when set
	Type         store.EventType
	PageContext  string
	GoalType     string
	GoalDetail   json.RawMessage
	OccurredAt   time.Time // Zero means now
}

// Result describes what happened to an accepted request. Skips and
// duplicates are not errors; tracking is best-effort.
type Result struct {
	Recorded  bool
	Duplicate bool
	Skipped   SkipReason
	EventID   int64
}

// Experiments resolves experiment definitions.
type Experiments interface {
	Get(ctx context.Context, id int64) (*store.Experiment, error)
}

type Service struct {
	experiments Experiments
	events      store.EventStore
	logger      *slog.Logger
}

func NewService(experiments Experiments, events store.EventStore) *Service {
	return &Service{
		experiments: experiments,
		events:      events,
		logger:      logging.New("ingest"),
	}
}

// Record validates ev, applies the consent gate for its experiment and
// appends it as an unprocessed raw event. signals carries the visitor's
// consent evidence and may be nil.
func (s *Service) Record(ctx context.Context, ev Event, signals assign.Signals) (Result, error) {
	if err := validate(&ev); err != nil {
		return Result{}, err
	}

	e, err := s.experiments.Get(ctx, ev.ExperimentID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, &ValidationError{Field: "experimentId", Message: "unknown experiment"}
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load experiment: %w", err)
	}
	if !e.HasVariant(ev.VariantID) {
		return Result{}, &ValidationError{Field: "variantId", Message: "not a variant of this experiment"}
	}
	if e.Status != store.StatusRunning {
		return Result{Skipped: SkipInactive}, nil
	}
	if !assign.ConsentGranted(e, signals) {
		return Result{Skipped: SkipConsentDenied}, nil
	}

	raw := &store.RawEvent{
		ExperimentID: ev.ExperimentID,
		VariantID:    ev.VariantID,
		VisitorID:    ev.VisitorID,
		SessionID:    ev.SessionID,
		EventType:    ev.Type,
		PageContext:  ev.PageContext,
		GoalType:     ev.GoalType,
		GoalDetail:   ev.GoalDetail,
		CreatedAt:    ev.OccurredAt,
	}
	stored, err := s.events.AppendEvent(ctx, raw)
	if err != nil {
		s.logger.Error("failed to record event",
			"experiment_id", ev.ExperimentID, "event_type", ev.Type, "error", err)
		return Result{}, fmt.Errorf("failed to record event: %w", err)
	}
	if !stored {
		return Result{Duplicate: true}, nil
	}
	return Result{Recorded: true, EventID: raw.ID}, nil
}

func validate(ev *Event) error {
	ev.VariantID = strings.TrimSpace(ev.VariantID)
	ev.VisitorID = strings.TrimSpace(ev.VisitorID)
	ev.GoalType = strings.TrimSpace(ev.GoalType)

	switch {
	case ev.ExperimentID <= 0:
		return &ValidationError{Field: "experimentId", Message: "required"}
	case ev.VariantID == "":
		return &ValidationError{Field: "variantId", Message: "required"}
	case ev.VisitorID == "":
		return &ValidationError{Field: "visitorId", Message: "required"}
	case ev.Type == "":
		return &ValidationError{Field: "eventType", Message: "required"}
	}

	switch ev.Type {
	case store.EventView:
		// Goal fields only describe conversions.
		ev.GoalType = ""
		ev.GoalDetail = nil
	case store.EventConversion:
		if ev.GoalType == "" {
			return &ValidationError{Field: "goalType", Message: "required for conversion events"}
		}
		if len(ev.GoalDetail) > 0 && !json.Valid(ev.GoalDetail) {
			return &ValidationError{Field: "goalDetail", Message: "must be valid JSON"}
		}
	default:
		return &ValidationError{Field: "eventType", Message: fmt.Sprintf("unknown event type %q", ev.Type)}
	}
	return nil
}
