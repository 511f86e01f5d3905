// Package experiment is the typed boundary around experiment definitions.
// Definitions are validated here so the rest of the core never handles
// loosely-typed data.
package experiment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/headline-goat/variant-goat/internal/store"
)

// ValidationError lists every problem found in one definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid experiment: " + strings.Join(e.Problems, "; ")
}

// Validate checks the structural invariants of e. Weight sums other than 100
// are not errors; see Warnings.
func Validate(e *store.Experiment) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(e.Name) == "" {
		add("name is required")
	}
	if !validStatus(e.Status) {
		add("unknown status %q", e.Status)
	}

	seen := make(map[string]bool, len(e.Variants))
	for i, v := range e.Variants {
		if strings.TrimSpace(v.ID) == "" {
			add("variant %d: id is required", i)
			continue
		}
		if seen[v.ID] {
			add("variant %d: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 || v.Weight > 100 {
			add("variant %q: weight %d outside 0..100", v.ID, v.Weight)
		}
	}

	lc := e.Lifecycle
	switch lc.DurationType {
	case "", store.DurationNone:
	case store.DurationFixedDays:
		if lc.DurationDays < 0 {
			add("duration_days must not be negative")
		}
	case store.DurationEndDate:
		if lc.EndDate != "" {
			if _, err := time.Parse(store.DateLayout, lc.EndDate); err != nil {
				add("end_date %q is not YYYY-MM-DD", lc.EndDate)
			}
		}
	default:
		add("unknown duration_type %q", lc.DurationType)
	}

	switch lc.AutoEndCondition {
	case "", store.AutoEndNone, store.AutoEndMinConversions, store.AutoEndMinViews:
	default:
		add("unknown auto_end_condition %q", lc.AutoEndCondition)
	}
	if lc.AutoEndValue < 0 {
		add("auto_end_value must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Warnings reports tolerated misconfigurations.
func Warnings(e *store.Experiment) []string {
	var warnings []string
	if len(e.Variants) == 0 {
		warnings = append(warnings, "experiment has no variants; default content is rendered")
	}
	sum := 0
	for _, v := range e.Variants {
		sum += v.Weight
	}
	if len(e.Variants) > 0 && sum != 100 {
		warnings = append(warnings, fmt.Sprintf("variant weights sum to %d, not 100; the last variant absorbs the remainder", sum))
	}
	if e.Consent.Required && e.Consent.Mechanism != store.ConsentMechanismCookieKey {
		warnings = append(warnings, "consent is required but no supported mechanism is set; tracking is always denied")
	}
	return warnings
}

// IsValidationError reports whether err carries definition problems.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validStatus(s store.Status) bool {
	switch s {
	case store.StatusDraft, store.StatusRunning, store.StatusPaused, store.StatusCompleted, store.StatusArchived:
		return true
	}
	return false
}
