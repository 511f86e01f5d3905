package experiment

import (
	"errors"
	"fmt"

	"github.com/headline-goat/variant-goat/internal/store"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the experiment state machine. Only draft, paused and
// running move back and forth; everything else is one-directional.
var transitions = map[store.Status][]store.Status{
	store.StatusDraft:     {store.StatusRunning, store.StatusPaused},
	store.StatusPaused:    {store.StatusRunning, store.StatusDraft, store.StatusCompleted},
	store.StatusRunning:   {store.StatusPaused, store.StatusCompleted},
	store.StatusCompleted: {store.StatusArchived},
	store.StatusArchived:  nil,
}

func CanTransition(from, to store.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to store.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ParseStatus converts a user-supplied status name.
func ParseStatus(s string) (store.Status, error) {
	status := store.Status(s)
	if !validStatus(status) {
		return "", fmt.Errorf("unknown status %q (want draft, running, paused, completed or archived)", s)
	}
	return status, nil
}
