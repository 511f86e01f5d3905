package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStatusConflict = errors.New("status changed concurrently")
	ErrConcurrentRun  = errors.New("events already processed by a concurrent run")
)

// EventStore is the append-only raw event log.
type EventStore interface {
	// AppendEvent inserts e with processed = false. It reports false when the
	// event duplicates one already recorded for the same session.
	AppendEvent(ctx context.Context, e *RawEvent) (bool, error)
	QueryUnprocessed(ctx context.Context, since, until time.Time) ([]*RawEvent, error)
	MarkProcessed(ctx context.Context, ids []int64) error
	ListEvents(ctx context.Context, experimentID int64) ([]*RawEvent, error)
}

// AggregationTx is the unit of work of one aggregation run. Counter updates
// and processed flags written through it commit or roll back together.
type AggregationTx interface {
	// QueryUnprocessedPage returns up to limit unprocessed events with
	// since <= created_at < until and id > afterID, ordered by id.
	QueryUnprocessedPage(ctx context.Context, since, until time.Time, afterID int64, limit int) ([]*RawEvent, error)
	// AddToStat adds to the counters of key, inserting the row if absent.
	AddToStat(ctx context.Context, key StatKey, impressions, conversions int64) error
	MarkProcessed(ctx context.Context, ids []int64) error
}

// StatStore reads and writes aggregated per-day counters.
type StatStore interface {
	Aggregate(ctx context.Context, fn func(tx AggregationTx) error) error
	VariantTotals(ctx context.Context, experimentID int64, from, to string) ([]VariantTotals, error)
	DailyStats(ctx context.Context, experimentID int64, from, to string) ([]AggregatedStat, error)
}

// ExperimentStore persists experiment definitions.
type ExperimentStore interface {
	SaveExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, id int64) (*Experiment, error)
	ListExperiments(ctx context.Context, status Status) ([]*Experiment, error)
	// UpdateStatus moves id from one status to another. It returns
	// ErrStatusConflict when the current status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
}

// Store defines the full storage surface.
type Store interface {
	EventStore
	StatStore
	ExperimentStore

	Close() error
}
