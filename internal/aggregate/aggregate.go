// Package aggregate rolls unprocessed raw events into per-day, per-variant
// counters.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/headline-goat/variant-goat/internal/logging"
	"github.com/headline-goat/variant-goat/internal/store"
)

var ErrRunInProgress = errors.New("aggregation run already in progress")

const defaultBatchSize = 1000

// Summary reports what one run folded in.
type Summary struct {
	Since  time.Time
	Until  time.Time
	Events int
	Stats  int
}

type Job struct {
	stats     store.StatStore
	loc       *time.Location
	batchSize int
	logger    *slog.Logger

	// mu keeps runs in this process from overlapping. Across processes the
	// processed-row guard in MarkProcessed rolls back the loser.
	mu sync.Mutex
}

type Option func(*Job)

// WithBatchSize sets how many raw events are read and marked per page.
func WithBatchSize(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// New returns a Job that buckets events by their calendar date in loc.
func New(stats store.StatStore, loc *time.Location, opts ...Option) *Job {
	if loc == nil {
		loc = time.UTC
	}
	j := &Job{
		stats:     stats,
		loc:       loc,
		batchSize: defaultBatchSize,
		logger:    logging.New("aggregate"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run folds every unprocessed event with since <= created_at < until into
// aggregated counters and marks those events processed, all in one
// transaction. Re-running over the same window adds nothing new.
func (j *Job) Run(ctx context.Context, since, until time.Time) (Summary, error) {
	if !j.mu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer j.mu.Unlock()

	summary := Summary{Since: since, Until: until}
	start := time.Now()

	err := j.stats.Aggregate(ctx, func(tx store.AggregationTx) error {
		counts := make(map[store.StatKey]*counter)
		events := 0

		// Events are consumed one page at a time; only the per-key
		// counters are held for the whole window.
		var afterID int64
		for {
			page, err := tx.QueryUnprocessedPage(ctx, since, until, afterID, j.batchSize)
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}

			ids := j.group(counts, page)
			if err := tx.MarkProcessed(ctx, ids); err != nil {
				return err
			}
			events += len(page)
			afterID = ids[len(ids)-1]

			if len(page) < j.batchSize {
				break
			}
		}

		for _, key := range sortedKeys(counts) {
			c := counts[key]
			if err := tx.AddToStat(ctx, key, c.impressions, c.conversions); err != nil {
				return err
			}
		}

		summary.Events = events
		summary.Stats = len(counts)
		return nil
	})
	if err != nil {
		j.logger.Error("aggregation failed",
			"since", since.Format(time.RFC3339), "until", until.Format(time.RFC3339), "error", err)
		return Summary{}, fmt.Errorf("failed to aggregate events: %w", err)
	}

	j.logger.Info("aggregation complete",
		"since", since.Format(time.RFC3339),
		"until", until.Format(time.RFC3339),
		"events", summary.Events,
		"stats", summary.Stats,
		"duration", time.Since(start),
	)
	return summary, nil
}

// RunForDay aggregates the calendar day date (YYYY-MM-DD) in the job's
// time zone.
func (j *Job) RunForDay(ctx context.Context, date string) (Summary, error) {
	since, err := time.ParseInLocation(store.DateLayout, date, j.loc)
	if err != nil {
		return Summary{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return j.Run(ctx, since, since.AddDate(0, 0, 1))
}

// RunBacklog aggregates every unprocessed event created before the start of
// now's calendar day in loc, whichever day it belongs to. Days a failed or
// skipped run left behind are folded in by the next one.
func (j *Job) RunBacklog(ctx context.Context, now time.Time) (Summary, error) {
	return j.Run(ctx, time.Unix(0, 0), StartOfDay(now, j.loc))
}

// StartOfDay returns midnight of now's calendar date in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

type counter struct {
	impressions int64
	conversions int64
}

// group adds events to counts and returns their ids in order.
func (j *Job) group(counts map[store.StatKey]*counter, events []*store.RawEvent) []int64 {
	ids := make([]int64, 0, len(events))

	for _, e := range events {
		key := store.StatKey{
			ExperimentID: e.ExperimentID,
			VariantID:    e.VariantID,
			Date:         e.CreatedAt.In(j.loc).Format(store.DateLayout),
		}
		c, ok := counts[key]
		if !ok {
			c = &counter{}
			counts[key] = c
		}
		switch e.EventType {
		case store.EventView:
			c.impressions++
		case store.EventConversion:
			c.conversions++
		}
		ids = append(ids, e.ID)
	}
	return ids
}

// sortedKeys orders keys by experiment, date, then variant.
func sortedKeys(counts map[store.StatKey]*counter) []store.StatKey {
	keys := make([]store.StatKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		ka, kb := keys[a], keys[b]
		if ka.ExperimentID != kb.ExperimentID {
			return ka.ExperimentID < kb.ExperimentID
		}
		if ka.Date != kb.Date {
			return ka.Date < kb.Date
		}
		return ka.VariantID < kb.VariantID
	})
	return keys
}
