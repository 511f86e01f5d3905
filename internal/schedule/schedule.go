// Package schedule runs background jobs on fixed schedules until its
// context is cancelled.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/variant-goat/internal/logging"
)

type Job func(ctx context.Context) error

// NextFunc returns the first run time strictly after now.
type NextFunc func(now time.Time) time.Time

type Entry struct {
	Name string
	Job  Job
	Next NextFunc
}

// Daily runs once a day at hour:00 in loc.
func Daily(hour int, loc *time.Location) NextFunc {
	return func(now time.Time) time.Time {
		t := now.In(loc)
		next := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc)
		if !next.After(t) {
			next = time.Date(t.Year(), t.Month(), t.Day()+1, hour, 0, 0, 0, loc)
		}
		return next
	}
}

// Every runs at a fixed interval.
func Every(d time.Duration) NextFunc {
	return func(now time.Time) time.Time {
		return now.Add(d)
	}
}

type Runner struct {
	entries []Entry
	logger  *slog.Logger
}

func NewRunner(entries ...Entry) *Runner {
	return &Runner{entries: entries, logger: logging.New("schedule")}
}

// Run blocks until ctx is done. A failing job is logged and runs again at
// its next slot.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range r.entries {
		g.Go(func() error {
			r.loop(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, e Entry) {
	for {
		now := time.Now()
		next := e.Next(now)
		r.logger.Debug("job scheduled", "job", e.Name, "next", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := e.Job(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("job failed", "job", e.Name, "error", err, "duration", time.Since(start))
			continue
		}
		r.logger.Info("job finished", "job", e.Name, "duration", time.Since(start))
	}
}
