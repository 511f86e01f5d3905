package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/variant-goat/internal/store"
)

var timeNow = time.Now

func init() {
	rootCmd.AddCommand(newAggregateCmd())
	rootCmd.AddCommand(newEvaluateCmd())
}

func newAggregateCmd() *cobra.Command {
	var date string
	var evaluate bool

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Roll unprocessed events into daily stats",
		Long: `Aggregate unprocessed raw events into per-variant daily counters.
Without --date every event created before today is folded in, including
days an earlier run missed. Safe to re-run: events already folded in are
skipped.

Examples:
  vgoat aggregate
  vgoat aggregate --date 2026-05-10 --evaluate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				job := newAggregateJob(s)
				out := cmd.OutOrStdout()

				if date != "" {
					summary, err := job.RunForDay(cmd.Context(), date)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Aggregated %d events into %d daily stats for %s\n",
						summary.Events, summary.Stats, date)
				} else {
					summary, err := job.RunBacklog(cmd.Context(), timeNow())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Aggregated %d events into %d daily stats before %s\n",
						summary.Events, summary.Stats, summary.Until.Format(store.DateLayout))
				}

				if !evaluate {
					return nil
				}
				return runEvaluate(cmd, s)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "only aggregate this day, YYYY-MM-DD (default all days before today)")
	cmd.Flags().BoolVar(&evaluate, "evaluate", false, "run the lifecycle evaluator afterwards")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Complete running experiments whose end condition is met",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLStore) error {
				return runEvaluate(cmd, s)
			})
		},
	}
}

func runEvaluate(cmd *cobra.Command, s *store.SQLStore) error {
	done, err := newEvaluator(s).Evaluate(cmd.Context())
	out := cmd.OutOrStdout()
	for _, t := range done {
		fmt.Fprintf(out, "Completed experiment %d (%s): %s\n", t.ExperimentID, t.Name, t.Reason)
	}
	if err != nil {
		return err
	}
	if len(done) == 0 {
		fmt.Fprintln(out, "No experiments reached their end condition.")
	}
	return nil
}
