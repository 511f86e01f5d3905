package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/variant-goat/internal/server"
	"github.com/headline-goat/variant-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	var (
		daily bool
		from  string
		to    string
	)

	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show aggregated results for an experiment",
		Long: `Show impressions, conversions and conversion rate per variant,
optionally limited to a date range. Only aggregated events are counted;
run 'vgoat aggregate' to fold in recent activity.

Examples:
  vgoat stats 3
  vgoat stats 3 --from 2026-05-01 --to 2026-05-31 --daily`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseExperimentID(args[0])
			if err != nil {
				return err
			}
			for _, d := range []string{from, to} {
				if d == "" {
					continue
				}
				if _, err := time.Parse(store.DateLayout, d); err != nil {
					return fmt.Errorf("invalid date %q: use YYYY-MM-DD", d)
				}
			}

			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				e, err := s.GetExperiment(ctx, id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("experiment %d not found", id)
				}
				if err != nil {
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				totals, err := s.VariantTotals(ctx, id, from, to)
				if err != nil {
					return err
				}

				// Print header
				fmt.Fprintf(out, "EXPERIMENT: %s (%d)\n", e.Name, e.ID)
				fmt.Fprintf(out, "STATUS: %s\n", e.Status)
				if e.Goal.Type != "" {
					fmt.Fprintf(out, "GOAL: %s\n", e.Goal.Type)
				}
				if e.ActivatedAt != nil {
					fmt.Fprintf(out, "ACTIVATED: %s\n", e.ActivatedAt.Format(store.DateLayout))
				}
				fmt.Fprintln(out)

				fmt.Fprintln(out, "VARIANT           WEIGHT  IMPRESSIONS  CONVERSIONS  RATE")
				fmt.Fprintln(out, strings.Repeat("─", 60))

				for _, v := range server.BuildVariantReports(e, totals) {
					// Truncate name if too long
					name := v.Name
					if name == "" {
						name = v.VariantID
					}
					if len(name) > 16 {
						name = name[:13] + "..."
					}

					fmt.Fprintf(out, "%-16s  %-6d  %-11d  %-11d  %s\n",
						name,
						v.Weight,
						v.Impressions,
						v.Conversions,
						formatPercent(v.ConversionRate),
					)
				}

				if !daily {
					return nil
				}

				rows, err := s.DailyStats(ctx, id, from, to)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, "DATE        VARIANT           IMPRESSIONS  CONVERSIONS")
				fmt.Fprintln(out, strings.Repeat("─", 60))
				for _, r := range rows {
					fmt.Fprintf(out, "%-10s  %-16s  %-11d  %d\n", r.Date, r.VariantID, r.Impressions, r.Conversions)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&daily, "daily", false, "also print per-day rows")
	cmd.Flags().StringVar(&from, "from", "", "first day to include, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day to include, YYYY-MM-DD")
	return cmd
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
