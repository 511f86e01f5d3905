package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/variant-goat/internal/experiment"
	"github.com/headline-goat/variant-goat/internal/store"
)

func init() {
	experimentCmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Manage experiment definitions",
	}
	experimentCmd.AddCommand(newImportCmd(), newListCmd(), newSetStatusCmd())
	rootCmd.AddCommand(experimentCmd)
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create or replace experiments from a YAML file",
		Long: `Create or replace experiments from a YAML definition file.
Entries with an id replace the stored definition; entries without one
are created.

Example file:
  experiments:
    - name: Hero headline
      status: running
      variants:
        - {id: a, name: Ship Faster, weight: 50}
        - {id: b, name: Build Better, weight: 50}
      goal: {type: click}
      lifecycle: {duration_type: fixed_days, duration_days: 14}

Example:
  vgoat experiment import experiments.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open definition file: %w", err)
			}
			defer f.Close()

			experiments, err := experiment.DecodeYAML(f)
			if err != nil {
				return err
			}

			return withStore(func(s *store.SQLStore) error {
				registry := experiment.NewRegistry(s)
				out := cmd.OutOrStdout()

				for _, e := range experiments {
					if e.Status == store.StatusRunning && e.ActivatedAt == nil {
						now := timeNow()
						e.ActivatedAt = &now
					}
					if err := registry.Save(cmd.Context(), e); err != nil {
						return fmt.Errorf("failed to import %q: %w", e.Name, err)
					}

					fmt.Fprintf(out, "Saved experiment %d '%s' (%s) with %d variants\n", e.ID, e.Name, e.Status, len(e.Variants))
					for _, w := range experiment.Warnings(e) {
						fmt.Fprintf(out, "  warning: %s\n", w)
					}
				}
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		Long:  `List experiments with their status and all-time statistics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter store.Status
			if status != "" {
				parsed, err := experiment.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}

			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()

				experiments, err := s.ListExperiments(ctx, filter)
				if err != nil {
					return err
				}

				if len(experiments) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No experiments yet.")
					fmt.Fprintln(cmd.OutOrStdout())
					fmt.Fprintln(cmd.OutOrStdout(), "Create some with: vgoat experiment import <file>")
					return nil
				}

				// Print table
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVARIANTS\tIMPRESSIONS\tCONVERSIONS\tCREATED")

				for _, e := range experiments {
					totals, err := s.VariantTotals(ctx, e.ID, "", "")
					if err != nil {
						return fmt.Errorf("failed to get stats for experiment %d: %w", e.ID, err)
					}

					var impressions, conversions int64
					for _, t := range totals {
						impressions += t.Impressions
						conversions += t.Conversions
					}

					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
						e.ID,
						e.Name,
						strings.ToUpper(string(e.Status)),
						len(e.Variants),
						formatNumber(impressions),
						formatNumber(conversions),
						e.CreatedAt.Format(store.DateLayout),
					)
				}

				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list experiments in this status")
	return cmd
}

func newSetStatusCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move an experiment to another status",
		Long: `Move an experiment through its lifecycle:

  draft -> running | paused
  paused -> running | draft | completed
  running -> paused | completed
  completed -> archived

Example:
  vgoat experiment set-status 3 running`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseExperimentID(args[0])
			if err != nil {
				return err
			}
			to, err := experiment.ParseStatus(args[1])
			if err != nil {
				return err
			}

			return withStore(func(s *store.SQLStore) error {
				ctx := cmd.Context()
				registry := experiment.NewRegistry(s)

				e, err := registry.Get(ctx, id)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("experiment %d not found", id)
				}
				if err != nil {
					return err
				}
				if !experiment.CanTransition(e.Status, to) {
					return fmt.Errorf("cannot move experiment from %s to %s", e.Status, to)
				}

				if !yes {
					ok, err := confirm(fmt.Sprintf("Move '%s' from %s to %s", e.Name, e.Status, to))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}

				if err := transition(ctx, registry, id, to); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment %d '%s' is now %s\n", id, e.Name, to)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func transition(ctx context.Context, registry *experiment.Registry, id int64, to store.Status) error {
	err := registry.Transition(ctx, id, to)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("experiment %d changed status concurrently, try again", id)
	}
	if err != nil {
		return fmt.Errorf("failed to change status: %w", err)
	}
	return nil
}

func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			os.Exit(0)
		}
		return false, err
	}
	return true, nil
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
