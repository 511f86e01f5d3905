package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/variant-goat/internal/schedule"
	"github.com/headline-goat/variant-goat/internal/server"
	"github.com/headline-goat/variant-goat/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background jobs",
	Long: `Start the variant-goat HTTP server.

The server provides:
  - Tracker script at /vg.js
  - Session, assignment and event endpoints
  - Admin stats API
  - Health check endpoint

It also runs the daily aggregation (VG_AGGREGATE_HOUR, local time) and
the lifecycle evaluator (every VG_EVALUATE_INTERVAL).

Example:
  vgoat serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from VG_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if !cmd.Flags().Changed("port") {
		port = cfg.Port
	}

	return withStore(func(s *store.SQLStore) error {
		srv := server.New(s, server.Options{
			Port:       port,
			TokenFile:  tokenFilePath(),
			CSRFSecret: []byte(cfg.CSRFSecret),
		})
		runner := schedule.NewRunner(scheduledJobs(s)...)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "variant-goat running on http://localhost:%d\n", port)
		fmt.Fprintf(out, "Tracker:   <script src=\"http://localhost:%d/vg.js\" defer></script>\n", port)
		fmt.Fprintf(out, "Admin API: http://localhost:%d/api/experiments?token=%s\n", port, srv.Token())
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(ctx) })
		g.Go(func() error { return runner.Run(ctx) })
		return g.Wait()
	})
}

// scheduledJobs aggregates everything left unprocessed before today and then
// evaluates once a day, and evaluates again on its own interval.
func scheduledJobs(s *store.SQLStore) []schedule.Entry {
	job := newAggregateJob(s)
	evaluator := newEvaluator(s)
	return []schedule.Entry{
		{
			Name: "aggregate",
			Next: schedule.Daily(cfg.AggregateHour, location()),
			Job: func(ctx context.Context) error {
				if _, err := job.RunBacklog(ctx, timeNow()); err != nil {
					return err
				}
				_, err := evaluator.Evaluate(ctx)
				return err
			},
		},
		{
			Name: "evaluate",
			Next: schedule.Every(cfg.EvaluateInterval),
			Job: func(ctx context.Context) error {
				_, err := evaluator.Evaluate(ctx)
				return err
			},
		},
	}
}
