package cli

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/headline-goat/variant-goat/internal/aggregate"
	"github.com/headline-goat/variant-goat/internal/experiment"
	"github.com/headline-goat/variant-goat/internal/lifecycle"
	"github.com/headline-goat/variant-goat/internal/notify"
	"github.com/headline-goat/variant-goat/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLStore) error) error {
	s, err := store.OpenDriver(dbDriver, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// newNotifier logs every completion and also posts it to the configured
// webhook, if any.
func newNotifier() lifecycle.Notifier {
	notifiers := notify.Multi{notify.NewLog()}
	if cfg.NotifyWebhook != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.NotifyWebhook))
	}
	return notifiers
}

func newAggregateJob(s *store.SQLStore) *aggregate.Job {
	return aggregate.New(s, location())
}

func newEvaluator(s *store.SQLStore) *lifecycle.Evaluator {
	return lifecycle.NewEvaluator(experiment.NewRegistry(s), s, newNotifier(), location())
}

func parseExperimentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid experiment id %q", arg)
	}
	return id, nil
}

// tokenFilePath returns the path to the admin token file
func tokenFilePath() string {
	// Store token file alongside the database
	if dbDriver == store.DriverPostgres {
		return ".vgoat-token"
	}
	return filepath.Join(filepath.Dir(dbPath), ".vgoat-token")
}
