package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/variant-goat/internal/config"
	"github.com/headline-goat/variant-goat/internal/logging"
)

var (
	dbPath   string
	dbDriver string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vgoat",
	Short: "Variant Goat - self-hosted A/B testing for page variants",
	Long: `Variant Goat assigns visitors to weighted content variants, records
view and conversion events, rolls them into daily statistics and ends
experiments automatically when their duration or threshold is reached.

Single Go binary, SQLite by default, PostgreSQL optional.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags override VG_DB_PATH and VG_DB_DRIVER
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path or DSN (default from VG_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "database driver: sqlite or postgres (default from VG_DB_DRIVER)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid VG_LOG_LEVEL: %w", err)
	}
	if err := logging.Init(cmd.ErrOrStderr(), level, c.LogFormat); err != nil {
		return fmt.Errorf("invalid VG_LOG_FORMAT: %w", err)
	}

	if !cmd.Flags().Changed("db") {
		dbPath = c.DBPath
	}
	if !cmd.Flags().Changed("driver") {
		dbDriver = c.DBDriver
	}
	cfg = c
	return nil
}

func location() *time.Location {
	// Validated by config.Load
	loc, err := cfg.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}
