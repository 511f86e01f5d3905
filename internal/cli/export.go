package cli

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/headline-goat/variant-goat/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export raw event data",
	Long: `Export the raw events of an experiment in CSV or JSON format.

Examples:
  vgoat export 3 --format csv > hero-data.csv
  vgoat export 3 --format json > hero-data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := parseExperimentID(args[0])
	if err != nil {
		return err
	}
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLStore) error {
		ctx := cmd.Context()

		// Verify experiment exists
		if _, err := s.GetExperiment(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment %d not found", id)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		events, err := s.ListEvents(ctx, id)
		if err != nil {
			return err
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), events)
		}
		return exportJSON(cmd.OutOrStdout(), events)
	})
}

func exportCSV(out io.Writer, events []*store.RawEvent) error {
	w := csv.NewWriter(out)

	// Write header
	header := []string{"timestamp", "variant_id", "event_type", "visitor_id", "session_id", "page_context", "goal_type", "goal_detail", "processed"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.VariantID,
			string(e.EventType),
			e.VisitorID,
			e.SessionID,
			e.PageContext,
			e.GoalType,
			string(e.GoalDetail),
			strconv.FormatBool(e.Processed),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Events []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp   int64           `json:"timestamp"`
	VariantID   string          `json:"variant_id"`
	EventType   string          `json:"event_type"`
	VisitorID   string          `json:"visitor_id"`
	SessionID   string          `json:"session_id,omitempty"`
	PageContext string          `json:"page_context,omitempty"`
	GoalType    string          `json:"goal_type,omitempty"`
	GoalDetail  json.RawMessage `json:"goal_detail,omitempty"`
	Processed   bool            `json:"processed"`
}

func exportJSON(out io.Writer, events []*store.RawEvent) error {
	export := jsonExport{
		Events: make([]jsonEvent, len(events)),
	}

	for i, e := range events {
		export.Events[i] = jsonEvent{
			Timestamp:   e.CreatedAt.Unix(),
			VariantID:   e.VariantID,
			EventType:   string(e.EventType),
			VisitorID:   e.VisitorID,
			SessionID:   e.SessionID,
			PageContext: e.PageContext,
			GoalType:    e.GoalType,
			GoalDetail:  e.GoalDetail,
			Processed:   e.Processed,
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
