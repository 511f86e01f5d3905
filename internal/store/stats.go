package store

import (
	"context"
	"fmt"
)

// AddToStat is an atomic upsert-add; there is no read-then-write step that
// concurrent writers could interleave with.
func (c conn) AddToStat(ctx context.Context, key StatKey, impressions, conversions int64) error {
	_, err := c.exec(ctx,
		`INSERT INTO aggregated_stats (experiment_id, variant_id, stat_date, impressions, conversions)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (experiment_id, variant_id, stat_date) DO UPDATE SET
		     impressions = aggregated_stats.impressions + excluded.impressions,
		     conversions = aggregated_stats.conversions + excluded.conversions`,
		key.ExperimentID, key.VariantID, key.Date, impressions, conversions,
	)
	if err != nil {
		return fmt.Errorf("failed to add to stat %d/%s/%s: %w", key.ExperimentID, key.VariantID, key.Date, err)
	}
	return nil
}

// VariantTotals sums counters per variant over [from, to]. Empty bounds are
// open.
func (c conn) VariantTotals(ctx context.Context, experimentID int64, from, to string) ([]VariantTotals, error) {
	where, args := dateRange(experimentID, from, to)
	rows, err := c.query(ctx,
		`SELECT variant_id, COALESCE(SUM(impressions), 0), COALESCE(SUM(conversions), 0)
		 FROM aggregated_stats
		 WHERE `+where+`
		 GROUP BY variant_id
		 ORDER BY variant_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant totals: %w", err)
	}
	defer rows.Close()

	var totals []VariantTotals
	for rows.Next() {
		var t VariantTotals
		if err := rows.Scan(&t.VariantID, &t.Impressions, &t.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}
	return totals, nil
}

func (c conn) DailyStats(ctx context.Context, experimentID int64, from, to string) ([]AggregatedStat, error) {
	where, args := dateRange(experimentID, from, to)
	rows, err := c.query(ctx,
		`SELECT experiment_id, variant_id, stat_date, impressions, conversions
		 FROM aggregated_stats
		 WHERE `+where+`
		 ORDER BY stat_date, variant_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	var stats []AggregatedStat
	for rows.Next() {
		var s AggregatedStat
		if err := rows.Scan(&s.ExperimentID, &s.VariantID, &s.Date, &s.Impressions, &s.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return stats, nil
}

func dateRange(experimentID int64, from, to string) (string, []any) {
	where := "experiment_id = ?"
	args := []any{experimentID}
	if from != "" {
		where += " AND stat_date >= ?"
		args = append(args, from)
	}
	if to != "" {
		where += " AND stat_date <= ?"
		args = append(args, to)
	}
	return where, args
}
