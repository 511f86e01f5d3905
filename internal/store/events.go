package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// markBatchSize bounds the number of ids bound into one UPDATE.
const markBatchSize = 500

const eventColumns = `id, experiment_id, variant_id, visitor_id, session_id, event_type, page_context, goal_type, goal_detail, processed, created_at`

func (c conn) AppendEvent(ctx context.Context, e *RawEvent) (bool, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	// Session dedup happens through the partial unique index; events without
	// a session id never conflict.
	var id int64
	err := c.queryRow(ctx,
		`INSERT INTO raw_events (experiment_id, variant_id, visitor_id, session_id, event_type, page_context, goal_type, goal_detail, processed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		e.ExperimentID, e.VariantID, e.VisitorID, nullableString(e.SessionID), string(e.EventType),
		e.PageContext, nullableString(e.GoalType), nullableString(string(e.GoalDetail)), createdAt.Unix(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}

	e.ID = id
	e.Processed = false
	e.CreatedAt = time.Unix(createdAt.Unix(), 0)
	return true, nil
}

// QueryUnprocessed returns unprocessed events with since <= created_at < until.
func (c conn) QueryUnprocessed(ctx context.Context, since, until time.Time) ([]*RawEvent, error) {
	rows, err := c.query(ctx,
		`SELECT `+eventColumns+`
		 FROM raw_events
		 WHERE processed = 0 AND created_at >= ? AND created_at < ?
		 ORDER BY id`,
		since.Unix(), until.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (c conn) QueryUnprocessedPage(ctx context.Context, since, until time.Time, afterID int64, limit int) ([]*RawEvent, error) {
	rows, err := c.query(ctx,
		`SELECT `+eventColumns+`
		 FROM raw_events
		 WHERE processed = 0 AND created_at >= ? AND created_at < ? AND id > ?
		 ORDER BY id
		 LIMIT ?`,
		since.Unix(), until.Unix(), afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkProcessed flips the processed flag of ids. Every id must still be
// unprocessed, otherwise ErrConcurrentRun is returned.
func (c conn) MarkProcessed(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += markBatchSize {
		end := start + markBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		result, err := c.exec(ctx,
			`UPDATE raw_events SET processed = 1
			 WHERE processed = 0 AND id IN (`+placeholders(len(batch))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to mark events processed: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected != int64(len(batch)) {
			return fmt.Errorf("marked %d of %d events: %w", rowsAffected, len(batch), ErrConcurrentRun)
		}
	}
	return nil
}

func (c conn) ListEvents(ctx context.Context, experimentID int64) ([]*RawEvent, error) {
	rows, err := c.query(ctx,
		`SELECT `+eventColumns+`
		 FROM raw_events WHERE experiment_id = ? ORDER BY created_at, id`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*RawEvent, error) {
	var events []*RawEvent
	for rows.Next() {
		var e RawEvent
		var sessionID, goalType, goalDetail sql.NullString
		var eventType string
		var processed, createdAt int64

		if err := rows.Scan(&e.ID, &e.ExperimentID, &e.VariantID, &e.VisitorID, &sessionID, &eventType,
			&e.PageContext, &goalType, &goalDetail, &processed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.SessionID = sessionID.String
		e.EventType = EventType(eventType)
		e.GoalType = goalType.String
		if goalDetail.Valid {
			e.GoalDetail = []byte(goalDetail.String)
		}
		e.Processed = processed != 0
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}
