package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const experimentColumns = `id, name, status, variants, goal_type, goal_config, lifecycle, consent, activated_at, created_at, updated_at`

// SaveExperiment inserts e, or replaces the definition stored under e.ID when
// it is set. ActivatedAt is owned by UpdateStatus and left untouched on replace.
func (s *SQLStore) SaveExperiment(ctx context.Context, e *Experiment) error {
	variantsJSON, err := json.Marshal(e.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	lifecycleJSON, err := json.Marshal(e.Lifecycle)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle: %w", err)
	}
	consentJSON, err := json.Marshal(e.Consent)
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}
	if e.Status == "" {
		e.Status = StatusDraft
	}

	now := time.Now().Unix()
	var activatedAt sql.NullInt64
	if e.ActivatedAt != nil {
		activatedAt = sql.NullInt64{Int64: e.ActivatedAt.Unix(), Valid: true}
	}

	if e.ID == 0 {
		err = s.queryRow(ctx,
			`INSERT INTO experiments (name, status, variants, goal_type, goal_config, lifecycle, consent, activated_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 RETURNING id`,
			e.Name, string(e.Status), string(variantsJSON), e.Goal.Type, nullableString(string(e.Goal.Config)),
			string(lifecycleJSON), string(consentJSON), activatedAt, now, now,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to insert experiment: %w", err)
		}
	} else {
		_, err = s.exec(ctx,
			`INSERT INTO experiments (id, name, status, variants, goal_type, goal_config, lifecycle, consent, activated_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     name = excluded.name,
			     status = excluded.status,
			     variants = excluded.variants,
			     goal_type = excluded.goal_type,
			     goal_config = excluded.goal_config,
			     lifecycle = excluded.lifecycle,
			     consent = excluded.consent,
			     updated_at = excluded.updated_at`,
			e.ID, e.Name, string(e.Status), string(variantsJSON), e.Goal.Type, nullableString(string(e.Goal.Config)),
			string(lifecycleJSON), string(consentJSON), activatedAt, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save experiment: %w", err)
		}
		if s.d.syncExperimentIDs != "" {
			if _, err := s.exec(ctx, s.d.syncExperimentIDs); err != nil {
				return fmt.Errorf("failed to advance experiment id sequence: %w", err)
			}
		}
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Unix(now, 0)
	}
	e.UpdatedAt = time.Unix(now, 0)
	return nil
}

func (s *SQLStore) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	rows, err := s.query(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	defer rows.Close()

	experiments, err := scanExperiments(rows)
	if err != nil {
		return nil, err
	}
	if len(experiments) == 0 {
		return nil, ErrNotFound
	}
	return experiments[0], nil
}

// ListExperiments returns experiments in the given status, or all of them
// when status is empty.
func (s *SQLStore) ListExperiments(ctx context.Context, status Status) ([]*Experiment, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.query(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY id`)
	} else {
		rows, err = s.query(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE status = ? ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	return scanExperiments(rows)
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	now := time.Now().Unix()

	var result sql.Result
	var err error

	if to == StatusRunning {
		result, err = s.exec(ctx,
			`UPDATE experiments SET status = ?, activated_at = COALESCE(activated_at, ?), updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), now, now, id, string(from),
		)
	} else {
		result, err = s.exec(ctx,
			`UPDATE experiments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), now, id, string(from),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update experiment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := s.GetExperiment(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

func scanExperiments(rows *sql.Rows) ([]*Experiment, error) {
	var experiments []*Experiment
	for rows.Next() {
		var e Experiment
		var status, variantsJSON, lifecycleJSON, consentJSON string
		var goalConfig sql.NullString
		var activatedAt sql.NullInt64
		var createdAt, updatedAt int64

		if err := rows.Scan(&e.ID, &e.Name, &status, &variantsJSON, &e.Goal.Type, &goalConfig,
			&lifecycleJSON, &consentJSON, &activatedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}

		e.Status = Status(status)
		if err := json.Unmarshal([]byte(variantsJSON), &e.Variants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
		}
		if err := json.Unmarshal([]byte(lifecycleJSON), &e.Lifecycle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lifecycle: %w", err)
		}
		if err := json.Unmarshal([]byte(consentJSON), &e.Consent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal consent: %w", err)
		}
		if goalConfig.Valid && goalConfig.String != "" {
			e.Goal.Config = json.RawMessage(goalConfig.String)
		}
		if activatedAt.Valid {
			t := time.Unix(activatedAt.Int64, 0)
			e.ActivatedAt = &t
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		e.UpdatedAt = time.Unix(updatedAt, 0)

		experiments = append(experiments, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read experiments: %w", err)
	}
	return experiments, nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
