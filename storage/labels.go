package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskdesk/domain"
)

// CreateLabel inserts a label. A label with the same name is returned as is.
func (s *Store) CreateLabel(ctx context.Context, name string, color *string) (domain.Label, error) {
	l, err := domain.NewLabel(name, color)
	if err != nil {
		return domain.Label{}, err
	}
	var out domain.Label
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO labels (name, color) VALUES (?, ?) ON CONFLICT (name) DO NOTHING;`,
			l.Name, l.Color); err != nil {
			return fmt.Errorf("insert label: %w", err)
		}
		row := tx.QueryRowContext(ctx, `SELECT id, name, color FROM labels WHERE name = ?;`, l.Name)
		out, err = scanLabel(row)
		return err
	})
	if err != nil {
		return domain.Label{}, err
	}
	return out, nil
}

// ListLabels returns all labels ordered by id.
func (s *Store) ListLabels(ctx context.Context) ([]domain.Label, error) {
	var out []domain.Label
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = queryLabels(ctx, tx, `SELECT id, name, color FROM labels ORDER BY id;`)
		return err
	})
	return out, err
}

// DeleteLabel removes a label and detaches it from every task.
func (s *Store) DeleteLabel(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_labels WHERE label_id = ?;`, id); err != nil {
			return fmt.Errorf("detach label %d: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete label %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("delete label %d: %w", id, err)
		} else if n == 0 {
			return domain.LabelNotFound(id)
		}
		return nil
	})
}

// TaskLabels lists the labels attached to a task.
func (s *Store) TaskLabels(ctx context.Context, taskID int64) ([]domain.Label, error) {
	var out []domain.Label
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := taskExists(ctx, tx, taskID); err != nil {
			return err
		}
		var err error
		out, err = labelsForTask(ctx, tx, taskID)
		return err
	})
	return out, err
}

// SetTaskLabels replaces the label set of a task.
func (s *Store) SetTaskLabels(ctx context.Context, taskID int64, labelIDs []int64) ([]domain.Label, error) {
	var out []domain.Label
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := taskExists(ctx, tx, taskID); err != nil {
			return err
		}
		for _, id := range labelIDs {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM labels WHERE id = ?;`, id).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.LabelNotFound(id)
			}
			if err != nil {
				return fmt.Errorf("lookup label %d: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id = ?;`, taskID); err != nil {
			return fmt.Errorf("clear task %d labels: %w", taskID, err)
		}
		for _, id := range labelIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO task_labels (task_id, label_id) VALUES (?, ?);`, taskID, id); err != nil {
				return fmt.Errorf("attach label %d: %w", id, err)
			}
		}
		var err error
		out, err = labelsForTask(ctx, tx, taskID)
		return err
	})
	return out, err
}

func taskExists(ctx context.Context, tx *sql.Tx, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("lookup task %d: %w", id, err)
	}
	return nil
}

func labelsForTask(ctx context.Context, tx *sql.Tx, taskID int64) ([]domain.Label, error) {
	return queryLabels(ctx, tx, `
		SELECT l.id, l.name, l.color FROM labels l
		JOIN task_labels tl ON l.id = tl.label_id
		WHERE tl.task_id = ?
		ORDER BY l.id;`, taskID)
}

func queryLabels(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.Label, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()
	out := []domain.Label{}
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLabel(r rowScanner) (domain.Label, error) {
	var l domain.Label
	var color sql.NullString
	if err := r.Scan(&l.ID, &l.Name, &color); err != nil {
		return domain.Label{}, fmt.Errorf("scan label: %w", err)
	}
	if color.Valid {
		l.Color = &color.String
	}
	return l, nil
}
