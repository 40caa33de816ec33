package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskdesk/domain"
)

// IdempotencyTTL is how long a create key is remembered.
const IdempotencyTTL = 24 * time.Hour

// CreateOnce is Create guarded by a client supplied key. A key seen within
// IdempotencyTTL returns the task created for it and replayed is true; if
// that task has since been deleted the result is a NotFoundError. An empty
// key behaves like Create.
func (s *Store) CreateOnce(ctx context.Context, key string, p domain.TaskPatch) (task domain.Task, replayed bool, err error) {
	if key == "" {
		task, err = s.Create(ctx, p)
		return task, false, err
	}
	t, err := domain.NewTask(p)
	if err != nil {
		return domain.Task{}, false, err
	}
	now := domain.NormalizeTime(s.now())
	t.CreatedAt = now

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		replayed = false
		cutoff := now.Add(-IdempotencyTTL).Format(time.RFC3339)
		if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?;`, cutoff); err != nil {
			return fmt.Errorf("expire idempotency keys: %w", err)
		}

		var taskID int64
		err := tx.QueryRowContext(ctx, `SELECT task_id FROM idempotency_keys WHERE key = ?;`, key).Scan(&taskID)
		switch {
		case err == nil:
			replayed = true
			task, err = s.getTask(ctx, tx, taskID)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		if task, err = s.insertTask(ctx, tx, t); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO idempotency_keys (key, task_id, created_at) VALUES (?, ?, ?);`,
			key, task.ID, now.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record idempotency key: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, false, err
	}
	if replayed {
		s.log.WithField("task_id", task.ID).Info("replayed create for known idempotency key")
	}
	return task, replayed, nil
}
