package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskdesk/domain"
)

const taskColumns = `id, title, completed, deadline, category, priority, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Create validates p as a new task, inserts it and returns the stored row.
func (s *Store) Create(ctx context.Context, p domain.TaskPatch) (domain.Task, error) {
	t, err := domain.NewTask(p)
	if err != nil {
		return domain.Task{}, err
	}
	t.CreatedAt = domain.NormalizeTime(s.now())

	var out domain.Task
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		out, err = s.insertTask(ctx, tx, t)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

func (s *Store) insertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (title, completed, deadline, category, priority, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);`,
		t.Title, t.Completed, formatTime(t.Deadline), t.Category, t.Priority, t.Notes, t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task id: %w", err)
	}
	return s.getTask(ctx, tx, id)
}

// List returns every task ordered by id.
func (s *Store) List(ctx context.Context) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tasks = tasks[:0]
		rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id;`)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := s.scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// Get returns a single task or a NotFoundError.
func (s *Store) Get(ctx context.Context, id int64) (domain.Task, error) {
	var out domain.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.getTask(ctx, tx, id)
		return err
	})
	return out, err
}

// Update applies p to the task with the given id and returns the new state.
// Fields not supplied in p are preserved.
func (s *Store) Update(ctx context.Context, id int64, p domain.TaskPatch) (domain.Task, error) {
	var out domain.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Empty() {
			out = current
			return nil
		}
		p.Apply(&current)
		if err := current.Validate(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, completed = ?, deadline = ?, category = ?, priority = ?, notes = ?
			WHERE id = ?;`,
			current.Title, current.Completed, formatTime(current.Deadline), current.Category, current.Priority, current.Notes, id)
		if err != nil {
			return fmt.Errorf("update task %d: %w", id, err)
		}
		out, err = s.getTask(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

// Delete removes the task and its label links. Deleting a missing id is a
// NotFoundError, including a second delete of the same id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id = ?;`, id); err != nil {
			return fmt.Errorf("delete task %d labels: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete task %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete task %d: %w", id, err)
		}
		if n == 0 {
			return domain.TaskNotFound(id)
		}
		return nil
	})
}

func (s *Store) getTask(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	return t, err
}

func (s *Store) scanTask(r rowScanner) (domain.Task, error) {
	var t domain.Task
	var completed sql.NullBool
	var deadline, category, priority, notes, created sql.NullString
	if err := r.Scan(&t.ID, &t.Title, &completed, &deadline, &category, &priority, &notes, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Completed = completed.Valid && completed.Bool
	if deadline.Valid && deadline.String != "" {
		d, err := domain.ParseDeadline(deadline.String)
		if err != nil {
			s.log.WithField("task", t.ID).WithField("deadline", deadline.String).Warn("ignoring unparseable stored deadline")
		} else {
			t.Deadline = &d
		}
	}
	if category.Valid {
		t.Category = &category.String
	}
	if priority.Valid {
		pr := domain.Priority(priority.String)
		t.Priority = &pr
	}
	if notes.Valid {
		t.Notes = &notes.String
	}
	if created.Valid {
		if c, err := domain.ParseDeadline(created.String); err == nil {
			t.CreatedAt = c
		}
	}
	return t, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
