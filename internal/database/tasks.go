package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatflow/internal/models"
)

const taskColumns = `
	id, chat_id, message_id, requester_id, requester_name, assignee_id, assignee_name,
	title, status, due_at, nudge_level, last_nudge_at, completed_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *Database) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = newID()
	}
	now := d.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = models.TaskPendingAcceptance
	}

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			t.ID, t.ChatID, t.MessageID, t.RequesterID, t.RequesterName, nullInt(t.AssigneeID), t.AssigneeName,
			t.Title, t.Status, tsPtr(t.DueAt), t.NudgeLevel, tsPtr(t.LastNudgeAt), tsPtr(t.CompletedAt),
			ts(t.CreatedAt), ts(t.UpdatedAt),
		)
		return err
	}, "create task")
}

func (d *Database) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// AcceptTask sets the deadline and moves a pending task to in_progress.
func (d *Database) AcceptTask(ctx context.Context, id string, dueAt time.Time) (bool, error) {
	query := `
		UPDATE tasks SET status = ?, due_at = ?
		WHERE id = ? AND status = ?
	`
	return d.execConditional(ctx, "accept task", query,
		models.TaskInProgress, ts(dueAt), id, models.TaskPendingAcceptance)
}

func (d *Database) RejectTask(ctx context.Context, id string) (bool, error) {
	query := `UPDATE tasks SET status = ? WHERE id = ? AND status = ?`
	return d.execConditional(ctx, "reject task", query,
		models.TaskRejected, id, models.TaskPendingAcceptance)
}

// CompleteTask only succeeds for in-progress tasks, so a second tap is a no-op.
func (d *Database) CompleteTask(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND status = ?`
	return d.execConditional(ctx, "complete task", query,
		models.TaskCompleted, ts(at), id, models.TaskInProgress)
}

// RecordNudge stores a sent nudge unless the task left in_progress meanwhile.
func (d *Database) RecordNudge(ctx context.Context, id string, level int, at time.Time) (bool, error) {
	query := `
		UPDATE tasks SET nudge_level = ?, last_nudge_at = ?
		WHERE id = ? AND status = ? AND nudge_level < ?
	`
	return d.execConditional(ctx, "record nudge", query,
		level, ts(at), id, models.TaskInProgress, level)
}

// OverdueTasks lists in-progress tasks whose deadline is before now.
func (d *Database) OverdueTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = ? AND due_at IS NOT NULL AND due_at < ?
		ORDER BY due_at
	`
	return d.queryTasks(ctx, query, models.TaskInProgress, ts(now))
}

// OpenTasks lists a chat's tasks that are not finished.
func (d *Database) OpenTasks(ctx context.Context, chatID int64) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE chat_id = ? AND status IN (?, ?)
		ORDER BY created_at
	`
	return d.queryTasks(ctx, query, chatID, models.TaskPendingAcceptance, models.TaskInProgress)
}

func (d *Database) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*models.Task, error) {
	var requesterName sql.NullString
	var assigneeID sql.NullInt64
	var dueAt, lastNudgeAt, completedAt sql.NullTime
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.ChatID, &t.MessageID, &t.RequesterID, &requesterName, &assigneeID, &t.AssigneeName,
		&t.Title, &t.Status, &dueAt, &t.NudgeLevel, &lastNudgeAt, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.RequesterName = requesterName.String
	t.AssigneeID = assigneeID.Int64
	t.DueAt = timePtr(dueAt)
	t.LastNudgeAt = timePtr(lastNudgeAt)
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}

func (d *Database) execConditional(ctx context.Context, name, query string, args ...any) (bool, error) {
	return retryableDBOperation(ctx, func() (bool, error) {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return false, err
		}
		return affected(res)
	}, name)
}
