package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatflow/internal/models"
)

const recurringColumns = `
	id, chat_id, created_by, assignee_id, assignee_name, task_title, frequency, day_of_week,
	day_of_month, exclude_days, hour, minute, is_active, next_send_at, last_sent_at, created_at
`

func (d *Database) CreateRecurringTask(ctx context.Context, t *models.RecurringTask) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = d.now()
	}

	query := `INSERT INTO recurring_tasks (` + recurringColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			t.ID, t.ChatID, t.CreatedBy, nullInt(t.AssigneeID), t.AssigneeName, t.TaskTitle, t.Frequency,
			int(t.DayOfWeek), t.DayOfMonth, models.FormatWeekdays(t.ExcludeDays), t.Hour, t.Minute,
			t.IsActive, ts(t.NextSendAt), tsPtr(t.LastSentAt), ts(t.CreatedAt),
		)
		return err
	}, "create recurring task")
}

func (d *Database) GetRecurringTask(ctx context.Context, id string) (*models.RecurringTask, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_tasks WHERE id = ?`
	t, err := scanRecurring(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring task: %w", err)
	}
	return t, nil
}

// DueRecurringTasks lists active tasks whose nextSendAt is at or before now.
func (d *Database) DueRecurringTasks(ctx context.Context, now time.Time) ([]*models.RecurringTask, error) {
	query := `SELECT ` + recurringColumns + `
		FROM recurring_tasks
		WHERE is_active = TRUE AND next_send_at <= ?
		ORDER BY next_send_at
	`
	return d.queryRecurring(ctx, query, ts(now))
}

// ListRecurringTasks lists the active recurring tasks of a chat.
func (d *Database) ListRecurringTasks(ctx context.Context, chatID int64) ([]*models.RecurringTask, error) {
	query := `SELECT ` + recurringColumns + `
		FROM recurring_tasks
		WHERE chat_id = ? AND is_active = TRUE
		ORDER BY created_at
	`
	return d.queryRecurring(ctx, query, chatID)
}

// AdvanceRecurringTask moves nextSendAt from prev to next and records the
// send. It fails when another poll already advanced the pointer.
func (d *Database) AdvanceRecurringTask(ctx context.Context, id string, prev, next, sentAt time.Time) (bool, error) {
	query := `
		UPDATE recurring_tasks SET next_send_at = ?, last_sent_at = ?
		WHERE id = ? AND is_active = TRUE AND next_send_at = ?
	`
	return d.execConditional(ctx, "advance recurring task", query,
		ts(next), ts(sentAt), id, ts(prev))
}

func (d *Database) DeactivateRecurringTask(ctx context.Context, id string) (bool, error) {
	query := `UPDATE recurring_tasks SET is_active = FALSE WHERE id = ? AND is_active = TRUE`
	return d.execConditional(ctx, "deactivate recurring task", query, id)
}

// RecordCompletion appends a completion row; a repeat acknowledgement of the
// same occurrence reports false.
func (d *Database) RecordCompletion(ctx context.Context, c *models.RecurringTaskCompletion) (bool, error) {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = d.now()
	}
	query := `
		INSERT OR IGNORE INTO recurring_task_completions (
			recurring_task_id, chat_id, completed_by, scheduled_at, completed_at
		) VALUES (?, ?, ?, ?, ?)
	`
	return d.execConditional(ctx, "record completion", query,
		c.RecurringTaskID, c.ChatID, c.CompletedBy, ts(c.ScheduledAt), ts(c.CompletedAt))
}

func (d *Database) queryRecurring(ctx context.Context, query string, args ...any) ([]*models.RecurringTask, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.RecurringTask
	for rows.Next() {
		t, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanRecurring(row rowScanner) (*models.RecurringTask, error) {
	var assigneeID sql.NullInt64
	var assigneeName, exclude sql.NullString
	var dayOfWeek, dayOfMonth sql.NullInt64
	var lastSent sql.NullTime
	t := &models.RecurringTask{}
	err := row.Scan(
		&t.ID, &t.ChatID, &t.CreatedBy, &assigneeID, &assigneeName, &t.TaskTitle, &t.Frequency, &dayOfWeek,
		&dayOfMonth, &exclude, &t.Hour, &t.Minute, &t.IsActive, &t.NextSendAt, &lastSent, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.AssigneeID = assigneeID.Int64
	t.AssigneeName = assigneeName.String
	t.DayOfWeek = time.Weekday(dayOfWeek.Int64)
	t.DayOfMonth = int(dayOfMonth.Int64)
	if t.ExcludeDays, err = models.ParseWeekdays(strings.TrimSpace(exclude.String)); err != nil {
		return nil, err
	}
	t.LastSentAt = timePtr(lastSent)
	return t, nil
}
