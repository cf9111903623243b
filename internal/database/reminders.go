package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatflow/internal/models"
)

const reminderColumns = `
	id, chat_id, user_id, message, remind_at, status, repeat_type, repeat_days,
	repeat_day_of_month, repeat_end_date, event_name, reminder_minutes_before,
	meeting_id, created_at
`

func (d *Database) CreateReminder(ctx context.Context, r *models.Reminder) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = d.now()
	}
	if r.Status == "" {
		r.Status = models.ReminderPending
	}
	if r.RepeatType == "" {
		r.RepeatType = models.RepeatNone
	}

	msg, err := d.cipher.seal(r.Message)
	if err != nil {
		return fmt.Errorf("failed to encrypt reminder message: %w", err)
	}

	query := `INSERT INTO reminders (` + reminderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			r.ID, r.ChatID, r.UserID, msg, ts(r.RemindAt), r.Status, r.RepeatType,
			models.FormatWeekdays(r.RepeatDays), r.RepeatDayOfMonth, tsPtr(r.RepeatEndDate), r.EventName,
			r.ReminderMinutesBefore, r.MeetingID, ts(r.CreatedAt),
		)
		return err
	}, "create reminder")
}

func (d *Database) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = ?`
	r, err := d.scanReminder(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// DueReminders lists pending reminders with remindAt at or before now.
func (d *Database) DueReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status = ? AND remind_at <= ?
		ORDER BY remind_at
	`
	rows, err := d.db.QueryContext(ctx, query, models.ReminderPending, ts(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := d.scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PendingReminders lists a user's pending reminders in a chat.
func (d *Database) PendingReminders(ctx context.Context, chatID, userID int64) ([]*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + `
		FROM reminders
		WHERE chat_id = ? AND user_id = ? AND status = ?
		ORDER BY remind_at
	`
	rows, err := d.db.QueryContext(ctx, query, chatID, userID, models.ReminderPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		r, err := d.scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimReminder marks a one-shot reminder sent. Only one caller wins.
func (d *Database) ClaimReminder(ctx context.Context, id string) (bool, error) {
	query := `UPDATE reminders SET status = ? WHERE id = ? AND status = ?`
	return d.execConditional(ctx, "claim reminder", query,
		models.ReminderSent, id, models.ReminderPending)
}

// AdvanceReminder moves a recurring reminder's pointer from prev to next.
// The compare on prev makes concurrent firings of the same occurrence collapse.
func (d *Database) AdvanceReminder(ctx context.Context, id string, prev, next time.Time) (bool, error) {
	query := `UPDATE reminders SET remind_at = ? WHERE id = ? AND status = ? AND remind_at = ?`
	return d.execConditional(ctx, "advance reminder", query,
		ts(next), id, models.ReminderPending, ts(prev))
}

// FinishReminder ends a recurring series whose end date has passed.
func (d *Database) FinishReminder(ctx context.Context, id string, prev time.Time) (bool, error) {
	query := `UPDATE reminders SET status = ? WHERE id = ? AND status = ? AND remind_at = ?`
	return d.execConditional(ctx, "finish reminder", query,
		models.ReminderSent, id, models.ReminderPending, ts(prev))
}

func (d *Database) CancelReminder(ctx context.Context, id string) (bool, error) {
	query := `UPDATE reminders SET status = ? WHERE id = ? AND status = ?`
	return d.execConditional(ctx, "cancel reminder", query,
		models.ReminderCancelled, id, models.ReminderPending)
}

func (d *Database) scanReminder(row rowScanner) (*models.Reminder, error) {
	var msg string
	var days, eventName, meetingID sql.NullString
	var endDate sql.NullTime
	var dayOfMonth, minutesBefore sql.NullInt64
	r := &models.Reminder{}
	err := row.Scan(
		&r.ID, &r.ChatID, &r.UserID, &msg, &r.RemindAt, &r.Status, &r.RepeatType, &days,
		&dayOfMonth, &endDate, &eventName, &minutesBefore, &meetingID, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.Message, err = d.cipher.open(msg); err != nil {
		return nil, fmt.Errorf("failed to decrypt reminder message: %w", err)
	}
	if r.RepeatDays, err = models.ParseWeekdays(days.String); err != nil {
		return nil, err
	}
	r.RepeatDayOfMonth = int(dayOfMonth.Int64)
	r.RepeatEndDate = timePtr(endDate)
	r.EventName = eventName.String
	r.ReminderMinutesBefore = int(minutesBefore.Int64)
	r.MeetingID = meetingID.String
	return r, nil
}
