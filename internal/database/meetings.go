package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatflow/internal/models"
)

const meetingColumns = `
	id, chat_id, organizer_id, title, meeting_type, meet_url_or_location, calendar_event_id,
	start_at, end_at, status, reminder_sent, attendees, created_at
`

func (d *Database) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = d.now()
	}
	if m.Status == "" {
		m.Status = models.MeetingScheduled
	}

	query := `INSERT INTO meetings (` + meetingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			m.ID, m.ChatID, m.OrganizerID, m.Title, m.MeetingType, m.MeetUrlOrLocation, m.CalendarEventID,
			ts(m.StartAt), ts(m.EndAt), m.Status, m.ReminderSent, joinList(m.Attendees), ts(m.CreatedAt),
		)
		return err
	}, "create meeting")
}

func (d *Database) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = ?`

	var location, eventID, attendees sql.NullString
	m := &models.Meeting{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ChatID, &m.OrganizerID, &m.Title, &m.MeetingType, &location, &eventID,
		&m.StartAt, &m.EndAt, &m.Status, &m.ReminderSent, &attendees, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	m.MeetUrlOrLocation = location.String
	m.CalendarEventID = eventID.String
	m.Attendees = splitList(attendees.String)
	return m, nil
}

// MarkMeetingReminderSent flips the flag once; later calls report false.
func (d *Database) MarkMeetingReminderSent(ctx context.Context, id string) (bool, error) {
	query := `UPDATE meetings SET reminder_sent = TRUE WHERE id = ? AND reminder_sent = FALSE`
	return d.execConditional(ctx, "mark meeting reminder", query, id)
}

// UpcomingMeetings lists scheduled meetings of a chat starting in [from, to).
func (d *Database) UpcomingMeetings(ctx context.Context, chatID int64, from, to time.Time) ([]*models.Meeting, error) {
	query := `SELECT id FROM meetings
		WHERE chat_id = ? AND status = ? AND start_at >= ? AND start_at < ?
		ORDER BY start_at
	`
	rows, err := d.db.QueryContext(ctx, query, chatID, models.MeetingScheduled, ts(from), ts(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan meeting id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	meetings := make([]*models.Meeting, 0, len(ids))
	for _, id := range ids {
		m, err := d.GetMeeting(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			meetings = append(meetings, m)
		}
	}
	return meetings, nil
}
