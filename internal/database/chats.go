package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) GetChat(ctx context.Context, chatID int64) (*models.ChatContext, error) {
	query := `
		SELECT chat_id, chat_type, title, tenant_id, responsible_user_id, calendar_id, registered_at
		FROM chats
		WHERE chat_id = ?
	`

	var title, calendarID sql.NullString
	var responsible sql.NullInt64
	c := &models.ChatContext{}
	err := d.db.QueryRowContext(ctx, query, chatID).Scan(
		&c.ChatID, &c.ChatType, &title, &c.TenantID, &responsible, &calendarID, &c.RegisteredAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	c.Title = title.String
	c.CalendarID = calendarID.String
	c.ResponsibleUserID = responsible.Int64
	return c, nil
}

// SaveChat inserts the binding, or refreshes type and title of an existing
// one without touching its tenant.
func (d *Database) SaveChat(ctx context.Context, c *models.ChatContext) error {
	query := `
		INSERT INTO chats (chat_id, chat_type, title, tenant_id, responsible_user_id, calendar_id, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_type = excluded.chat_type,
			title = excluded.title
	`
	registeredAt := c.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = d.now()
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			c.ChatID, c.ChatType, c.Title, c.TenantID, nullInt(c.ResponsibleUserID), c.CalendarID, ts(registeredAt),
		)
		return err
	}, "save chat")
}

// GetTenantSettings falls back to defaults when the tenant has no row.
func (d *Database) GetTenantSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	query := `
		SELECT tenant_id, timezone, web_search_enabled, reminder_lead_minutes, meeting_duration_minutes
		FROM tenant_settings
		WHERE tenant_id = ?
	`
	s := &models.TenantSettings{}
	err := d.db.QueryRowContext(ctx, query, tenantID).Scan(
		&s.TenantID, &s.Timezone, &s.WebSearchEnabled, &s.ReminderLeadMinutes, &s.MeetingDurationMinutes,
	)
	if err == sql.ErrNoRows {
		def := models.DefaultTenantSettings(tenantID)
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}
	return s, nil
}

func (d *Database) SaveTenantSettings(ctx context.Context, s *models.TenantSettings) error {
	query := `
		INSERT OR REPLACE INTO tenant_settings (
			tenant_id, timezone, web_search_enabled, reminder_lead_minutes, meeting_duration_minutes
		) VALUES (?, ?, ?, ?, ?)
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			s.TenantID, s.Timezone, s.WebSearchEnabled, s.ReminderLeadMinutes, s.MeetingDurationMinutes,
		)
		return err
	}, "save tenant settings")
}
