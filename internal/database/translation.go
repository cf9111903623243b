package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) GetTranslationSession(ctx context.Context, chatID, userID int64) (*models.TranslationSession, error) {
	query := `
		SELECT chat_id, user_id, is_active, my_language, target_language, updated_at
		FROM translation_sessions
		WHERE chat_id = ? AND user_id = ?
	`
	s := &models.TranslationSession{}
	err := d.db.QueryRowContext(ctx, query, chatID, userID).Scan(
		&s.ChatID, &s.UserID, &s.IsActive, &s.MyLanguage, &s.TargetLanguage, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get translation session: %w", err)
	}
	return s, nil
}

// SaveTranslationSession upserts the member's session.
func (d *Database) SaveTranslationSession(ctx context.Context, s *models.TranslationSession) error {
	s.UpdatedAt = d.now()
	query := `
		INSERT INTO translation_sessions (chat_id, user_id, is_active, my_language, target_language, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			is_active = excluded.is_active,
			my_language = excluded.my_language,
			target_language = excluded.target_language,
			updated_at = excluded.updated_at
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			s.ChatID, s.UserID, s.IsActive, s.MyLanguage, s.TargetLanguage, ts(s.UpdatedAt),
		)
		return err
	}, "save translation session")
}

// EndTranslationSession deactivates the session; false when none was active.
func (d *Database) EndTranslationSession(ctx context.Context, chatID, userID int64) (bool, error) {
	query := `
		UPDATE translation_sessions SET is_active = FALSE, updated_at = ?
		WHERE chat_id = ? AND user_id = ? AND is_active = TRUE
	`
	return d.execConditional(ctx, "end translation session", query, ts(d.now()), chatID, userID)
}

// ActiveTranslationSessions lists the chat's active sessions.
func (d *Database) ActiveTranslationSessions(ctx context.Context, chatID int64) ([]*models.TranslationSession, error) {
	query := `
		SELECT chat_id, user_id, is_active, my_language, target_language, updated_at
		FROM translation_sessions
		WHERE chat_id = ? AND is_active = TRUE
		ORDER BY updated_at
	`
	rows, err := d.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list translation sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.TranslationSession
	for rows.Next() {
		s := &models.TranslationSession{}
		if err := rows.Scan(&s.ChatID, &s.UserID, &s.IsActive, &s.MyLanguage, &s.TargetLanguage, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan translation session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
