package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatflow/internal/models"
)

const draftColumns = `id, owner_id, draft_text, target_chat_id, status, created_at, updated_at`

func (d *Database) CreateDraft(ctx context.Context, dr *models.Draft) error {
	if dr.ID == "" {
		dr.ID = newID()
	}
	if dr.CreatedAt.IsZero() {
		dr.CreatedAt = d.now()
	}
	dr.UpdatedAt = dr.CreatedAt
	if dr.Status == "" {
		dr.Status = models.DraftPendingApproval
	}

	text, err := d.cipher.seal(dr.DraftText)
	if err != nil {
		return fmt.Errorf("failed to encrypt draft text: %w", err)
	}

	query := `INSERT INTO drafts (` + draftColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			dr.ID, dr.OwnerID, text, dr.TargetChatID, dr.Status, ts(dr.CreatedAt), ts(dr.UpdatedAt),
		)
		return err
	}, "create draft")
}

func (d *Database) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE id = ?`
	return d.getDraft(ctx, query, id)
}

// EditingDraft returns the owner's draft currently in editing, if any.
func (d *Database) EditingDraft(ctx context.Context, ownerID int64) (*models.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE owner_id = ? AND status = ? LIMIT 1`
	return d.getDraft(ctx, query, ownerID, models.DraftEditing)
}

// BeginEditing moves a pending draft to editing, unless its owner already
// has another draft in editing.
func (d *Database) BeginEditing(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE drafts SET status = ?
		WHERE id = ? AND status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM drafts other
			WHERE other.owner_id = drafts.owner_id AND other.status = ? AND other.id <> drafts.id
		  )
	`
	return d.execConditional(ctx, "begin editing draft", query,
		models.DraftEditing, id, models.DraftPendingApproval, models.DraftEditing)
}

// ReviseDraft replaces the text of an editing draft and returns it to review.
func (d *Database) ReviseDraft(ctx context.Context, id, text string) (bool, error) {
	enc, err := d.cipher.seal(text)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt draft text: %w", err)
	}
	query := `UPDATE drafts SET draft_text = ?, status = ? WHERE id = ? AND status = ?`
	return d.execConditional(ctx, "revise draft", query,
		enc, models.DraftPendingApproval, id, models.DraftEditing)
}

// ResolveDraft finalizes a draft as approved or rejected. Drafts being
// edited can be discarded but not posted.
func (d *Database) ResolveDraft(ctx context.Context, id string, to models.DraftStatus) (bool, error) {
	switch to {
	case models.DraftApproved:
		query := `UPDATE drafts SET status = ? WHERE id = ? AND status = ?`
		return d.execConditional(ctx, "approve draft", query, to, id, models.DraftPendingApproval)
	case models.DraftRejected:
		query := `UPDATE drafts SET status = ? WHERE id = ? AND status IN (?, ?)`
		return d.execConditional(ctx, "reject draft", query,
			to, id, models.DraftPendingApproval, models.DraftEditing)
	default:
		return false, fmt.Errorf("draft cannot be resolved to %q", to)
	}
}

func (d *Database) getDraft(ctx context.Context, query string, args ...any) (*models.Draft, error) {
	var text string
	dr := &models.Draft{}
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&dr.ID, &dr.OwnerID, &text, &dr.TargetChatID, &dr.Status, &dr.CreatedAt, &dr.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	dr.DraftText, err = d.cipher.open(text)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt draft text: %w", err)
	}
	return dr, nil
}
