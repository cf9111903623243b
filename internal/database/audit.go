package database

import (
	"context"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.now()
	}
	query := `
		INSERT INTO audit_log (tenant_id, actor_id, action, object_type, object_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, query,
			e.TenantID, e.ActorID, e.Action, e.ObjectType, e.ObjectID, e.Payload, ts(e.CreatedAt),
		)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
		return nil
	}, "insert audit entry")
}

// CleanupOldRecords removes finished rows older than the retention window.
// Pending work and active recurring tasks are never touched.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}

	statements := []struct {
		name  string
		query string
		args  []any
	}{
		{"reminders", `DELETE FROM reminders WHERE status IN (?, ?) AND created_at < datetime('now', '-' || ? || ' days')`,
			[]any{models.ReminderSent, models.ReminderCancelled, retentionDays}},
		{"tasks", `DELETE FROM tasks WHERE status IN (?, ?) AND updated_at < datetime('now', '-' || ? || ' days')`,
			[]any{models.TaskCompleted, models.TaskRejected, retentionDays}},
		{"drafts", `DELETE FROM drafts WHERE status IN (?, ?) AND updated_at < datetime('now', '-' || ? || ' days')`,
			[]any{models.DraftApproved, models.DraftRejected, retentionDays}},
		{"audit", `DELETE FROM audit_log WHERE created_at < datetime('now', '-' || ? || ' days')`,
			[]any{retentionDays}},
	}

	var total int64
	for _, st := range statements {
		err := retryableDBOperationNoReturn(ctx, func() error {
			res, err := d.db.ExecContext(ctx, st.query, st.args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
			return nil
		}, "cleanup "+st.name)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
