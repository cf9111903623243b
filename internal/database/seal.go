package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// sealedColumns are the free-text columns covered by the field cipher.
var sealedColumns = []struct {
	table  string
	column string
}{
	{"drafts", "draft_text"},
	{"reminders", "message"},
}

// ErrEncryptionDisabled is returned by SealPlaintext when no cipher is configured.
var ErrEncryptionDisabled = errors.New("encryption is not enabled")

// EncryptionEnabled reports whether free-text columns are sealed on write.
func (d *Database) EncryptionEnabled() bool {
	return d.cipher.enabled()
}

// SealPlaintext encrypts values written before encryption was enabled and
// returns how many were rewritten. Already sealed values are left alone, so
// running it twice is harmless.
func (d *Database) SealPlaintext(ctx context.Context) (int64, error) {
	if !d.cipher.enabled() {
		return 0, ErrEncryptionDisabled
	}

	var total int64
	for _, c := range sealedColumns {
		n, err := d.sealColumn(ctx, c.table, c.column)
		if err != nil {
			return total, fmt.Errorf("failed to seal %s.%s: %w", c.table, c.column, err)
		}
		total += n
	}
	return total, nil
}

func (d *Database) sealColumn(ctx context.Context, table, column string) (int64, error) {
	// #nosec G201 - table and column come from sealedColumns
	query := fmt.Sprintf(`SELECT id, %s FROM %s WHERE %s <> '' AND %s NOT LIKE ?`, column, table, column, column)
	rows, err := d.db.QueryContext(ctx, query, sealedPrefix+"%")
	if err != nil {
		return 0, err
	}

	pending := make(map[string]string)
	for rows.Next() {
		var id, plain string
		if err := rows.Scan(&id, &plain); err != nil {
			_ = rows.Close()
			return 0, err
		}
		pending[id] = plain
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// #nosec G201 - table and column come from sealedColumns
	update := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ? AND %s = ?`, table, column, column)
	var sealed int64
	for id, plain := range pending {
		enc, err := d.cipher.seal(plain)
		if err != nil {
			return 0, err
		}
		if !strings.HasPrefix(enc, sealedPrefix) {
			continue
		}
		res, err := tx.ExecContext(ctx, update, enc, id, plain)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		sealed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return sealed, nil
}
