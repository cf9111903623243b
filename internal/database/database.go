// Package database is the SQLite-backed store for chats, tasks, meetings,
// drafts, reminders, recurring tasks, translation sessions and the audit log.
//
// State transitions that may race (a double-tapped button, two scheduler
// ticks) are expressed as conditional UPDATEs; the boolean result tells the
// caller whether it won.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"chatflow/internal/migrations"
	"chatflow/internal/security"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout matches SQLite's CURRENT_TIMESTAMP so stored instants compare
// lexically in SQL.
const timeLayout = "2006-01-02 15:04:05"

type Database struct {
	db     *sql.DB
	cipher *fieldCipher
	now    func() time.Time
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, "failed to ping database", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return nil, closeWith(db, "failed to read schema", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, closeWith(db, "failed to initialize schema", err)
	}

	if err := addMissingColumns(db); err != nil {
		return nil, closeWith(db, "failed to upgrade schema", err)
	}

	fc, err := cipherFromEnv()
	if err != nil {
		return nil, closeWith(db, "failed to initialize field encryption", err)
	}

	return &Database{db: db, cipher: fc, now: time.Now}, nil
}

// addedColumns lists columns introduced after a table's first release.
// CREATE TABLE IF NOT EXISTS leaves older files without them.
var addedColumns = []struct {
	table, column, decl string
}{
	{"reminders", "repeat_day_of_month", "INTEGER"},
}

func addMissingColumns(db *sql.DB) error {
	for _, c := range addedColumns {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.column).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(`ALTER TABLE ` + c.table + ` ADD COLUMN ` + c.column + ` ` + c.decl); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func closeWith(db *sql.DB, msg string, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%s: %w (close error: %v)", msg, err, closeErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping is used by the health endpoint.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func newID() string {
	return uuid.NewString()
}

func ts(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func joinList(items []string) string {
	return strings.Join(items, "\n")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
