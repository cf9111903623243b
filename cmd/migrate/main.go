// Command migrate upgrades an existing chatflow database in place. The
// schema itself is migrated on every start; this tool covers the data
// rewrites that must be run deliberately, currently sealing draft and
// reminder text stored before encryption was enabled.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"chatflow/internal/database"

	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./chatflow.db", "Path to the database file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *dbPath, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func run(ctx context.Context, dbPath string, logger *logrus.Logger) error {
	if _, err := os.Stat(dbPath); err != nil {
		return err
	}

	db, err := database.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.WithField("path", dbPath).Info("Sealing plaintext draft and reminder text")
	n, err := db.SealPlaintext(ctx)
	if errors.Is(err, database.ErrEncryptionDisabled) {
		logger.Warn("CHATFLOW_ENABLE_ENCRYPTION is not set; nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	logger.WithField("rows", n).Info("Migration completed")
	return nil
}
