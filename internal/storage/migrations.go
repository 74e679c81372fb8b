package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Submissions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS submissions (
					id TEXT PRIMARY KEY,
					order_id TEXT NOT NULL,
					owner_id TEXT,
					expected_amount TEXT NOT NULL,
					expected_amount_value REAL NOT NULL,
					currency TEXT NOT NULL,
					payment_reference TEXT,
					reference_key TEXT,
					buyer_name TEXT,
					buyer_phone TEXT,
					status TEXT NOT NULL DEFAULT 'PENDING',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_submissions_order ON submissions(order_id)`,
				`CREATE INDEX idx_submissions_reference ON submissions(reference_key)`,
				`CREATE INDEX idx_submissions_amount ON submissions(currency, expected_amount_value)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Payment decisions keyed by image content hash",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS payment_decisions (
					id TEXT PRIMARY KEY,
					content_hash TEXT UNIQUE NOT NULL,
					outcome TEXT NOT NULL,
					reason TEXT NOT NULL,
					review_ticket_id TEXT,
					chosen TEXT,
					matches TEXT,
					candidates TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_payment_decisions_outcome ON payment_decisions(outcome)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Review tickets",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS review_tickets (
					id TEXT PRIMARY KEY,
					decision_id TEXT NOT NULL,
					content_hash TEXT NOT NULL,
					outcome TEXT NOT NULL,
					reason TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'OPEN',
					candidates TEXT,
					created_at DATETIME NOT NULL,
					resolved_at DATETIME
				)`,
				`CREATE INDEX idx_review_tickets_status ON review_tickets(status, created_at)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Approval audit columns on submissions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`ALTER TABLE submissions ADD COLUMN approved_decision_id TEXT`,
				`ALTER TABLE submissions ADD COLUMN approved_confidence REAL`,
				`ALTER TABLE submissions ADD COLUMN approved_at DATETIME`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		s.logger.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
