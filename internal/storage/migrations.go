package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					value_date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					counterparty_ref TEXT,
					raw_description TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE INDEX idx_transactions_value_date ON transactions(value_date)`,

				`CREATE TABLE IF NOT EXISTS obligations (
					id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					status TEXT NOT NULL,
					amount TEXT NOT NULL,
					remaining_amount TEXT NOT NULL,
					due_date DATETIME NOT NULL,
					counterparty_ref TEXT,
					version INTEGER NOT NULL DEFAULT 1,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE INDEX idx_obligations_status ON obligations(tenant_id, status)`,

				`CREATE TABLE IF NOT EXISTS classifications (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					category TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					model_version TEXT,
					classified_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_classifications_transaction ON classifications(transaction_id)`,

				`CREATE TABLE IF NOT EXISTS match_candidates (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					obligation_id TEXT NOT NULL,
					match_type TEXT NOT NULL,
					score REAL NOT NULL,
					accepted INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_match_candidates_transaction ON match_candidates(transaction_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Automation decisions, settings and review queue",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS automation_decisions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					decision TEXT NOT NULL,
					reason TEXT,
					candidate_id TEXT,
					thresholds TEXT NOT NULL,
					decided_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_decisions_transaction ON automation_decisions(transaction_id)`,

				`CREATE TABLE IF NOT EXISTS automation_settings (
					tenant_id TEXT PRIMARY KEY,
					mode TEXT NOT NULL,
					confidence_threshold REAL NOT NULL,
					amount_ceiling TEXT NOT NULL,
					low_risk_categories TEXT,
					version INTEGER NOT NULL DEFAULT 1,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS review_items (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					status TEXT NOT NULL,
					reason TEXT,
					reviewer_id TEXT,
					candidates TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					resolved_at DATETIME
				)`,
				`CREATE INDEX idx_review_items_tenant_status ON review_items(tenant_id, status)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Append-only audit log with per-tenant hash chain",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// No UPDATE or DELETE is ever issued against this table;
				// UNIQUE(tenant_id, sequence_no) enforces one unbroken
				// chain per tenant.
				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					sequence_no INTEGER NOT NULL,
					prev_hash TEXT NOT NULL,
					payload_hash TEXT NOT NULL,
					entry_hash TEXT NOT NULL,
					payload TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, sequence_no)
				)`,
				`CREATE INDEX idx_audit_log_tenant ON audit_log(tenant_id, sequence_no)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending migrations to bring the schema up to date.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		slog.Info("Applying migration",
			"version", migration.Version,
			"description", migration.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		// PRAGMA does not support placeholders
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	var finalVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("schema version mismatch: have %d, expected %d", finalVersion, ExpectedSchemaVersion)
	}

	return nil
}
