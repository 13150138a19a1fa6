package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// AppendLedgerEntry inserts one entry into the tenant's hash chain.
// The UNIQUE(tenant_id, sequence_no) constraint rejects concurrent
// writers racing on the same sequence number; only the ledger's
// serialized writer should ever call this.
func (s *SQLiteStorage) AppendLedgerEntry(ctx context.Context, entry *model.AuditLogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerEntry(entry); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (tenant_id, sequence_no, prev_hash, payload_hash, entry_hash, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.TenantID,
		entry.SequenceNo,
		entry.PrevHash,
		entry.PayloadHash,
		entry.EntryHash,
		string(entry.Payload),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: tenant %s seq %d: %v",
			common.ErrLedgerWrite, entry.TenantID, entry.SequenceNo, err)
	}
	return nil
}

// GetLastLedgerEntry returns the chain head for a tenant, or
// common.ErrNotFound for an empty chain.
func (s *SQLiteStorage) GetLastLedgerEntry(ctx context.Context, tenantID string) (*model.AuditLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, sequence_no, prev_hash, payload_hash, entry_hash, payload, created_at
		FROM audit_log
		WHERE tenant_id = ?
		ORDER BY sequence_no DESC
		LIMIT 1
	`, tenantID)

	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger for tenant %s: %w", tenantID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last ledger entry: %w", err)
	}
	return entry, nil
}

// GetLedgerEntries returns a tenant's entries in sequence order,
// optionally bounded by creation time.
func (s *SQLiteStorage) GetLedgerEntries(ctx context.Context, tenantID string, filter service.LedgerFilter) ([]model.AuditLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, ErrInvalidDateRange
	}

	query := `
		SELECT tenant_id, sequence_no, prev_hash, payload_hash, entry_hash, payload, created_at
		FROM audit_log
		WHERE tenant_id = ?`
	args := []any{tenantID}

	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.To)
	}
	query += ` ORDER BY sequence_no`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditLogEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

// FindExecutedLedgerEntry looks for a prior EXECUTED entry for a
// transaction. The Action Executor uses this as its idempotency check
// before mutating domain state.
func (s *SQLiteStorage) FindExecutedLedgerEntry(ctx context.Context, tenantID, transactionID string) (*model.AuditLogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, sequence_no, prev_hash, payload_hash, entry_hash, payload, created_at
		FROM audit_log
		WHERE tenant_id = ?
		  AND json_extract(payload, '$.transaction_id') = ?
		  AND json_extract(payload, '$.state') = 'EXECUTED'
		ORDER BY sequence_no
		LIMIT 1
	`, tenantID, transactionID)

	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("executed entry for %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find executed entry: %w", err)
	}
	return entry, nil
}

// ListLedgerTenants returns every tenant that has at least one ledger
// entry.
func (s *SQLiteStorage) ListLedgerTenants(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM audit_log ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return tenants, nil
}

func scanLedgerEntry(row rowScanner) (*model.AuditLogEntry, error) {
	var entry model.AuditLogEntry
	var payload string

	if err := row.Scan(
		&entry.TenantID,
		&entry.SequenceNo,
		&entry.PrevHash,
		&entry.PayloadHash,
		&entry.EntryHash,
		&payload,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	entry.Payload = []byte(payload)
	return &entry, nil
}
