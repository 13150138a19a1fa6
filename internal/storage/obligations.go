package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/shopspring/decimal"
)

// SaveObligation inserts or replaces an obligation snapshot.
func (s *SQLiteStorage) SaveObligation(ctx context.Context, obligation *model.Obligation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateObligation(obligation); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO obligations (
			id, tenant_id, kind, status, amount, remaining_amount,
			due_date, counterparty_ref, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			kind = excluded.kind,
			status = excluded.status,
			amount = excluded.amount,
			remaining_amount = excluded.remaining_amount,
			due_date = excluded.due_date,
			counterparty_ref = excluded.counterparty_ref,
			version = excluded.version,
			updated_at = CURRENT_TIMESTAMP
	`,
		obligation.ID,
		obligation.TenantID,
		string(obligation.Kind),
		string(obligation.Status),
		obligation.Amount.String(),
		obligation.RemainingAmount.String(),
		obligation.DueDate,
		obligation.CounterpartyRef,
		obligation.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save obligation %s: %w", obligation.ID, err)
	}
	return nil
}

// GetObligationByID retrieves a single obligation.
func (s *SQLiteStorage) GetObligationByID(ctx context.Context, tenantID, id string) (*model.Obligation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, kind, status, amount, remaining_amount,
		       due_date, counterparty_ref, version
		FROM obligations
		WHERE tenant_id = ? AND id = ?
	`, tenantID, id)

	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("obligation %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get obligation %s: %w", id, err)
	}
	return o, nil
}

// GetOpenObligations returns the tenant's obligations still accepting
// payments, ordered by due date. This is the read-only snapshot the
// matching engine works against.
func (s *SQLiteStorage) GetOpenObligations(ctx context.Context, tenantID string) ([]model.Obligation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, status, amount, remaining_amount,
		       due_date, counterparty_ref, version
		FROM obligations
		WHERE tenant_id = ? AND status IN ('OPEN', 'PARTIALLY_MATCHED')
		ORDER BY due_date
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open obligations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var obligations []model.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		obligations = append(obligations, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate obligations: %w", err)
	}
	return obligations, nil
}

// ApplyObligationPayment decrements an obligation's remaining amount
// under an optimistic version check. The single UPDATE carries the CAS:
// zero rows affected means another writer moved the version and the
// caller must re-fetch and retry.
func (s *SQLiteStorage) ApplyObligationPayment(ctx context.Context, tenantID, obligationID string, amount decimal.Decimal, expectedVersion int64) (*model.Obligation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err := validateString(obligationID, "obligationID"); err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidObligation)
	}

	current, err := s.GetObligationByID(ctx, tenantID, obligationID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("obligation %s at version %d, expected %d: %w",
			obligationID, current.Version, expectedVersion, common.ErrVersionConflict)
	}
	if amount.GreaterThan(current.RemainingAmount) {
		return nil, fmt.Errorf("%w: payment %s exceeds remaining %s",
			ErrInvalidObligation, amount, current.RemainingAmount)
	}

	remaining := current.RemainingAmount.Sub(amount)
	status := model.ObligationPartiallyMatched
	if remaining.IsZero() {
		status = model.ObligationSettled
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE obligations
		SET remaining_amount = ?, status = ?, version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND id = ? AND version = ?
	`, remaining.String(), string(status), tenantID, obligationID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to apply payment to obligation %s: %w", obligationID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("obligation %s moved past version %d: %w",
			obligationID, expectedVersion, common.ErrVersionConflict)
	}

	updated := *current
	updated.RemainingAmount = remaining
	updated.Status = status
	updated.Version = expectedVersion + 1
	return &updated, nil
}

func scanObligation(row rowScanner) (*model.Obligation, error) {
	var o model.Obligation
	var kind, status, amount, remaining string
	var dueDate time.Time

	if err := row.Scan(
		&o.ID,
		&o.TenantID,
		&kind,
		&status,
		&amount,
		&remaining,
		&dueDate,
		&o.CounterpartyRef,
		&o.Version,
	); err != nil {
		return nil, err
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
	}
	parsedRemaining, err := decimal.NewFromString(remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored remaining amount %q: %w", remaining, err)
	}

	o.Kind = model.ObligationKind(kind)
	o.Status = model.ObligationStatus(status)
	o.Amount = parsedAmount
	o.RemainingAmount = parsedRemaining
	o.DueDate = dueDate
	return &o, nil
}
