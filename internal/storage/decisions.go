package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/model"
)

// SaveDecision records the Gate's verdict, including the exact threshold
// snapshot used, so decisions can be reproduced later.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, decision *model.AutomationDecision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if decision == nil {
		return fmt.Errorf("%w: decision", ErrNilParameter)
	}
	if err := validateString(decision.TransactionID, "decision.TransactionID"); err != nil {
		return err
	}
	if err := validateString(decision.TenantID, "decision.TenantID"); err != nil {
		return err
	}

	thresholds, err := json.Marshal(decision.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to encode threshold snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_decisions (transaction_id, tenant_id, decision, reason, candidate_id, thresholds)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		decision.TransactionID,
		decision.TenantID,
		string(decision.Decision),
		decision.Reason,
		decision.CandidateID,
		string(thresholds),
	)
	if err != nil {
		return fmt.Errorf("failed to save decision for %s: %w", decision.TransactionID, err)
	}
	return nil
}
