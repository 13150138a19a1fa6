package storage

import (
	"context"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/model"
)

// SaveMatchCandidates stores the matching engine's candidates for a
// transaction.
func (s *SQLiteStorage) SaveMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO match_candidates (id, transaction_id, obligation_id, match_type, score, accepted)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range candidates {
		if c.ID == "" {
			return fmt.Errorf("match candidate for transaction %s missing ID", c.TransactionID)
		}
		accepted := 0
		if c.Accepted {
			accepted = 1
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.TransactionID, c.ObligationID, string(c.Type), c.Score, accepted,
		); err != nil {
			return fmt.Errorf("failed to insert match candidate %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetMatchCandidates returns all candidates recorded for a transaction,
// best score first.
func (s *SQLiteStorage) GetMatchCandidates(ctx context.Context, transactionID string) ([]model.MatchCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, obligation_id, match_type, score, accepted
		FROM match_candidates
		WHERE transaction_id = ?
		ORDER BY score DESC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.MatchCandidate
	for rows.Next() {
		var c model.MatchCandidate
		var matchType string
		var accepted int
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.ObligationID, &matchType, &c.Score, &accepted); err != nil {
			return nil, fmt.Errorf("failed to scan match candidate: %w", err)
		}
		c.Type = model.MatchType(matchType)
		c.Accepted = accepted == 1
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate match candidates: %w", err)
	}
	return candidates, nil
}

// AcceptMatchCandidate marks one candidate as the accepted match and
// clears any prior acceptance, preserving the invariant that a
// transaction has at most one accepted match at any time.
func (s *SQLiteStorage) AcceptMatchCandidate(ctx context.Context, transactionID, candidateID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}
	if err := validateString(candidateID, "candidateID"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE match_candidates SET accepted = 0 WHERE transaction_id = ?`,
		transactionID); err != nil {
		return fmt.Errorf("failed to clear prior acceptance: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE match_candidates SET accepted = 1 WHERE id = ? AND transaction_id = ?`,
		candidateID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to accept match candidate %s: %w", candidateID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("match candidate %s not found for transaction %s", candidateID, transactionID)
	}

	return tx.Commit()
}
