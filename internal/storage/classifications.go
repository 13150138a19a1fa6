package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
)

// SaveClassification appends a classification record. Reclassifications
// insert a new row; earlier rows are kept for audit.
func (s *SQLiteStorage) SaveClassification(ctx context.Context, classification *model.Classification) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateClassification(classification); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classifications (transaction_id, category, confidence, model_version)
		VALUES (?, ?, ?, ?)
	`,
		classification.TransactionID,
		classification.Category,
		classification.Confidence,
		classification.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save classification for %s: %w", classification.TransactionID, err)
	}
	return nil
}

// GetLatestClassification returns the most recent classification for a
// transaction.
func (s *SQLiteStorage) GetLatestClassification(ctx context.Context, transactionID string) (*model.Classification, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	var c model.Classification
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, category, confidence, model_version, classified_at
		FROM classifications
		WHERE transaction_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, transactionID).Scan(
		&c.TransactionID,
		&c.Category,
		&c.Confidence,
		&c.ModelVersion,
		&c.ClassifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("classification for %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get classification for %s: %w", transactionID, err)
	}
	return &c, nil
}
