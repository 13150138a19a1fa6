package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
)

// SaveReviewItem stores a review item and its candidate matches.
func (s *SQLiteStorage) SaveReviewItem(ctx context.Context, item *model.ReviewItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReviewItem(item); err != nil {
		return err
	}

	candidates, err := json.Marshal(item.Candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO review_items (id, transaction_id, tenant_id, status, reason, reviewer_id, candidates)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.TransactionID,
		item.TenantID,
		string(item.Status),
		item.Reason,
		item.ReviewerID,
		string(candidates),
	)
	if err != nil {
		return fmt.Errorf("failed to save review item %s: %w", item.ID, err)
	}
	return nil
}

// GetReviewItem retrieves a single review item.
func (s *SQLiteStorage) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, tenant_id, status, reason, reviewer_id, candidates, created_at, resolved_at
		FROM review_items
		WHERE id = ?
	`, id)

	item, err := scanReviewItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review item %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review item %s: %w", id, err)
	}
	return item, nil
}

// GetPendingReviewItems returns a tenant's unresolved review items,
// oldest first.
func (s *SQLiteStorage) GetPendingReviewItems(ctx context.Context, tenantID string) ([]model.ReviewItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, tenant_id, status, reason, reviewer_id, candidates, created_at, resolved_at
		FROM review_items
		WHERE tenant_id = ? AND status IN ('PENDING', 'NEEDS_ATTENTION')
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review items: %w", err)
	}
	return items, nil
}

// ResolveReviewItem moves a pending item to a terminal status. Items
// already resolved stay resolved.
func (s *SQLiteStorage) ResolveReviewItem(ctx context.Context, id string, status model.ReviewStatus, reviewerID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if status != model.ReviewApproved && status != model.ReviewRejected {
		return fmt.Errorf("%w: resolution status %q", ErrInvalidReviewItem, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE review_items
		SET status = ?, reviewer_id = ?, resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('PENDING', 'NEEDS_ATTENTION')
	`, string(status), reviewerID, id)
	if err != nil {
		return fmt.Errorf("failed to resolve review item %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("review item %s not pending: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanReviewItem(row rowScanner) (*model.ReviewItem, error) {
	var item model.ReviewItem
	var status, candidates string
	var reviewerID, reason sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&item.ID,
		&item.TransactionID,
		&item.TenantID,
		&status,
		&reason,
		&reviewerID,
		&candidates,
		&item.CreatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	item.Status = model.ReviewStatus(status)
	item.Reason = reason.String
	item.ReviewerID = reviewerID.String
	if resolvedAt.Valid {
		item.ResolvedAt = resolvedAt.Time
	}
	if candidates != "" {
		if err := json.Unmarshal([]byte(candidates), &item.Candidates); err != nil {
			return nil, fmt.Errorf("failed to decode candidates: %w", err)
		}
	}
	return &item, nil
}
