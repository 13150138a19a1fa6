// Package review holds the human decision surface: items the Gate
// routed to a person, and the API used to resolve them.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/executor"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Queue manages review items. Approving an item re-enters the pipeline
// at the Gate's EXECUTING transition with the reviewer-selected
// candidate; rejecting writes a terminal ledger entry and the
// transaction is not reprocessed.
type Queue struct {
	storage  service.Storage
	auditLog service.AuditLog
	executor *executor.Executor
}

// NewQueue creates a review queue.
func NewQueue(storage service.Storage, auditLog service.AuditLog, exec *executor.Executor) *Queue {
	return &Queue{
		storage:  storage,
		auditLog: auditLog,
		executor: exec,
	}
}

// SubmitForReview parks a transaction for a human decision and logs the
// REVIEW_PENDING transition.
func (q *Queue) SubmitForReview(ctx context.Context, decision model.AutomationDecision, candidates []model.MatchCandidate) (*model.ReviewItem, error) {
	item := &model.ReviewItem{
		ID:            uuid.NewString(),
		TransactionID: decision.TransactionID,
		TenantID:      decision.TenantID,
		Status:        model.ReviewPending,
		Reason:        decision.Reason,
		Candidates:    candidates,
		CreatedAt:     time.Now().UTC(),
	}

	if err := q.storage.SaveReviewItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to save review item: %w", err)
	}

	if _, err := q.auditLog.Append(ctx, decision.TenantID, model.AuditPayload{
		TransactionID: decision.TransactionID,
		State:         model.StateReviewPending,
		Decision:      decision.Decision,
		Reason:        decision.Reason,
		Thresholds:    &decision.Thresholds,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLedgerWrite, err)
	}

	slog.Info("Submitted transaction for review",
		"review_item_id", item.ID,
		"transaction_id", item.TransactionID,
		"tenant_id", item.TenantID,
		"reason", item.Reason)

	return item, nil
}

// Resolution is a reviewer's verdict on an item.
type Resolution struct {
	ReviewItemID        string
	ReviewerID          string
	SelectedCandidateID string
	Decision            model.ReviewStatus // APPROVED or REJECTED
}

// Resolve applies a reviewer's verdict. APPROVED executes with the
// selected candidate, which may differ from the engine's top-scored
// one; REJECTED is terminal.
func (q *Queue) Resolve(ctx context.Context, res Resolution) (*executor.ExecutionResult, error) {
	if res.ReviewerID == "" {
		return nil, fmt.Errorf("reviewer ID required")
	}
	if res.Decision != model.ReviewApproved && res.Decision != model.ReviewRejected {
		return nil, fmt.Errorf("resolution must be APPROVED or REJECTED, got %q", res.Decision)
	}

	item, err := q.storage.GetReviewItem(ctx, res.ReviewItemID)
	if err != nil {
		return nil, err
	}
	if item.Status != model.ReviewPending && item.Status != model.ReviewNeedsAttention {
		return nil, fmt.Errorf("review item %s already resolved as %s", item.ID, item.Status)
	}

	candidateID, err := q.selectCandidate(item, res)
	if err != nil {
		return nil, err
	}

	if err := q.storage.ResolveReviewItem(ctx, item.ID, res.Decision, res.ReviewerID); err != nil {
		return nil, err
	}

	if _, err := q.auditLog.Append(ctx, item.TenantID, model.AuditPayload{
		TransactionID: item.TransactionID,
		State:         model.StateReviewDecided,
		Reason:        string(res.Decision),
		ReviewerID:    res.ReviewerID,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLedgerWrite, err)
	}

	if res.Decision == model.ReviewRejected {
		if _, err := q.auditLog.Append(ctx, item.TenantID, model.AuditPayload{
			TransactionID: item.TransactionID,
			State:         model.StateRejected,
			Reason:        "rejected by reviewer",
			ReviewerID:    res.ReviewerID,
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrLedgerWrite, err)
		}
		slog.Info("Review rejected",
			"review_item_id", item.ID,
			"transaction_id", item.TransactionID,
			"reviewer_id", res.ReviewerID)
		return nil, nil
	}

	decision := model.AutomationDecision{
		TransactionID: item.TransactionID,
		TenantID:      item.TenantID,
		Decision:      model.DecisionAutoApprove,
		Reason:        fmt.Sprintf("approved by reviewer %s", res.ReviewerID),
		CandidateID:   candidateID,
		DecidedAt:     time.Now().UTC(),
	}
	return q.executor.Execute(ctx, decision)
}

// selectCandidate validates the reviewer's choice against the item's
// recorded candidates. With no explicit selection the engine's
// top-scored candidate is used; items without candidates proceed to the
// expense flow.
func (q *Queue) selectCandidate(item *model.ReviewItem, res Resolution) (string, error) {
	if res.Decision == model.ReviewRejected {
		return "", nil
	}
	if res.SelectedCandidateID == "" {
		if len(item.Candidates) > 0 {
			return item.Candidates[0].ID, nil
		}
		return "", nil
	}
	for _, c := range item.Candidates {
		if c.ID == res.SelectedCandidateID {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("candidate %s not among review item %s candidates",
		res.SelectedCandidateID, item.ID)
}
