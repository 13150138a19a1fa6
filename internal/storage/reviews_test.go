package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
)

func testReviewItem(id, tenantID string) *model.ReviewItem {
	return &model.ReviewItem{
		ID:            id,
		TransactionID: "txn-" + id,
		TenantID:      tenantID,
		Status:        model.ReviewPending,
		Reason:        "confidence 0.60 below threshold 0.85",
		Candidates: []model.MatchCandidate{
			{ID: "cand-1", TransactionID: "txn-" + id, ObligationID: "obl-1", Type: model.MatchExactAmount, Score: 0.92},
		},
	}
}

func TestSQLiteStorage_ReviewItem_RoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	item := testReviewItem("rev-1", "tenant-a")
	if err := store.SaveReviewItem(ctx, item); err != nil {
		t.Fatalf("SaveReviewItem failed: %v", err)
	}

	got, err := store.GetReviewItem(ctx, "rev-1")
	if err != nil {
		t.Fatalf("GetReviewItem failed: %v", err)
	}
	if got.Status != model.ReviewPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if got.Reason != item.Reason {
		t.Errorf("reason = %q, want %q", got.Reason, item.Reason)
	}
	if len(got.Candidates) != 1 || got.Candidates[0].ID != "cand-1" {
		t.Errorf("candidates not preserved: %+v", got.Candidates)
	}
}

func TestSQLiteStorage_GetPendingReviewItems(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	pending := testReviewItem("rev-1", "tenant-a")
	attention := testReviewItem("rev-2", "tenant-a")
	attention.Status = model.ReviewNeedsAttention
	other := testReviewItem("rev-3", "tenant-b")

	for _, item := range []*model.ReviewItem{pending, attention, other} {
		if err := store.SaveReviewItem(ctx, item); err != nil {
			t.Fatalf("SaveReviewItem %s failed: %v", item.ID, err)
		}
	}
	if err := store.ResolveReviewItem(ctx, "rev-1", model.ReviewApproved, "reviewer-1"); err != nil {
		t.Fatalf("ResolveReviewItem failed: %v", err)
	}

	items, err := store.GetPendingReviewItems(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("GetPendingReviewItems failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "rev-2" {
		t.Errorf("unexpected pending items: %+v", items)
	}
}

func TestSQLiteStorage_ResolveReviewItem_Terminal(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	item := testReviewItem("rev-1", "tenant-a")
	if err := store.SaveReviewItem(ctx, item); err != nil {
		t.Fatalf("SaveReviewItem failed: %v", err)
	}

	if err := store.ResolveReviewItem(ctx, "rev-1", model.ReviewRejected, "reviewer-1"); err != nil {
		t.Fatalf("ResolveReviewItem failed: %v", err)
	}

	got, err := store.GetReviewItem(ctx, "rev-1")
	if err != nil {
		t.Fatalf("GetReviewItem failed: %v", err)
	}
	if got.Status != model.ReviewRejected {
		t.Errorf("status = %s, want REJECTED", got.Status)
	}
	if got.ReviewerID != "reviewer-1" {
		t.Errorf("reviewer = %q, want reviewer-1", got.ReviewerID)
	}
	if got.ResolvedAt.IsZero() {
		t.Error("resolved timestamp not set")
	}

	// REJECTED is terminal; a second resolution must not land.
	err = store.ResolveReviewItem(ctx, "rev-1", model.ReviewApproved, "reviewer-2")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for already-resolved item, got %v", err)
	}

	if err := store.ResolveReviewItem(ctx, "rev-1", model.ReviewPending, "reviewer-1"); err == nil {
		t.Error("expected error for non-terminal resolution status")
	}
}
