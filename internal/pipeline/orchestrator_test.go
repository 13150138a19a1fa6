package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/executor"
	"github.com/ledgerguard/reconcile/internal/finance"
	"github.com/ledgerguard/reconcile/internal/ledger"
	"github.com/ledgerguard/reconcile/internal/match"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/review"
	"github.com/ledgerguard/reconcile/internal/service"
	"github.com/ledgerguard/reconcile/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClassifier returns a fixed verdict, or an error when Err is set.
type stubClassifier struct {
	Category   string
	Confidence float64
	Err        error
}

func (s *stubClassifier) Classify(_ context.Context, txn model.Transaction) (*model.Classification, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return &model.Classification{
		TransactionID: txn.ID,
		Category:      s.Category,
		Confidence:    s.Confidence,
		ModelVersion:  "test-1",
		ClassifiedAt:  time.Now().UTC(),
	}, nil
}

type pipelineFixture struct {
	db           *testutil.TestDB
	auditLog     *ledger.Log
	orchestrator *Orchestrator
}

func newPipelineFixture(t *testing.T, classifier service.Classifier) *pipelineFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	auditLog := ledger.NewLog(db.Storage)
	t.Cleanup(auditLog.Close)

	exec := executor.New(db.Storage, finance.NewLocalService(db.Storage), auditLog, nil, executor.Config{
		RetryOpts: service.RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})
	reviewQueue := review.NewQueue(db.Storage, auditLog, exec)
	matcher := match.New(db.Storage)

	orchestrator := New(db.Storage, classifier, matcher, auditLog, exec, reviewQueue, Config{
		WorkersPerTenant: 2,
		QueueSize:        8,
		CallTimeout:      time.Second,
	})
	orchestrator.Start(context.Background())
	t.Cleanup(orchestrator.Close)

	return &pipelineFixture{db: db, auditLog: auditLog, orchestrator: orchestrator}
}

func ledgerStates(t *testing.T, db *testutil.TestDB, tenantID string) []model.PipelineState {
	t.Helper()
	entries, err := db.Storage.GetLedgerEntries(context.Background(), tenantID, service.LedgerFilter{})
	require.NoError(t, err)
	states := make([]model.PipelineState, 0, len(entries))
	for _, e := range entries {
		var payload model.AuditPayload
		require.NoError(t, json.Unmarshal(e.Payload, &payload))
		states = append(states, payload.State)
	}
	return states
}

func TestOrchestrator_FullAutoSettlement(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "RENT", Confidence: 0.95})
	ctx := context.Background()

	f.db.SeedSetting(testutil.FullAutoSetting("tenant-a"))
	f.db.SeedObligation(testutil.NewObligation("obl-1", "tenant-a", "150.00", "ACME GMBH"))

	txn := testutil.NewTransaction("txn-1", "tenant-a", "-150.00", "ACME GMBH")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	require.Eventually(t, func() bool {
		o, err := f.db.Storage.GetObligationByID(ctx, "tenant-a", "obl-1")
		return err == nil && o.Status == model.ObligationSettled
	}, 5*time.Second, 10*time.Millisecond, "obligation should settle")

	require.Eventually(t, func() bool {
		_, err := f.db.Storage.FindExecutedLedgerEntry(ctx, "tenant-a", "txn-1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "EXECUTED entry should land")

	states := ledgerStates(t, f.db, "tenant-a")
	assert.Equal(t, []model.PipelineState{
		model.StateReceived, model.StateClassified, model.StateMatched,
		model.StateDecided, model.StateExecuting, model.StateExecuted,
	}, states)

	result, err := f.auditLog.Verify(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, result.Valid, "chain must verify after a full run: %s", result.Detail)
}

func TestOrchestrator_DuplicateSubmit(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "RENT", Confidence: 0.95})
	ctx := context.Background()

	f.db.SeedSetting(testutil.FullAutoSetting("tenant-a"))

	txn := testutil.NewTransaction("txn-1", "tenant-a", "-150.00", "ACME GMBH")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	// The bank feed redelivers; the second admission must be refused.
	err := f.orchestrator.Submit(ctx, txn)
	assert.ErrorIs(t, err, common.ErrDuplicateTransaction)
}

func TestOrchestrator_ClassifierFailureRoutesToReview(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Err: errors.New("scoring service down")})
	ctx := context.Background()

	f.db.SeedSetting(testutil.FullAutoSetting("tenant-a"))
	f.db.SeedObligation(testutil.NewObligation("obl-1", "tenant-a", "150.00", "ACME GMBH"))

	txn := testutil.NewTransaction("txn-1", "tenant-a", "-150.00", "ACME GMBH")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	// Unavailable classifier means confidence 0: review, never approval.
	require.Eventually(t, func() bool {
		items, err := f.db.Storage.GetPendingReviewItems(ctx, "tenant-a")
		return err == nil && len(items) == 1 && items[0].Status == model.ReviewPending
	}, 5*time.Second, 10*time.Millisecond)

	o, err := f.db.Storage.GetObligationByID(ctx, "tenant-a", "obl-1")
	require.NoError(t, err)
	assert.Equal(t, model.ObligationOpen, o.Status, "nothing may execute on a failed classification")
}

func TestOrchestrator_AmbiguousMatchRoutesToReview(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "RENT", Confidence: 0.99})
	ctx := context.Background()

	f.db.SeedSetting(testutil.FullAutoSetting("tenant-a"))
	f.db.SeedObligation(testutil.NewObligation("obl-1", "tenant-a", "150.00", "ACME GMBH"))
	f.db.SeedObligation(testutil.NewObligation("obl-2", "tenant-a", "150.00", "ACME GMBH"))

	txn := testutil.NewTransaction("txn-1", "tenant-a", "-150.00", "ACME GMBH")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	require.Eventually(t, func() bool {
		items, err := f.db.Storage.GetPendingReviewItems(ctx, "tenant-a")
		return err == nil && len(items) == 1 && len(items[0].Candidates) == 2
	}, 5*time.Second, 10*time.Millisecond, "ambiguous match must park for review despite high confidence")
}

func TestOrchestrator_MissingSettingsNeedsAttention(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "RENT", Confidence: 0.95})
	ctx := context.Background()

	// tenant-a has no automation settings at all.
	txn := testutil.NewTransaction("txn-1", "tenant-a", "-150.00", "ACME GMBH")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	require.Eventually(t, func() bool {
		items, err := f.db.Storage.GetPendingReviewItems(ctx, "tenant-a")
		return err == nil && len(items) == 1 && items[0].Status == model.ReviewNeedsAttention
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_ManualModeParksEverything(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "RENT", Confidence: 0.99})
	ctx := context.Background()

	setting := testutil.FullAutoSetting("tenant-a")
	setting.Mode = model.ModeManual
	f.db.SeedSetting(setting)
	f.db.SeedObligation(testutil.NewObligation("obl-1", "tenant-a", "150.00", "ACME GMBH"))

	txn := testutil.NewTransaction("txn-1", "tenant-a", "-150.00", "ACME GMBH")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	require.Eventually(t, func() bool {
		items, err := f.db.Storage.GetPendingReviewItems(ctx, "tenant-a")
		return err == nil && len(items) == 1
	}, 5*time.Second, 10*time.Millisecond)

	o, err := f.db.Storage.GetObligationByID(ctx, "tenant-a", "obl-1")
	require.NoError(t, err)
	assert.Equal(t, model.ObligationOpen, o.Status)
}

func TestOrchestrator_ExpenseFlowForUnmatched(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "OFFICE_SUPPLIES", Confidence: 0.95})
	ctx := context.Background()

	f.db.SeedSetting(testutil.FullAutoSetting("tenant-a"))
	// No obligations seeded: the transaction proceeds unmatched.

	txn := testutil.NewTransaction("txn-1", "tenant-a", "-42.50", "COFFEE ROASTERS")
	require.NoError(t, f.orchestrator.Submit(ctx, txn))

	require.Eventually(t, func() bool {
		entry, err := f.db.Storage.FindExecutedLedgerEntry(ctx, "tenant-a", "txn-1")
		if err != nil {
			return false
		}
		var payload model.AuditPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			return false
		}
		return payload.Detail == string(executor.ActionCreateExpense)
	}, 5*time.Second, 10*time.Millisecond, "unmatched transaction must book an expense")
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	f := newPipelineFixture(t, &stubClassifier{Category: "RENT", Confidence: 0.95})

	err := f.orchestrator.Submit(context.Background(), model.Transaction{TenantID: "tenant-a"})
	assert.Error(t, err)
	err = f.orchestrator.Submit(context.Background(), model.Transaction{ID: "txn-1"})
	assert.Error(t, err)
}
