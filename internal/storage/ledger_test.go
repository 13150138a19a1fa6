package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/ledger"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// appendTestEntries writes a well-formed chain of n entries for a tenant.
func appendTestEntries(t *testing.T, store *SQLiteStorage, tenantID string, payloads []model.AuditPayload) []model.AuditLogEntry {
	t.Helper()
	ctx := context.Background()

	prevHash := ledger.GenesisHash()
	entries := make([]model.AuditLogEntry, 0, len(payloads))
	for i, payload := range payloads {
		canonical, err := payload.Canonical()
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}

		payloadHash := ledger.PayloadHash(canonical)
		entry := model.AuditLogEntry{
			TenantID:    tenantID,
			SequenceNo:  int64(i) + 1,
			PrevHash:    prevHash,
			PayloadHash: payloadHash,
			EntryHash:   ledger.EntryHash(prevHash, payloadHash, int64(i)+1),
			Payload:     canonical,
			CreatedAt:   time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendLedgerEntry(ctx, &entry); err != nil {
			t.Fatalf("AppendLedgerEntry %d failed: %v", entry.SequenceNo, err)
		}
		prevHash = entry.EntryHash
		entries = append(entries, entry)
	}
	return entries
}

func TestSQLiteStorage_LedgerAppendAndHead(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.GetLastLedgerEntry(ctx, "tenant-a"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty chain, got %v", err)
	}

	entries := appendTestEntries(t, store, "tenant-a", []model.AuditPayload{
		{TransactionID: "txn-1", State: model.StateReceived},
		{TransactionID: "txn-1", State: model.StateClassified, Category: "RENT"},
	})

	head, err := store.GetLastLedgerEntry(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("GetLastLedgerEntry failed: %v", err)
	}
	if head.SequenceNo != 2 {
		t.Errorf("head sequence = %d, want 2", head.SequenceNo)
	}
	if head.EntryHash != entries[1].EntryHash {
		t.Error("head entry hash does not match last appended entry")
	}
}

func TestSQLiteStorage_LedgerRejectsDuplicateSequence(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	entries := appendTestEntries(t, store, "tenant-a", []model.AuditPayload{
		{TransactionID: "txn-1", State: model.StateReceived},
	})

	// A concurrent writer racing on the same sequence number must lose to
	// the UNIQUE constraint.
	dup := entries[0]
	err := store.AppendLedgerEntry(ctx, &dup)
	if !errors.Is(err, common.ErrLedgerWrite) {
		t.Errorf("expected ErrLedgerWrite for duplicate sequence, got %v", err)
	}
}

func TestSQLiteStorage_FindExecutedLedgerEntry(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	appendTestEntries(t, store, "tenant-a", []model.AuditPayload{
		{TransactionID: "txn-1", State: model.StateReceived},
		{TransactionID: "txn-1", State: model.StateExecuting},
		{TransactionID: "txn-1", State: model.StateExecuted, ObligationID: "obl-1", Detail: "MARK_OBLIGATION_PAID"},
		{TransactionID: "txn-2", State: model.StateReceived},
	})

	entry, err := store.FindExecutedLedgerEntry(ctx, "tenant-a", "txn-1")
	if err != nil {
		t.Fatalf("FindExecutedLedgerEntry failed: %v", err)
	}
	var payload model.AuditPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.State != model.StateExecuted || payload.ObligationID != "obl-1" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	if _, err := store.FindExecutedLedgerEntry(ctx, "tenant-a", "txn-2"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unexecuted transaction, got %v", err)
	}
}

func TestSQLiteStorage_GetLedgerEntries_Filter(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	entries := appendTestEntries(t, store, "tenant-a", []model.AuditPayload{
		{TransactionID: "txn-1", State: model.StateReceived},
		{TransactionID: "txn-1", State: model.StateClassified},
		{TransactionID: "txn-1", State: model.StateMatched},
	})

	all, err := store.GetLedgerEntries(ctx, "tenant-a", service.LedgerFilter{})
	if err != nil {
		t.Fatalf("GetLedgerEntries failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	for i, e := range all {
		if e.SequenceNo != int64(i)+1 {
			t.Errorf("entries out of sequence order at %d: %d", i, e.SequenceNo)
		}
	}

	windowed, err := store.GetLedgerEntries(ctx, "tenant-a", service.LedgerFilter{
		From: entries[1].CreatedAt,
	})
	if err != nil {
		t.Fatalf("filtered GetLedgerEntries failed: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("got %d windowed entries, want 2", len(windowed))
	}

	if _, err := store.GetLedgerEntries(ctx, "tenant-a", service.LedgerFilter{
		From: entries[2].CreatedAt,
		To:   entries[0].CreatedAt,
	}); !errors.Is(err, ErrInvalidDateRange) {
		t.Errorf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestSQLiteStorage_ListLedgerTenants(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	appendTestEntries(t, store, "tenant-b", []model.AuditPayload{{TransactionID: "txn-1", State: model.StateReceived}})
	appendTestEntries(t, store, "tenant-a", []model.AuditPayload{{TransactionID: "txn-2", State: model.StateReceived}})

	tenants, err := store.ListLedgerTenants(ctx)
	if err != nil {
		t.Fatalf("ListLedgerTenants failed: %v", err)
	}
	if len(tenants) != 2 || tenants[0] != "tenant-a" || tenants[1] != "tenant-b" {
		t.Errorf("unexpected tenants: %v", tenants)
	}
}

func TestSQLiteStorage_LedgerTamperDetection(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	appendTestEntries(t, store, "tenant-a", []model.AuditPayload{
		{TransactionID: "txn-1", State: model.StateReceived},
		{TransactionID: "txn-1", State: model.StateExecuted, Amount: "150.00"},
		{TransactionID: "txn-2", State: model.StateReceived},
	})

	verifyChain := func() ledger.VerificationResult {
		entries, err := store.GetLedgerEntries(ctx, "tenant-a", service.LedgerFilter{})
		if err != nil {
			t.Fatalf("GetLedgerEntries failed: %v", err)
		}
		return ledger.Verify("tenant-a", entries)
	}

	if result := verifyChain(); !result.Valid {
		t.Fatalf("untouched chain must verify, got %s", result.Detail)
	}

	// Simulate an out-of-band edit directly against the table; no code
	// path in the application can do this.
	if _, err := store.db.ExecContext(ctx, `
		UPDATE audit_log SET payload = json_set(payload, '$.amount', '999.00')
		WHERE tenant_id = 'tenant-a' AND sequence_no = 2
	`); err != nil {
		t.Fatalf("failed to tamper with entry: %v", err)
	}

	result := verifyChain()
	if result.Valid {
		t.Fatal("tampered chain must fail verification")
	}
	if result.FirstInvalid != 1 {
		t.Errorf("first invalid index = %d, want 1", result.FirstInvalid)
	}
}
