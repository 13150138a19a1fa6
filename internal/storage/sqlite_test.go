package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/shopspring/decimal"
)

func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func testTransaction(id, tenantID, amount string) model.Transaction {
	txn := model.Transaction{
		ID:              id,
		TenantID:        tenantID,
		ValueDate:       time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.RequireFromString(amount),
		Currency:        "EUR",
		CounterpartyRef: "ACME GMBH",
		RawDescription:  "INVOICE 4711",
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStorage(""); err == nil {
		t.Fatal("expected error for empty database path")
	}
}

func TestSQLiteStorage_SaveAndGetTransaction(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := testTransaction("txn-1", "tenant-a", "150.00")
	if err := store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}

	got, err := store.GetTransactionByID(ctx, "tenant-a", "txn-1")
	if err != nil {
		t.Fatalf("GetTransactionByID failed: %v", err)
	}
	if !got.Amount.Equal(txn.Amount) {
		t.Errorf("amount mismatch: got %s, want %s", got.Amount, txn.Amount)
	}
	if got.CounterpartyRef != txn.CounterpartyRef {
		t.Errorf("counterparty mismatch: got %q, want %q", got.CounterpartyRef, txn.CounterpartyRef)
	}
	if got.Hash != txn.Hash {
		t.Errorf("hash mismatch: got %q, want %q", got.Hash, txn.Hash)
	}
}

func TestSQLiteStorage_TransactionTenantIsolation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := testTransaction("txn-1", "tenant-a", "150.00")
	if err := store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}

	if _, err := store.GetTransactionByID(ctx, "tenant-b", "txn-1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong tenant, got %v", err)
	}

	exists, err := store.TransactionExists(ctx, "tenant-b", "txn-1")
	if err != nil {
		t.Fatalf("TransactionExists failed: %v", err)
	}
	if exists {
		t.Error("transaction should not exist for another tenant")
	}
}

func TestSQLiteStorage_TransactionRedelivery(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	// The bank feed is at-least-once: a second delivery of the same
	// transaction must be a no-op, not an error.
	txn := testTransaction("txn-1", "tenant-a", "150.00")
	if err := store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		t.Fatalf("redelivery save failed: %v", err)
	}

	exists, err := store.TransactionExists(ctx, "tenant-a", "txn-1")
	if err != nil {
		t.Fatalf("TransactionExists failed: %v", err)
	}
	if !exists {
		t.Error("transaction should exist after save")
	}
}

func TestSQLiteStorage_SaveTransactions_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		name string
		txns []model.Transaction
	}{
		{name: "nil slice", txns: nil},
		{name: "empty slice", txns: []model.Transaction{}},
		{name: "missing ID", txns: []model.Transaction{{TenantID: "tenant-a", ValueDate: time.Now(), Currency: "EUR"}}},
		{name: "missing tenant", txns: []model.Transaction{{ID: "txn-1", ValueDate: time.Now(), Currency: "EUR"}}},
		{name: "missing currency", txns: []model.Transaction{{ID: "txn-1", TenantID: "tenant-a", ValueDate: time.Now()}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.SaveTransactions(ctx, tt.txns); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTransaction_GenerateHash(t *testing.T) {
	base := testTransaction("txn-1", "tenant-a", "150.00")

	same := base
	if base.GenerateHash() != same.GenerateHash() {
		t.Error("identical transactions must hash identically")
	}

	differentAmount := base
	differentAmount.Amount = decimal.RequireFromString("151.00")
	if base.GenerateHash() == differentAmount.GenerateHash() {
		t.Error("different amounts must produce different hashes")
	}

	differentTenant := base
	differentTenant.TenantID = "tenant-b"
	if base.GenerateHash() == differentTenant.GenerateHash() {
		t.Error("different tenants must produce different hashes")
	}

	differentDate := base
	differentDate.ValueDate = base.ValueDate.AddDate(0, 0, 1)
	if base.GenerateHash() == differentDate.GenerateHash() {
		t.Error("different value dates must produce different hashes")
	}
}

func TestSQLiteStorage_MigrateIsIdempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	// createTestStorage already migrated once.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var version int
	if err := store.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, ExpectedSchemaVersion)
	}
}
