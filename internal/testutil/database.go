// Package testutil provides shared helpers for tests that need a real
// database behind the Storage interface.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/storage"
	"github.com/shopspring/decimal"
)

// TestDB wraps an in-memory, fully migrated SQLite store with seeding
// helpers. Cleanup is registered automatically.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database for one test.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return &TestDB{Storage: store, t: t}
}

// SeedSetting stores a tenant automation policy.
func (db *TestDB) SeedSetting(setting model.AutomationSetting) {
	db.t.Helper()
	if err := db.Storage.SaveAutomationSetting(context.Background(), &setting); err != nil {
		db.t.Fatalf("failed to seed automation setting: %v", err)
	}
}

// SeedObligation stores an obligation.
func (db *TestDB) SeedObligation(o model.Obligation) {
	db.t.Helper()
	if err := db.Storage.SaveObligation(context.Background(), &o); err != nil {
		db.t.Fatalf("failed to seed obligation: %v", err)
	}
}

// SeedTransaction stores a transaction.
func (db *TestDB) SeedTransaction(txn model.Transaction) {
	db.t.Helper()
	if err := db.Storage.SaveTransactions(context.Background(), []model.Transaction{txn}); err != nil {
		db.t.Fatalf("failed to seed transaction: %v", err)
	}
}

// NewTransaction builds a valid transaction with sensible defaults.
func NewTransaction(id, tenantID, amount, counterparty string) model.Transaction {
	txn := model.Transaction{
		ID:              id,
		TenantID:        tenantID,
		ValueDate:       time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.RequireFromString(amount),
		Currency:        "EUR",
		CounterpartyRef: counterparty,
		RawDescription:  "payment " + counterparty,
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// NewObligation builds an open obligation with sensible defaults.
func NewObligation(id, tenantID, amount, counterparty string) model.Obligation {
	value := decimal.RequireFromString(amount)
	return model.Obligation{
		ID:              id,
		TenantID:        tenantID,
		Kind:            model.KindInvoice,
		Status:          model.ObligationOpen,
		Amount:          value,
		RemainingAmount: value,
		DueDate:         time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		CounterpartyRef: counterparty,
		Version:         1,
	}
}

// FullAutoSetting returns a permissive policy for tests exercising the
// auto-approval path.
func FullAutoSetting(tenantID string) model.AutomationSetting {
	return model.AutomationSetting{
		TenantID:            tenantID,
		Mode:                model.ModeFullAuto,
		ConfidenceThreshold: 0.8,
		AmountCeiling:       decimal.RequireFromString("10000"),
	}
}
