// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single bank transaction delivered by a bank feed.
// It is an immutable fact: downstream records reference it by ID and
// never mutate it.
type Transaction struct {
	ValueDate       time.Time
	ID              string
	TenantID        string
	CounterpartyRef string // IBAN or counterparty name as reported by the bank
	RawDescription  string
	Currency        string
	Hash            string
	Amount          decimal.Decimal
}

// GenerateHash creates a stable hash for duplicate detection across
// re-deliveries of the same bank feed.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.TenantID,
		t.ValueDate.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.CounterpartyRef,
		t.RawDescription)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
