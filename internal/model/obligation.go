package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObligationStatus tracks how much of an obligation has been settled.
type ObligationStatus string

// Obligation status constants.
const (
	ObligationOpen             ObligationStatus = "OPEN"
	ObligationPartiallyMatched ObligationStatus = "PARTIALLY_MATCHED"
	ObligationSettled          ObligationStatus = "SETTLED"
)

// ObligationKind distinguishes receivables from payables.
type ObligationKind string

// Obligation kind constants.
const (
	KindInvoice ObligationKind = "INVOICE"
	KindBill    ObligationKind = "BILL"
)

// Obligation is the unified view over invoices and bills. The Finance
// domain service owns these records; the reconciliation pipeline reads
// them and requests status transitions through the Action Executor.
// Version supports optimistic concurrency on partial-payment updates.
type Obligation struct {
	DueDate         time.Time
	ID              string
	TenantID        string
	CounterpartyRef string
	Kind            ObligationKind
	Status          ObligationStatus
	Amount          decimal.Decimal
	RemainingAmount decimal.Decimal
	Version         int64
}

// Open reports whether the obligation can still accept payments.
func (o *Obligation) Open() bool {
	return o.Status == ObligationOpen || o.Status == ObligationPartiallyMatched
}
