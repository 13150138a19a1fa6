// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/shopspring/decimal"
)

// LedgerFilter bounds an audit export query. Zero times mean unbounded.
type LedgerFilter struct {
	From time.Time
	To   time.Time
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Transaction operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransactionByID(ctx context.Context, tenantID, id string) (*model.Transaction, error)
	TransactionExists(ctx context.Context, tenantID, id string) (bool, error)

	// Obligation operations
	SaveObligation(ctx context.Context, obligation *model.Obligation) error
	GetObligationByID(ctx context.Context, tenantID, id string) (*model.Obligation, error)
	GetOpenObligations(ctx context.Context, tenantID string) ([]model.Obligation, error)
	// ApplyObligationPayment decrements the remaining amount with an
	// optimistic version check; returns common.ErrVersionConflict when
	// the stored version no longer matches.
	ApplyObligationPayment(ctx context.Context, tenantID, obligationID string, amount decimal.Decimal, expectedVersion int64) (*model.Obligation, error)

	// Classification operations
	SaveClassification(ctx context.Context, classification *model.Classification) error
	GetLatestClassification(ctx context.Context, transactionID string) (*model.Classification, error)

	// Match candidate operations
	SaveMatchCandidates(ctx context.Context, candidates []model.MatchCandidate) error
	GetMatchCandidates(ctx context.Context, transactionID string) ([]model.MatchCandidate, error)
	// AcceptMatchCandidate marks one candidate accepted and clears any
	// prior acceptance for the same transaction.
	AcceptMatchCandidate(ctx context.Context, transactionID, candidateID string) error

	// Decision operations
	SaveDecision(ctx context.Context, decision *model.AutomationDecision) error

	// Review operations
	SaveReviewItem(ctx context.Context, item *model.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error)
	GetPendingReviewItems(ctx context.Context, tenantID string) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string, status model.ReviewStatus, reviewerID string) error

	// Automation settings
	GetAutomationSetting(ctx context.Context, tenantID string) (*model.AutomationSetting, error)
	SaveAutomationSetting(ctx context.Context, setting *model.AutomationSetting) error

	// Ledger operations. Entries are immutable; there is deliberately no
	// update or delete.
	AppendLedgerEntry(ctx context.Context, entry *model.AuditLogEntry) error
	GetLastLedgerEntry(ctx context.Context, tenantID string) (*model.AuditLogEntry, error)
	GetLedgerEntries(ctx context.Context, tenantID string, filter LedgerFilter) ([]model.AuditLogEntry, error)
	FindExecutedLedgerEntry(ctx context.Context, tenantID, transactionID string) (*model.AuditLogEntry, error)
	ListLedgerTenants(ctx context.Context) ([]string, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Classifier scores a transaction into a (category, confidence) pair.
type Classifier interface {
	Classify(ctx context.Context, txn model.Transaction) (*model.Classification, error)
}

// AuditLog is the serialized append path into a tenant's hash chain.
// Append blocks until the entry is durably written and acknowledged.
type AuditLog interface {
	Append(ctx context.Context, tenantID string, payload model.AuditPayload) (*model.AuditLogEntry, error)
}

// PaymentRequest asks the Finance domain service to settle part or all
// of an obligation.
type PaymentRequest struct {
	TenantID         string
	ObligationID     string
	TransactionID    string
	IdempotencyToken string
	Amount           decimal.Decimal
}

// PaymentResult reports the obligation's state after settlement.
// AlreadyApplied is true when the idempotency token was seen before and
// the prior result is being returned.
type PaymentResult struct {
	ObligationID    string
	Status          model.ObligationStatus
	RemainingAmount decimal.Decimal
	AlreadyApplied  bool
}

// ExpenseRequest asks the Finance domain service to book an expense for
// an unmatched transaction.
type ExpenseRequest struct {
	TenantID         string
	TransactionID    string
	IdempotencyToken string
	Category         string
	Amount           decimal.Decimal
}

// ExpenseResult reports the booked expense.
type ExpenseResult struct {
	ExpenseID      string
	AlreadyApplied bool
}

// FinanceService is the external domain service that owns obligations.
// Both operations accept an idempotency token and return the prior
// result when the token was already applied.
type FinanceService interface {
	MarkObligationPaid(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	CreateExpense(ctx context.Context, req ExpenseRequest) (*ExpenseResult, error)
}

// NotificationEvent is a downstream notification about a completed
// pipeline run. Delivery is a secondary effect: failures are retried
// and never roll back financial state.
type NotificationEvent struct {
	TenantID      string
	TransactionID string
	Kind          string
	Detail        string
}

// Notifier dispatches downstream notifications.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
