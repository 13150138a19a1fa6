// Package storage provides the SQLite persistence layer for the
// reconciliation pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerguard/reconcile/internal/model"
)

// Validation errors.
var (
	ErrNilContext            = errors.New("context cannot be nil")
	ErrEmptyString           = errors.New("string parameter cannot be empty")
	ErrNilParameter          = errors.New("parameter cannot be nil")
	ErrEmptySlice            = errors.New("slice cannot be empty")
	ErrInvalidDateRange      = errors.New("start date must be before end date")
	ErrInvalidTransaction    = errors.New("invalid transaction")
	ErrInvalidObligation     = errors.New("invalid obligation")
	ErrInvalidClassification = errors.New("invalid classification")
	ErrInvalidLedgerEntry    = errors.New("invalid ledger entry")
	ErrInvalidReviewItem     = errors.New("invalid review item")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidTransaction)
	}
	if txn.ValueDate.IsZero() {
		return fmt.Errorf("%w: missing value date", ErrInvalidTransaction)
	}
	if txn.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidTransaction)
	}
	return nil
}

// validateObligation validates an obligation.
func validateObligation(o *model.Obligation) error {
	if o == nil {
		return fmt.Errorf("%w: obligation", ErrNilParameter)
	}
	if o.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidObligation)
	}
	if o.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidObligation)
	}
	switch o.Status {
	case model.ObligationOpen, model.ObligationPartiallyMatched, model.ObligationSettled:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidObligation, o.Status)
	}
	if o.RemainingAmount.IsNegative() {
		return fmt.Errorf("%w: negative remaining amount", ErrInvalidObligation)
	}
	return nil
}

// validateClassification validates a classification.
func validateClassification(c *model.Classification) error {
	if c == nil {
		return fmt.Errorf("%w: classification", ErrNilParameter)
	}
	if c.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidClassification)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidClassification)
	}
	return nil
}

// validateLedgerEntry validates an audit log entry before append.
func validateLedgerEntry(e *model.AuditLogEntry) error {
	if e == nil {
		return fmt.Errorf("%w: ledger entry", ErrNilParameter)
	}
	if e.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidLedgerEntry)
	}
	if e.SequenceNo < 1 {
		return fmt.Errorf("%w: sequence number must start at 1", ErrInvalidLedgerEntry)
	}
	if e.PrevHash == "" || e.EntryHash == "" || e.PayloadHash == "" {
		return fmt.Errorf("%w: missing hash", ErrInvalidLedgerEntry)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidLedgerEntry)
	}
	return nil
}

// validateReviewItem validates a review item.
func validateReviewItem(item *model.ReviewItem) error {
	if item == nil {
		return fmt.Errorf("%w: review item", ErrNilParameter)
	}
	if item.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidReviewItem)
	}
	if item.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidReviewItem)
	}
	if item.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidReviewItem)
	}
	return nil
}
