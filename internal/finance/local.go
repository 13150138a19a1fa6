// Package finance adapts the Finance domain service interface onto
// local storage. In production deployments the pipeline talks to the
// real Finance service over its API; this adapter provides the same
// contract, including idempotency-token replay, for single-binary and
// test setups.
package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/service"
)

// casAttempts bounds the optimistic-concurrency retry loop on
// obligation mutations.
const casAttempts = 5

// LocalService implements service.FinanceService against the local
// obligation store.
type LocalService struct {
	storage  service.Storage
	payments map[string]*service.PaymentResult
	expenses map[string]*service.ExpenseResult
	mu       sync.Mutex
}

// NewLocalService creates a storage-backed finance service.
func NewLocalService(storage service.Storage) *LocalService {
	return &LocalService{
		storage:  storage,
		payments: make(map[string]*service.PaymentResult),
		expenses: make(map[string]*service.ExpenseResult),
	}
}

// MarkObligationPaid settles part or all of an obligation. A repeated
// idempotency token returns the prior result without touching state.
// Concurrent partial payments race on the obligation version; on a
// conflict the remaining amount is re-fetched and re-checked before the
// mutation is retried.
func (s *LocalService) MarkObligationPaid(ctx context.Context, req service.PaymentRequest) (*service.PaymentResult, error) {
	if req.IdempotencyToken == "" {
		return nil, fmt.Errorf("payment request for %s missing idempotency token", req.ObligationID)
	}

	s.mu.Lock()
	if prior, ok := s.payments[req.IdempotencyToken]; ok {
		s.mu.Unlock()
		replay := *prior
		replay.AlreadyApplied = true
		return &replay, nil
	}
	s.mu.Unlock()

	var result *service.PaymentResult
	for attempt := 1; attempt <= casAttempts; attempt++ {
		obligation, err := s.storage.GetObligationByID(ctx, req.TenantID, req.ObligationID)
		if err != nil {
			return nil, err
		}
		if !obligation.Open() {
			return nil, fmt.Errorf("obligation %s is %s and cannot accept payments",
				obligation.ID, obligation.Status)
		}
		if req.Amount.GreaterThan(obligation.RemainingAmount) {
			return nil, fmt.Errorf("payment %s exceeds remaining amount %s on obligation %s",
				req.Amount, obligation.RemainingAmount, obligation.ID)
		}

		updated, err := s.storage.ApplyObligationPayment(ctx, req.TenantID, req.ObligationID, req.Amount, obligation.Version)
		if errors.Is(err, common.ErrVersionConflict) {
			slog.Debug("Obligation version conflict, re-evaluating",
				"obligation_id", req.ObligationID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		result = &service.PaymentResult{
			ObligationID:    updated.ID,
			Status:          updated.Status,
			RemainingAmount: updated.RemainingAmount,
		}
		break
	}
	if result == nil {
		return nil, fmt.Errorf("obligation %s: %w after %d attempts",
			req.ObligationID, common.ErrVersionConflict, casAttempts)
	}

	s.mu.Lock()
	s.payments[req.IdempotencyToken] = result
	s.mu.Unlock()
	return result, nil
}

// CreateExpense books an expense for an unmatched transaction.
func (s *LocalService) CreateExpense(ctx context.Context, req service.ExpenseRequest) (*service.ExpenseResult, error) {
	if req.IdempotencyToken == "" {
		return nil, fmt.Errorf("expense request for %s missing idempotency token", req.TransactionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.expenses[req.IdempotencyToken]; ok {
		replay := *prior
		replay.AlreadyApplied = true
		return &replay, nil
	}

	// Expense records live with the Finance domain; here we only mint
	// the identifier and remember the token.
	result := &service.ExpenseResult{ExpenseID: uuid.NewString()}
	s.expenses[req.IdempotencyToken] = result

	slog.Info("Booked expense",
		"tenant_id", req.TenantID,
		"transaction_id", req.TransactionID,
		"category", req.Category,
		"amount", req.Amount.String())

	return result, nil
}

var _ service.FinanceService = (*LocalService)(nil)
