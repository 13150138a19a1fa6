// Package executor performs the domain mutation an automation decision
// calls for, exactly once.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Action names the domain mutation an execution performed.
type Action string

// Action constants.
const (
	ActionMarkPaid      Action = "MARK_OBLIGATION_PAID"
	ActionCreateExpense Action = "CREATE_EXPENSE"
)

// ExecutionResult reports a completed (or replayed) execution.
type ExecutionResult struct {
	TransactionID string
	ObligationID  string
	Action        Action
	SequenceNo    int64
	Replayed      bool
}

// Config holds the executor's retry tunables for domain-service calls.
type Config struct {
	RetryOpts service.RetryOptions
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RetryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Executor carries out automation decisions idempotently. The
// per-transaction execution token is the transaction ID itself, recorded
// in the ledger: a prior EXECUTED entry short-circuits the whole call
// and returns the original result.
type Executor struct {
	storage  service.Storage
	finance  service.FinanceService
	auditLog service.AuditLog
	notify   *notifyQueue
	config   Config
}

// New creates an executor. The notifier may be nil, in which case
// downstream notifications are skipped.
func New(storage service.Storage, finance service.FinanceService, auditLog service.AuditLog, notifier service.Notifier, config Config) *Executor {
	return &Executor{
		storage:  storage,
		finance:  finance,
		auditLog: auditLog,
		notify:   newNotifyQueue(notifier, storage, config.RetryOpts),
		config:   config,
	}
}

// Start launches the secondary-effect retry worker.
func (e *Executor) Start(ctx context.Context) {
	e.notify.start(ctx)
}

// Close drains the notification queue.
func (e *Executor) Close() {
	e.notify.close()
}

// Execute performs the mutation for a decision. Calling it twice with
// the same transaction ID produces one domain mutation and two
// identical results.
func (e *Executor) Execute(ctx context.Context, decision model.AutomationDecision) (*ExecutionResult, error) {
	// Idempotency check: a prior EXECUTED entry means the work is done.
	prior, err := e.storage.FindExecutedLedgerEntry(ctx, decision.TenantID, decision.TransactionID)
	if err == nil {
		return replayResult(prior)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}

	txn, err := e.storage.GetTransactionByID(ctx, decision.TenantID, decision.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	// The EXECUTING transition is logged before any mutation; if this
	// write fails the run is parked without side effects.
	if _, err := e.auditLog.Append(ctx, decision.TenantID, model.AuditPayload{
		TransactionID: decision.TransactionID,
		State:         model.StateExecuting,
		Decision:      decision.Decision,
		ObligationID:  e.obligationID(ctx, decision),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLedgerWrite, err)
	}

	var result *ExecutionResult
	if candidate := e.candidate(ctx, decision); candidate != nil {
		result, err = e.settleObligation(ctx, txn, decision, candidate)
	} else {
		result, err = e.bookExpense(ctx, txn, decision)
	}
	if err != nil {
		return nil, err
	}

	// The EXECUTED entry is the durable execution token.
	entry, err := e.auditLog.Append(ctx, decision.TenantID, model.AuditPayload{
		TransactionID: decision.TransactionID,
		State:         model.StateExecuted,
		Decision:      decision.Decision,
		ObligationID:  result.ObligationID,
		Amount:        txn.Amount.Abs().String(),
		Detail:        string(result.Action),
	})
	if err != nil {
		// The mutation is committed; replay via the finance service's
		// idempotency token will recover the result on retry.
		return nil, fmt.Errorf("%w: executed but not yet logged: %v", common.ErrLedgerWrite, err)
	}
	result.SequenceNo = entry.SequenceNo

	// Downstream notification is a secondary effect: queued, retried,
	// never allowed to roll back financial state.
	e.notify.enqueue(service.NotificationEvent{
		TenantID:      decision.TenantID,
		TransactionID: decision.TransactionID,
		Kind:          string(result.Action),
		Detail:        result.ObligationID,
	})

	return result, nil
}

func (e *Executor) settleObligation(ctx context.Context, txn *model.Transaction, decision model.AutomationDecision, candidate *model.MatchCandidate) (*ExecutionResult, error) {
	if err := e.storage.AcceptMatchCandidate(ctx, decision.TransactionID, candidate.ID); err != nil {
		return nil, fmt.Errorf("failed to accept match candidate: %w", err)
	}

	var payment *service.PaymentResult
	err := common.WithRetry(ctx, func() error {
		var payErr error
		payment, payErr = e.finance.MarkObligationPaid(ctx, service.PaymentRequest{
			TenantID:         decision.TenantID,
			ObligationID:     candidate.ObligationID,
			TransactionID:    decision.TransactionID,
			IdempotencyToken: decision.TransactionID,
			Amount:           txn.Amount.Abs(),
		})
		if payErr != nil && !common.IsRetryable(payErr) {
			return &common.RetryableError{Err: payErr, Retryable: false}
		}
		return payErr
	}, e.config.RetryOpts)
	if err != nil {
		return nil, e.deadLetter(ctx, decision, fmt.Errorf("mark obligation paid failed: %w", err))
	}

	if payment.AlreadyApplied {
		slog.Info("Finance service replayed prior payment",
			"transaction_id", decision.TransactionID,
			"obligation_id", payment.ObligationID)
	}

	return &ExecutionResult{
		TransactionID: decision.TransactionID,
		ObligationID:  payment.ObligationID,
		Action:        ActionMarkPaid,
	}, nil
}

func (e *Executor) bookExpense(ctx context.Context, txn *model.Transaction, decision model.AutomationDecision) (*ExecutionResult, error) {
	classification, err := e.storage.GetLatestClassification(ctx, decision.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load classification: %w", err)
	}

	err = common.WithRetry(ctx, func() error {
		_, expErr := e.finance.CreateExpense(ctx, service.ExpenseRequest{
			TenantID:         decision.TenantID,
			TransactionID:    decision.TransactionID,
			IdempotencyToken: decision.TransactionID,
			Category:         classification.Category,
			Amount:           txn.Amount.Abs(),
		})
		if expErr != nil && !common.IsRetryable(expErr) {
			return &common.RetryableError{Err: expErr, Retryable: false}
		}
		return expErr
	}, e.config.RetryOpts)
	if err != nil {
		return nil, e.deadLetter(ctx, decision, fmt.Errorf("create expense failed: %w", err))
	}

	return &ExecutionResult{
		TransactionID: decision.TransactionID,
		Action:        ActionCreateExpense,
	}, nil
}

// deadLetter surfaces an exhausted execution as a NEEDS_ATTENTION
// review item so it is never silently dropped.
func (e *Executor) deadLetter(ctx context.Context, decision model.AutomationDecision, cause error) error {
	item := &model.ReviewItem{
		ID:            uuid.NewString(),
		TransactionID: decision.TransactionID,
		TenantID:      decision.TenantID,
		Status:        model.ReviewNeedsAttention,
		Reason:        cause.Error(),
	}
	if err := e.storage.SaveReviewItem(ctx, item); err != nil {
		slog.Error("Failed to dead-letter execution",
			"transaction_id", decision.TransactionID,
			"error", err)
	}
	if _, err := e.auditLog.Append(ctx, decision.TenantID, model.AuditPayload{
		TransactionID: decision.TransactionID,
		State:         model.StateReviewPending,
		Reason:        "execution dead-lettered",
		Detail:        cause.Error(),
	}); err != nil {
		slog.Error("Failed to log dead-letter",
			"transaction_id", decision.TransactionID,
			"error", err)
	}
	return cause
}

// candidate resolves the decision's accepted candidate, if any.
func (e *Executor) candidate(ctx context.Context, decision model.AutomationDecision) *model.MatchCandidate {
	if decision.CandidateID == "" {
		return nil
	}
	candidates, err := e.storage.GetMatchCandidates(ctx, decision.TransactionID)
	if err != nil {
		return nil
	}
	for i := range candidates {
		if candidates[i].ID == decision.CandidateID {
			return &candidates[i]
		}
	}
	return nil
}

func (e *Executor) obligationID(ctx context.Context, decision model.AutomationDecision) string {
	if c := e.candidate(ctx, decision); c != nil {
		return c.ObligationID
	}
	return ""
}

func replayResult(entry *model.AuditLogEntry) (*ExecutionResult, error) {
	var payload model.AuditPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode executed entry payload: %w", err)
	}
	return &ExecutionResult{
		TransactionID: payload.TransactionID,
		ObligationID:  payload.ObligationID,
		Action:        Action(payload.Detail),
		SequenceNo:    entry.SequenceNo,
		Replayed:      true,
	}, nil
}
