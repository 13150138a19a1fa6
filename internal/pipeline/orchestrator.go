// Package pipeline drains inbound bank transactions through
// classification, matching, the automation gate and execution, one
// bounded worker pool per tenant.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/executor"
	"github.com/ledgerguard/reconcile/internal/gate"
	"github.com/ledgerguard/reconcile/internal/match"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/review"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// WorkersPerTenant bounds concurrent processing within one tenant.
	// Ledger writes still serialize through the tenant's single writer.
	WorkersPerTenant int
	// QueueSize is the per-tenant inbound buffer; sends block when it is
	// full, giving the bank feed backpressure instead of unbounded
	// fan-out.
	QueueSize int
	// CallTimeout applies per external call (classifier, matching
	// lookups). Calls are never left hanging indefinitely.
	CallTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		WorkersPerTenant: 4,
		QueueSize:        64,
		CallTimeout:      5 * time.Second,
	}
}

// Orchestrator runs the reconciliation pipeline.
type Orchestrator struct {
	storage    service.Storage
	classifier service.Classifier
	matcher    *match.Engine
	auditLog   service.AuditLog
	executor   *executor.Executor
	review     *review.Queue
	config     Config

	ctx     context.Context
	cancel  context.CancelFunc
	tenants map[string]chan model.Transaction
	parked  []model.Transaction
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// New creates an orchestrator. Start must be called before Submit.
func New(storage service.Storage, classifier service.Classifier, matcher *match.Engine, auditLog service.AuditLog, exec *executor.Executor, reviewQueue *review.Queue, config Config) *Orchestrator {
	if config.WorkersPerTenant <= 0 {
		config.WorkersPerTenant = DefaultConfig().WorkersPerTenant
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Orchestrator{
		storage:    storage,
		classifier: classifier,
		matcher:    matcher,
		auditLog:   auditLog,
		executor:   exec,
		review:     reviewQueue,
		config:     config,
		tenants:    make(map[string]chan model.Transaction),
	}
}

// Start begins accepting transactions.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.executor.Start(o.ctx)
}

// Close stops the worker pools and waits for in-flight work.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, queue := range o.tenants {
		close(queue)
	}
	o.tenants = make(map[string]chan model.Transaction)
	o.mu.Unlock()

	o.wg.Wait()
	if o.cancel != nil {
		o.cancel()
	}
	o.executor.Close()
}

// Submit admits one transaction to its tenant's pipeline. The bank feed
// delivers at least once; duplicates are rejected by (tenantID,
// transactionID) with common.ErrDuplicateTransaction.
func (o *Orchestrator) Submit(ctx context.Context, txn model.Transaction) error {
	if txn.ID == "" || txn.TenantID == "" {
		return fmt.Errorf("transaction missing ID or tenant ID")
	}

	exists, err := o.storage.TransactionExists(ctx, txn.TenantID, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate: %w", err)
	}
	if exists {
		return fmt.Errorf("transaction %s for tenant %s: %w",
			txn.ID, txn.TenantID, common.ErrDuplicateTransaction)
	}

	if err := o.storage.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		return fmt.Errorf("failed to persist transaction: %w", err)
	}

	queue := o.tenantQueue(txn.TenantID)
	select {
	case queue <- txn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryParked re-enqueues transactions whose pipeline run failed on a
// ledger write. Called periodically by the serve loop.
func (o *Orchestrator) RetryParked(ctx context.Context) {
	o.mu.Lock()
	parked := o.parked
	o.parked = nil
	o.mu.Unlock()

	for _, txn := range parked {
		queue := o.tenantQueue(txn.TenantID)
		select {
		case queue <- txn:
		case <-ctx.Done():
			o.park(txn)
			return
		}
	}
}

// ParkedCount reports how many transactions await a ledger-write retry.
func (o *Orchestrator) ParkedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.parked)
}

func (o *Orchestrator) tenantQueue(tenantID string) chan model.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()

	if queue, ok := o.tenants[tenantID]; ok {
		return queue
	}

	queue := make(chan model.Transaction, o.config.QueueSize)
	o.tenants[tenantID] = queue
	for i := 0; i < o.config.WorkersPerTenant; i++ {
		o.wg.Add(1)
		go o.worker(tenantID, queue)
	}
	return queue
}

func (o *Orchestrator) worker(tenantID string, queue <-chan model.Transaction) {
	defer o.wg.Done()
	for {
		select {
		case txn, ok := <-queue:
			if !ok {
				return
			}
			o.process(o.ctx, txn)
		case <-o.ctx.Done():
			return
		}
	}
}

// process runs one transaction through the full state machine. Every
// transition lands in the ledger before the pipeline moves on; a failed
// ledger write parks the transaction for a later pass.
func (o *Orchestrator) process(ctx context.Context, txn model.Transaction) {
	logger := slog.With("transaction_id", txn.ID, "tenant_id", txn.TenantID)

	if _, err := o.auditLog.Append(ctx, txn.TenantID, model.AuditPayload{
		TransactionID: txn.ID,
		State:         model.StateReceived,
	}); err != nil {
		logger.Error("Ledger write failed, parking transaction", "error", err)
		o.park(txn)
		return
	}

	setting, err := o.storage.GetAutomationSetting(ctx, txn.TenantID)
	if err != nil {
		logger.Error("Missing tenant automation settings", "error", err)
		o.needsAttention(ctx, txn, fmt.Sprintf("missing automation settings: %v", err))
		return
	}

	classification := o.classify(ctx, txn, logger)
	if _, err := o.auditLog.Append(ctx, txn.TenantID, model.AuditPayload{
		TransactionID: txn.ID,
		State:         model.StateClassified,
		Category:      classification.Category,
		Detail:        fmt.Sprintf("confidence %.2f model %s", classification.Confidence, classification.ModelVersion),
	}); err != nil {
		logger.Error("Ledger write failed, parking transaction", "error", err)
		o.park(txn)
		return
	}

	candidates, err := o.findCandidates(ctx, txn)
	if err != nil {
		logger.Error("Matching failed", "error", err)
		o.needsAttention(ctx, txn, fmt.Sprintf("matching failed: %v", err))
		return
	}
	if len(candidates) > 0 {
		if err := o.storage.SaveMatchCandidates(ctx, candidates); err != nil {
			logger.Error("Failed to save match candidates", "error", err)
			o.needsAttention(ctx, txn, fmt.Sprintf("failed to save candidates: %v", err))
			return
		}
	}
	if _, err := o.auditLog.Append(ctx, txn.TenantID, model.AuditPayload{
		TransactionID: txn.ID,
		State:         model.StateMatched,
		Detail:        fmt.Sprintf("%d candidates", len(candidates)),
	}); err != nil {
		logger.Error("Ledger write failed, parking transaction", "error", err)
		o.park(txn)
		return
	}

	decision := gate.Decide(gate.Input{
		Transaction:    txn,
		Classification: *classification,
		Candidates:     candidates,
		Ambiguous:      o.matcher.Ambiguous(candidates),
		Setting:        *setting,
	})

	if err := o.storage.SaveDecision(ctx, &decision); err != nil {
		logger.Error("Failed to save decision", "error", err)
		o.needsAttention(ctx, txn, fmt.Sprintf("failed to save decision: %v", err))
		return
	}

	// The decision, with its exact threshold snapshot, must be durable
	// before any action executes.
	if _, err := o.auditLog.Append(ctx, txn.TenantID, model.AuditPayload{
		TransactionID: txn.ID,
		State:         model.StateDecided,
		Decision:      decision.Decision,
		Reason:        decision.Reason,
		Thresholds:    &decision.Thresholds,
	}); err != nil {
		logger.Error("Ledger write failed before execution, parking transaction", "error", err)
		o.park(txn)
		return
	}

	switch decision.Decision {
	case model.DecisionAutoApprove:
		if _, err := o.executor.Execute(ctx, decision); err != nil {
			if errors.Is(err, common.ErrLedgerWrite) {
				logger.Error("Ledger write failed during execution, parking transaction", "error", err)
				o.park(txn)
				return
			}
			logger.Error("Execution failed", "error", err)
		}
	case model.DecisionNeedsReview:
		if _, err := o.review.SubmitForReview(ctx, decision, candidates); err != nil {
			if errors.Is(err, common.ErrLedgerWrite) {
				logger.Error("Ledger write failed during review submit, parking transaction", "error", err)
				o.park(txn)
				return
			}
			logger.Error("Review submission failed", "error", err)
		}
	case model.DecisionReject:
		if _, err := o.auditLog.Append(ctx, txn.TenantID, model.AuditPayload{
			TransactionID: txn.ID,
			State:         model.StateRejected,
			Reason:        decision.Reason,
		}); err != nil {
			logger.Error("Ledger write failed, parking transaction", "error", err)
			o.park(txn)
		}
	}
}

// classify scores the transaction, degrading to confidence 0 when the
// classifier is unavailable or the transaction lacks data. Classifier
// failure can only make the pipeline more conservative.
func (o *Orchestrator) classify(ctx context.Context, txn model.Transaction, logger *slog.Logger) *model.Classification {
	callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
	defer cancel()

	classification, err := o.classifier.Classify(callCtx, txn)
	if err != nil {
		logger.Warn("Classification failed, treating as confidence 0", "error", err)
		classification = &model.Classification{
			TransactionID: txn.ID,
			Category:      model.CategoryUnclassified,
			Confidence:    0,
			ClassifiedAt:  time.Now().UTC(),
		}
	}

	if err := o.storage.SaveClassification(ctx, classification); err != nil {
		logger.Error("Failed to save classification", "error", err)
	}
	return classification
}

func (o *Orchestrator) findCandidates(ctx context.Context, txn model.Transaction) ([]model.MatchCandidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
	defer cancel()
	return o.matcher.FindCandidates(callCtx, txn)
}

func (o *Orchestrator) park(txn model.Transaction) {
	o.mu.Lock()
	o.parked = append(o.parked, txn)
	o.mu.Unlock()
}

// needsAttention surfaces an irrecoverable error as a review item so it
// never vanishes without a trace.
func (o *Orchestrator) needsAttention(ctx context.Context, txn model.Transaction, reason string) {
	item := &model.ReviewItem{
		ID:            txn.ID + "-attention",
		TransactionID: txn.ID,
		TenantID:      txn.TenantID,
		Status:        model.ReviewNeedsAttention,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.storage.SaveReviewItem(ctx, item); err != nil {
		slog.Error("Failed to save needs-attention item",
			"transaction_id", txn.ID, "error", err)
	}
	if _, err := o.auditLog.Append(ctx, txn.TenantID, model.AuditPayload{
		TransactionID: txn.ID,
		State:         model.StateReviewPending,
		Reason:        reason,
	}); err != nil {
		slog.Error("Failed to log needs-attention item",
			"transaction_id", txn.ID, "error", err)
		o.park(txn)
	}
}
