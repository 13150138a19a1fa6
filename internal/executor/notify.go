package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// notifyQueueSize bounds the in-flight secondary effects; enqueue
// blocks when full, providing backpressure instead of unbounded fan-out.
const notifyQueueSize = 256

// notifyQueue retries downstream notifications off the execution path.
// Exhausted deliveries are dead-lettered as NEEDS_ATTENTION review
// items rather than dropped.
type notifyQueue struct {
	notifier  service.Notifier
	storage   service.Storage
	events    chan service.NotificationEvent
	retryOpts service.RetryOptions
	wg        sync.WaitGroup
	once      sync.Once
}

func newNotifyQueue(notifier service.Notifier, storage service.Storage, retryOpts service.RetryOptions) *notifyQueue {
	return &notifyQueue{
		notifier:  notifier,
		storage:   storage,
		events:    make(chan service.NotificationEvent, notifyQueueSize),
		retryOpts: retryOpts,
	}
}

func (q *notifyQueue) start(ctx context.Context) {
	if q.notifier == nil {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for event := range q.events {
			q.deliver(ctx, event)
		}
	}()
}

func (q *notifyQueue) enqueue(event service.NotificationEvent) {
	if q.notifier == nil {
		return
	}
	q.events <- event
}

func (q *notifyQueue) close() {
	q.once.Do(func() { close(q.events) })
	q.wg.Wait()
}

func (q *notifyQueue) deliver(ctx context.Context, event service.NotificationEvent) {
	err := common.WithRetry(ctx, func() error {
		return q.notifier.Notify(ctx, event)
	}, q.retryOpts)
	if err == nil {
		return
	}

	slog.Warn("Notification delivery exhausted, dead-lettering",
		"tenant_id", event.TenantID,
		"transaction_id", event.TransactionID,
		"error", err)

	item := &model.ReviewItem{
		ID:            uuid.NewString(),
		TransactionID: event.TransactionID,
		TenantID:      event.TenantID,
		Status:        model.ReviewNeedsAttention,
		Reason:        "notification delivery failed: " + err.Error(),
	}
	if saveErr := q.storage.SaveReviewItem(ctx, item); saveErr != nil {
		slog.Error("Failed to dead-letter notification",
			"transaction_id", event.TransactionID,
			"error", saveErr)
	}
}
