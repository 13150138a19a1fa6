package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Log is the serialized append path into the audit chains. Each tenant
// gets a dedicated writer goroutine that exclusively owns that tenant's
// (sequenceNo, prevHash) pair; pipeline workers submit append requests
// and block until the write is durably acknowledged. Concurrent writers
// would race on prevHash and corrupt the chain, so there is exactly one
// per tenant.
type Log struct {
	storage service.Storage
	writers map[string]*tenantWriter
	mu      sync.Mutex
	closed  bool
}

// NewLog creates the ledger append front-end.
func NewLog(storage service.Storage) *Log {
	return &Log{
		storage: storage,
		writers: make(map[string]*tenantWriter),
	}
}

type appendRequest struct {
	ctx     context.Context
	payload []byte
	reply   chan appendReply
}

type appendReply struct {
	entry *model.AuditLogEntry
	err   error
}

type tenantWriter struct {
	requests chan appendRequest
	done     chan struct{}
}

// Append writes one entry to the tenant's chain and blocks until the
// write is acknowledged. It is safe to call from any number of
// goroutines.
func (l *Log) Append(ctx context.Context, tenantID string, payload model.AuditPayload) (*model.AuditLogEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant ID", common.ErrLedgerWrite)
	}

	canonical, err := payload.Canonical()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode payload: %v", common.ErrLedgerWrite, err)
	}

	writer, err := l.writer(tenantID)
	if err != nil {
		return nil, err
	}

	req := appendRequest{
		ctx:     ctx,
		payload: canonical,
		reply:   make(chan appendReply, 1),
	}

	select {
	case writer.requests <- req:
	case <-writer.done:
		return nil, common.ErrLedgerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.entry, reply.err
	case <-ctx.Done():
		// The write may still land; the caller must treat this run as
		// failed and rely on idempotent replay.
		return nil, ctx.Err()
	}
}

// Verify recomputes a tenant's full chain from genesis.
func (l *Log) Verify(ctx context.Context, tenantID string) (VerificationResult, error) {
	entries, err := l.storage.GetLedgerEntries(ctx, tenantID, service.LedgerFilter{})
	if err != nil {
		return VerificationResult{}, fmt.Errorf("failed to load ledger for %s: %w", tenantID, err)
	}
	return Verify(tenantID, entries), nil
}

// Close stops all tenant writers. Pending requests fail with
// ErrLedgerClosed.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, w := range l.writers {
		close(w.done)
	}
}

func (l *Log) writer(tenantID string) (*tenantWriter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, common.ErrLedgerClosed
	}
	if w, ok := l.writers[tenantID]; ok {
		return w, nil
	}

	w := &tenantWriter{
		requests: make(chan appendRequest),
		done:     make(chan struct{}),
	}
	l.writers[tenantID] = w
	go l.run(tenantID, w)
	return w, nil
}

// run is the per-tenant writer loop. It loads the chain head once and
// from then on is the only goroutine touching this tenant's sequence
// counter and prev hash.
func (l *Log) run(tenantID string, w *tenantWriter) {
	var (
		nextSeq  int64 = 1
		prevHash       = GenesisHash()
		primed   bool
	)

	for {
		select {
		case <-w.done:
			return
		case req := <-w.requests:
			if !primed {
				last, err := l.storage.GetLastLedgerEntry(req.ctx, tenantID)
				switch {
				case err == nil:
					nextSeq = last.SequenceNo + 1
					prevHash = last.EntryHash
				case errors.Is(err, common.ErrNotFound):
					// Empty chain, start at genesis.
				default:
					req.reply <- appendReply{err: fmt.Errorf("%w: failed to load chain head: %v", common.ErrLedgerWrite, err)}
					continue
				}
				primed = true
			}

			payloadHash := PayloadHash(req.payload)
			entry := &model.AuditLogEntry{
				TenantID:    tenantID,
				SequenceNo:  nextSeq,
				PrevHash:    prevHash,
				PayloadHash: payloadHash,
				EntryHash:   EntryHash(prevHash, payloadHash, nextSeq),
				Payload:     req.payload,
				CreatedAt:   time.Now().UTC(),
			}

			if err := l.storage.AppendLedgerEntry(req.ctx, entry); err != nil {
				slog.Error("Ledger append failed",
					"tenant_id", tenantID,
					"sequence_no", entry.SequenceNo,
					"error", err)
				// Re-prime from storage on the next request rather than
				// guessing whether the insert landed.
				primed = false
				req.reply <- appendReply{err: err}
				continue
			}

			nextSeq++
			prevHash = entry.EntryHash
			req.reply <- appendReply{entry: entry}
		}
	}
}
