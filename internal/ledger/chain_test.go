package ledger

import (
	"testing"
	"time"

	"github.com/ledgerguard/reconcile/internal/model"
)

func buildChain(t *testing.T, tenantID string, payloads []model.AuditPayload) []model.AuditLogEntry {
	t.Helper()

	prevHash := GenesisHash()
	entries := make([]model.AuditLogEntry, 0, len(payloads))
	for i, payload := range payloads {
		canonical, err := payload.Canonical()
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		payloadHash := PayloadHash(canonical)
		seq := int64(i) + 1
		entry := model.AuditLogEntry{
			TenantID:    tenantID,
			SequenceNo:  seq,
			PrevHash:    prevHash,
			PayloadHash: payloadHash,
			EntryHash:   EntryHash(prevHash, payloadHash, seq),
			Payload:     canonical,
			CreatedAt:   time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
		}
		prevHash = entry.EntryHash
		entries = append(entries, entry)
	}
	return entries
}

func statePayloads(states ...model.PipelineState) []model.AuditPayload {
	payloads := make([]model.AuditPayload, len(states))
	for i, state := range states {
		payloads[i] = model.AuditPayload{TransactionID: "txn-1", State: state}
	}
	return payloads
}

func TestVerify_EmptyChain(t *testing.T) {
	result := Verify("tenant-a", nil)
	if !result.Valid {
		t.Error("empty chain must be valid")
	}
	if result.Digest != "" {
		t.Errorf("empty chain digest = %q, want empty", result.Digest)
	}
	if result.FirstInvalid != -1 {
		t.Errorf("first invalid = %d, want -1", result.FirstInvalid)
	}
}

func TestVerify_ValidChain(t *testing.T) {
	entries := buildChain(t, "tenant-a", statePayloads(
		model.StateReceived, model.StateClassified, model.StateMatched, model.StateDecided,
	))

	result := Verify("tenant-a", entries)
	if !result.Valid {
		t.Fatalf("valid chain failed verification: %s", result.Detail)
	}
	if result.Entries != 4 {
		t.Errorf("entries = %d, want 4", result.Entries)
	}
	if result.Digest != entries[3].EntryHash {
		t.Error("digest must be the chain head's entry hash")
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	entries := buildChain(t, "tenant-a", statePayloads(
		model.StateReceived, model.StateClassified, model.StateMatched,
	))

	// Editing the payload without recomputing the hashes must break
	// verification exactly at the edited entry.
	entries[1].Payload = []byte(`{"transaction_id":"txn-1","state":"EXECUTED"}`)

	result := Verify("tenant-a", entries)
	if result.Valid {
		t.Fatal("tampered chain must fail verification")
	}
	if result.FirstInvalid != 1 {
		t.Errorf("first invalid = %d, want 1", result.FirstInvalid)
	}
	if result.Digest != "" {
		t.Error("broken chain must not report a digest")
	}
}

func TestVerify_RecomputedPayloadStillBreaksChain(t *testing.T) {
	entries := buildChain(t, "tenant-a", statePayloads(
		model.StateReceived, model.StateClassified, model.StateMatched,
	))

	// A smarter attacker recomputes the edited entry's own hashes. The
	// next entry's prev hash no longer links, so the break just moves
	// one entry down.
	entries[1].Payload = []byte(`{"transaction_id":"txn-1","state":"EXECUTED"}`)
	entries[1].PayloadHash = PayloadHash(entries[1].Payload)
	entries[1].EntryHash = EntryHash(entries[1].PrevHash, entries[1].PayloadHash, entries[1].SequenceNo)

	result := Verify("tenant-a", entries)
	if result.Valid {
		t.Fatal("chain with relinked entry must fail verification")
	}
	if result.FirstInvalid != 2 {
		t.Errorf("first invalid = %d, want 2", result.FirstInvalid)
	}
}

func TestVerify_RemovedEntry(t *testing.T) {
	entries := buildChain(t, "tenant-a", statePayloads(
		model.StateReceived, model.StateClassified, model.StateMatched,
	))

	truncated := append([]model.AuditLogEntry{entries[0]}, entries[2])
	result := Verify("tenant-a", truncated)
	if result.Valid {
		t.Fatal("chain with removed entry must fail verification")
	}
	if result.FirstInvalid != 1 {
		t.Errorf("first invalid = %d, want 1", result.FirstInvalid)
	}
}

func TestVerify_ReorderedEntries(t *testing.T) {
	entries := buildChain(t, "tenant-a", statePayloads(
		model.StateReceived, model.StateClassified, model.StateMatched,
	))

	entries[0], entries[1] = entries[1], entries[0]
	result := Verify("tenant-a", entries)
	if result.Valid {
		t.Fatal("reordered chain must fail verification")
	}
	if result.FirstInvalid != 0 {
		t.Errorf("first invalid = %d, want 0", result.FirstInvalid)
	}
}

func TestGenesisHash_Stable(t *testing.T) {
	if GenesisHash() != GenesisHash() {
		t.Error("genesis hash must be deterministic")
	}
	if len(GenesisHash()) != 64 {
		t.Errorf("genesis hash length = %d, want 64 hex chars", len(GenesisHash()))
	}
}
