// Package ledger implements the append-only, hash-chained audit log.
//
// Every entry embeds the hash of the one before it, so a single edit,
// removal or reorder breaks verification for that entry and every entry
// after it. Chains are per tenant and fully independent.
package ledger

import (
	"crypto/sha256"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/model"
)

// genesisSeed anchors every tenant chain. It never changes; doing so
// would invalidate all existing ledgers.
const genesisSeed = "reconcile/audit-chain/genesis/v1"

// GenesisHash is the prev_hash of every chain's first entry.
func GenesisHash() string {
	return hashString(genesisSeed)
}

// PayloadHash hashes an entry's canonical payload bytes.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum)
}

// EntryHash chains an entry to its predecessor:
// H(prevHash || payloadHash || sequenceNo).
func EntryHash(prevHash, payloadHash string, sequenceNo int64) string {
	return hashString(fmt.Sprintf("%s:%s:%d", prevHash, payloadHash, sequenceNo))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// VerificationResult reports the outcome of recomputing a tenant's
// chain from genesis.
type VerificationResult struct {
	TenantID string
	// Digest is the chain head's entry hash; empty for an empty chain.
	Digest string
	// Detail describes the first divergence when Valid is false.
	Detail string
	// FirstInvalid is the zero-based index of the first entry whose
	// recomputed hashes diverge from the stored ones; -1 when valid.
	FirstInvalid int
	Entries      int
	Valid        bool
}

// Verify recomputes the chain over entries, which must be a tenant's
// complete ledger in sequence order starting at sequence 1.
func Verify(tenantID string, entries []model.AuditLogEntry) VerificationResult {
	result := VerificationResult{
		TenantID:     tenantID,
		Entries:      len(entries),
		FirstInvalid: -1,
		Valid:        true,
	}

	prevHash := GenesisHash()
	for i, entry := range entries {
		if entry.SequenceNo != int64(i)+1 {
			return invalid(result, i, fmt.Sprintf("sequence gap: entry %d has sequence %d", i, entry.SequenceNo))
		}
		if entry.PrevHash != prevHash {
			return invalid(result, i, fmt.Sprintf("prev hash mismatch at sequence %d", entry.SequenceNo))
		}
		if PayloadHash(entry.Payload) != entry.PayloadHash {
			return invalid(result, i, fmt.Sprintf("payload hash mismatch at sequence %d", entry.SequenceNo))
		}
		recomputed := EntryHash(entry.PrevHash, entry.PayloadHash, entry.SequenceNo)
		if recomputed != entry.EntryHash {
			return invalid(result, i, fmt.Sprintf("entry hash mismatch at sequence %d", entry.SequenceNo))
		}
		prevHash = entry.EntryHash
	}

	if len(entries) > 0 {
		result.Digest = entries[len(entries)-1].EntryHash
	}
	return result
}

func invalid(result VerificationResult, index int, detail string) VerificationResult {
	result.Valid = false
	result.FirstInvalid = index
	result.Detail = detail
	result.Digest = ""
	return result
}
