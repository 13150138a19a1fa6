package model

import (
	"encoding/json"
	"time"
)

// AuditPayload is the content of one audit log entry. All fields are
// concrete types, never maps, so json.Marshal produces a stable field
// order and hashing stays reproducible for the life of the log.
type AuditPayload struct {
	TransactionID string             `json:"transaction_id"`
	State         PipelineState      `json:"state"`
	Decision      Decision           `json:"decision,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Thresholds    *ThresholdSnapshot `json:"thresholds,omitempty"`
	ObligationID  string             `json:"obligation_id,omitempty"`
	Amount        string             `json:"amount,omitempty"`
	Category      string             `json:"category,omitempty"`
	ReviewerID    string             `json:"reviewer_id,omitempty"`
	Detail        string             `json:"detail,omitempty"`
}

// Canonical returns the byte-stable JSON encoding used for hashing and
// storage.
func (p *AuditPayload) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// AuditLogEntry is one link in a tenant's hash chain. Entries are
// append-only: no interface anywhere exposes an update or delete for
// them, and any out-of-band edit breaks Verify for this entry and every
// entry after it.
type AuditLogEntry struct {
	CreatedAt   time.Time
	TenantID    string
	PrevHash    string
	PayloadHash string
	EntryHash   string
	Payload     []byte
	SequenceNo  int64
}
