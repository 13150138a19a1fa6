package model

import "time"

// ReviewStatus is the lifecycle of a review item. APPROVED and REJECTED
// are terminal.
type ReviewStatus string

// Review status constants.
const (
	ReviewPending        ReviewStatus = "PENDING"
	ReviewApproved       ReviewStatus = "APPROVED"
	ReviewRejected       ReviewStatus = "REJECTED"
	ReviewNeedsAttention ReviewStatus = "NEEDS_ATTENTION"
)

// ReviewItem is a transaction parked for a human decision, either
// because the Gate routed it there or because the pipeline hit an
// irrecoverable error (NEEDS_ATTENTION).
type ReviewItem struct {
	CreatedAt     time.Time
	ResolvedAt    time.Time
	ID            string
	TransactionID string
	TenantID      string
	ReviewerID    string
	Reason        string
	Status        ReviewStatus
	Candidates    []MatchCandidate
}
