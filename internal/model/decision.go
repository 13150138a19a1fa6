package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the Automation Gate's verdict for a transaction.
type Decision string

// Decision constants.
const (
	DecisionAutoApprove Decision = "AUTO_APPROVE"
	DecisionNeedsReview Decision = "NEEDS_REVIEW"
	DecisionReject      Decision = "REJECT"
)

// PipelineState is a transaction's position in the reconciliation state
// machine.
type PipelineState string

// Pipeline state constants.
const (
	StateReceived      PipelineState = "RECEIVED"
	StateClassified    PipelineState = "CLASSIFIED"
	StateMatched       PipelineState = "MATCHED"
	StateDecided       PipelineState = "DECIDED"
	StateExecuting     PipelineState = "EXECUTING"
	StateExecuted      PipelineState = "EXECUTED"
	StateReviewPending PipelineState = "REVIEW_PENDING"
	StateReviewDecided PipelineState = "REVIEW_DECIDED"
	StateRejected      PipelineState = "REJECTED"
)

// ThresholdSnapshot freezes the exact policy values a decision was
// evaluated against, so the decision can be reproduced from the audit
// log alone.
type ThresholdSnapshot struct {
	Mode                AutomationMode  `json:"mode"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	AmountCeiling       decimal.Decimal `json:"amount_ceiling"`
	SettingsVersion     int64           `json:"settings_version"`
}

// AutomationDecision records what the Gate decided for one transaction
// and why.
type AutomationDecision struct {
	DecidedAt     time.Time
	TransactionID string
	TenantID      string
	CandidateID   string // accepted match candidate, empty for expense flows
	Reason        string
	Decision      Decision
	Thresholds    ThresholdSnapshot
}
