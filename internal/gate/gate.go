// Package gate implements the automation policy evaluator.
//
// Decide is a pure function of its inputs: given the same
// classification, candidates and settings it always returns the same
// decision, so every decision can be reproduced from the audit log's
// threshold snapshot.
package gate

import (
	"fmt"
	"time"

	"github.com/ledgerguard/reconcile/internal/model"
)

// Input carries everything the Gate is allowed to look at. The
// automation setting arrives as an explicit parameter, never as ambient
// state.
type Input struct {
	Transaction    model.Transaction
	Classification model.Classification
	Candidates     []model.MatchCandidate // best score first
	Setting        model.AutomationSetting
	Ambiguous      bool
}

// Decide evaluates the tenant's automation policy. Rules apply in
// order; the amount ceiling is a hard override and is never blended
// into the confidence score.
func Decide(in Input) model.AutomationDecision {
	decision := model.AutomationDecision{
		TransactionID: in.Transaction.ID,
		TenantID:      in.Transaction.TenantID,
		Thresholds:    in.Setting.Snapshot(),
		DecidedAt:     time.Now().UTC(),
	}
	if len(in.Candidates) > 0 && !in.Ambiguous {
		decision.CandidateID = in.Candidates[0].ID
	}

	switch {
	case in.Setting.Mode == model.ModeManual:
		decision.Decision = model.DecisionNeedsReview
		decision.Reason = "tenant automation mode is MANUAL"

	case in.Ambiguous:
		decision.Decision = model.DecisionNeedsReview
		decision.Reason = "match candidates are ambiguous"
		decision.CandidateID = ""

	// A degraded or absent classification can never be auto-approved,
	// even for tenants whose threshold is 0.
	case in.Classification.Category == model.CategoryUnclassified || in.Classification.Confidence <= 0:
		decision.Decision = model.DecisionNeedsReview
		decision.Reason = "classification unavailable"

	case in.Classification.Confidence < in.Setting.ConfidenceThreshold:
		decision.Decision = model.DecisionNeedsReview
		decision.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f",
			in.Classification.Confidence, in.Setting.ConfidenceThreshold)

	case in.Transaction.Amount.Abs().GreaterThan(in.Setting.AmountCeiling):
		decision.Decision = model.DecisionNeedsReview
		decision.Reason = fmt.Sprintf("amount %s exceeds ceiling %s",
			in.Transaction.Amount.Abs(), in.Setting.AmountCeiling)

	case in.Setting.Mode == model.ModeFullAuto:
		decision.Decision = model.DecisionAutoApprove
		decision.Reason = "full auto mode, confidence and amount within bounds"

	case in.Setting.LowRisk(in.Classification.Category):
		decision.Decision = model.DecisionAutoApprove
		decision.Reason = fmt.Sprintf("semi auto mode, low-risk category %q", in.Classification.Category)

	default:
		decision.Decision = model.DecisionNeedsReview
		decision.Reason = fmt.Sprintf("semi auto mode, category %q not marked low-risk", in.Classification.Category)
	}

	return decision
}
