package model

// MatchType describes how a candidate obligation was paired with a
// transaction.
type MatchType string

// Match type constants.
const (
	MatchExactAmount       MatchType = "EXACT_AMOUNT"
	MatchPartial           MatchType = "PARTIAL"
	MatchFuzzyCounterparty MatchType = "FUZZY_COUNTERPARTY"
)

// MatchCandidate pairs a transaction with an open obligation it may
// settle. Several candidates can exist per transaction; at most one
// becomes the accepted match. An obligation may accept multiple
// partial-payment transactions.
type MatchCandidate struct {
	ID            string
	TransactionID string
	ObligationID  string
	Type          MatchType
	Score         float64
	Accepted      bool
}
