package model

import "time"

// CategoryUnclassified marks a transaction whose classification could
// not be obtained. It carries confidence 0 and is never eligible for
// auto-approval, whatever the tenant's threshold.
const CategoryUnclassified = "UNCLASSIFIED"

// Classification is the scoring service's verdict for one transaction.
// A transaction may be reclassified later; the newer record supersedes
// the old one but earlier rows are kept for audit.
type Classification struct {
	ClassifiedAt  time.Time
	TransactionID string
	Category      string
	ModelVersion  string
	Confidence    float64
}
