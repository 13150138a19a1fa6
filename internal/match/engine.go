package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Weights blend the three scoring components. They are tunable
// configuration, not a fixed contract; defaults come from DefaultConfig.
type Weights struct {
	Amount        float64
	Counterparty  float64
	DateProximity float64
}

// Config holds the matching engine's tunables.
type Config struct {
	Weights Weights
	// SimilarityFloor is the minimum counterparty similarity for an
	// obligation to be considered at all.
	SimilarityFloor float64
	// MinScore is the floor below which candidates are discarded. A
	// transaction with zero candidates above it proceeds unmatched into
	// the expense-creation flow.
	MinScore float64
	// AmbiguityWindow: two candidates scoring within this of each other
	// are ambiguous, and ambiguity overrides confidence at the Gate.
	AmbiguityWindow float64
	// DateWindowDays bounds the date-proximity component.
	DateWindowDays int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Amount:        0.6,
			Counterparty:  0.3,
			DateProximity: 0.1,
		},
		SimilarityFloor: 0.35,
		MinScore:        0.4,
		AmbiguityWindow: 0.02,
		DateWindowDays:  30,
	}
}

// Validate checks the config's ranges.
func (c Config) Validate() error {
	sum := c.Weights.Amount + c.Weights.Counterparty + c.Weights.DateProximity
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("match weights must sum to 1, got %v", sum)
	}
	if c.SimilarityFloor < 0 || c.SimilarityFloor > 1 {
		return fmt.Errorf("similarity floor %v outside [0,1]", c.SimilarityFloor)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("minimum score %v outside [0,1]", c.MinScore)
	}
	if c.AmbiguityWindow < 0 {
		return fmt.Errorf("ambiguity window %v is negative", c.AmbiguityWindow)
	}
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("date window must be positive, got %d", c.DateWindowDays)
	}
	return nil
}

// Engine finds and scores candidate obligations for transactions.
type Engine struct {
	storage service.Storage
	config  Config
}

// New creates a matching engine with the default configuration.
func New(storage service.Storage) *Engine {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates a matching engine with a custom configuration.
func NewWithConfig(storage service.Storage, config Config) *Engine {
	return &Engine{storage: storage, config: config}
}

// FindCandidates scores the tenant's open obligations against a
// transaction and returns the candidates above the minimum floor, best
// first. An empty result is not an error: the transaction proceeds
// unmatched.
func (e *Engine) FindCandidates(ctx context.Context, txn model.Transaction) ([]model.MatchCandidate, error) {
	obligations, err := e.storage.GetOpenObligations(ctx, txn.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open obligations: %w", err)
	}

	amount := txn.Amount.Abs()
	var candidates []model.MatchCandidate

	for _, o := range obligations {
		if !o.Open() || o.RemainingAmount.Sign() <= 0 {
			continue
		}
		// Partial payment allowed only up to the remaining amount.
		if amount.GreaterThan(o.RemainingAmount) {
			continue
		}

		similarity := counterpartySimilarity(txn.CounterpartyRef, o.CounterpartyRef)
		if similarity < e.config.SimilarityFloor {
			continue
		}

		exact := amount.Equal(o.RemainingAmount)
		exactness := 1.0
		if !exact {
			ratio, _ := amount.Div(o.RemainingAmount).Float64()
			exactness = ratio
		}

		proximity := e.dateProximity(txn, o)

		score := e.config.Weights.Amount*exactness +
			e.config.Weights.Counterparty*similarity +
			e.config.Weights.DateProximity*proximity
		if score < e.config.MinScore {
			continue
		}

		matchType := model.MatchPartial
		switch {
		case exact:
			matchType = model.MatchExactAmount
		case similarity < 0.8:
			matchType = model.MatchFuzzyCounterparty
		}

		candidates = append(candidates, model.MatchCandidate{
			ID:            uuid.NewString(),
			TransactionID: txn.ID,
			ObligationID:  o.ID,
			Type:          matchType,
			Score:         score,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	slog.Debug("Matched transaction against open obligations",
		"transaction_id", txn.ID,
		"obligations", len(obligations),
		"candidates", len(candidates))

	return candidates, nil
}

// Ambiguous reports whether the top two candidates score too close to
// call. The Gate must route ambiguous transactions to review no matter
// how confident the classifier was.
func (e *Engine) Ambiguous(candidates []model.MatchCandidate) bool {
	if len(candidates) < 2 {
		return false
	}
	return candidates[0].Score-candidates[1].Score <= e.config.AmbiguityWindow
}

func (e *Engine) dateProximity(txn model.Transaction, o model.Obligation) float64 {
	days := math.Abs(txn.ValueDate.Sub(o.DueDate).Hours() / 24)
	window := float64(e.config.DateWindowDays)
	if days >= window {
		return 0
	}
	return 1 - days/window
}
