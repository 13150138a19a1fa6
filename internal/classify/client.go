// Package classify wraps the external transaction scoring service.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/ledgerguard/reconcile/internal/service"
)

// Config holds configuration for the scoring service client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client calls the scoring service over HTTP. Transient failures (5xx,
// timeouts) are retried with exponential backoff; exhaustion surfaces as
// common.ErrClassifierUnavailable, which the pipeline treats as
// confidence 0 and routes to review. The classifier can fail safe, never
// fail open.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	retryOpts  service.RetryOptions
}

// NewClient creates a scoring service client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: classifier base URL required", common.ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		retryOpts: service.RetryOptions{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

type scoreRequest struct {
	TransactionID   string `json:"transactionId"`
	Amount          string `json:"amount"`
	CounterpartyRef string `json:"counterpartyRef"`
	RawDescription  string `json:"rawDescription"`
}

type scoreResponse struct {
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion"`
}

// Classify scores one transaction. Transactions without an amount or
// counterparty reference fail fast with common.ErrInsufficientData and
// are never sent to the scoring service.
func (c *Client) Classify(ctx context.Context, txn model.Transaction) (*model.Classification, error) {
	if txn.Amount.IsZero() || strings.TrimSpace(txn.CounterpartyRef) == "" {
		return nil, fmt.Errorf("transaction %s: %w", txn.ID, common.ErrInsufficientData)
	}

	body, err := json.Marshal(scoreRequest{
		TransactionID:   txn.ID,
		Amount:          txn.Amount.String(),
		CounterpartyRef: txn.CounterpartyRef,
		RawDescription:  txn.RawDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scoring request: %w", err)
	}

	var result scoreResponse
	err = common.WithRetry(ctx, func() error {
		return c.score(ctx, body, &result)
	}, c.retryOpts)
	if err != nil {
		if errors.Is(err, common.ErrMaxRetries) {
			return nil, fmt.Errorf("transaction %s: %w", txn.ID, common.ErrClassifierUnavailable)
		}
		return nil, err
	}

	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("scoring service returned confidence %v outside [0,1]", result.Confidence)
	}

	c.logger.Debug("Classified transaction",
		"transaction_id", txn.ID,
		"category", result.Category,
		"confidence", result.Confidence,
		"model_version", result.ModelVersion)

	return &model.Classification{
		TransactionID: txn.ID,
		Category:      result.Category,
		Confidence:    result.Confidence,
		ModelVersion:  result.ModelVersion,
		ClassifiedAt:  time.Now().UTC(),
	}, nil
}

func (c *Client) score(ctx context.Context, body []byte, result *scoreResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return &common.RetryableError{Err: err, Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are transient.
		return &common.RetryableError{Err: err, Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &common.RetryableError{
				Err:       fmt.Errorf("failed to decode scoring response: %w", err),
				Retryable: false,
			}
		}
		return nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &common.RetryableError{
			Err:       fmt.Errorf("scoring service returned %d", resp.StatusCode),
			Retryable: true,
		}
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &common.RetryableError{
			Err:       fmt.Errorf("scoring service rejected request with %d", resp.StatusCode),
			Retryable: false,
		}
	}
}
