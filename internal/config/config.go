package config

import (
	"fmt"
	"time"

	"github.com/ledgerguard/reconcile/internal/classify"
	"github.com/ledgerguard/reconcile/internal/match"
	"github.com/ledgerguard/reconcile/internal/pipeline"
	"github.com/spf13/viper"
)

// Config is the process configuration assembled from file, environment
// and flags. Tenant automation settings are data, not process config,
// and live in storage.
type Config struct {
	DatabasePath string
	ListenAddr   string
	Classifier   classify.Config
	Match        match.Config
	Pipeline     pipeline.Config

	// NotifyWebhookURL, when set, enables downstream notifications for
	// executed actions. Empty disables them.
	NotifyWebhookURL string
	NotifyTimeout    time.Duration
}

// SetDefaults registers defaults on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/reconciled/reconciled.db")
	v.SetDefault("http.listen", ":8085")

	v.SetDefault("classifier.url", "http://localhost:9090")
	v.SetDefault("classifier.timeout", "5s")
	v.SetDefault("classifier.max_retries", 3)
	v.SetDefault("classifier.retry_delay", "500ms")

	defaults := match.DefaultConfig()
	v.SetDefault("match.weights.amount", defaults.Weights.Amount)
	v.SetDefault("match.weights.counterparty", defaults.Weights.Counterparty)
	v.SetDefault("match.weights.date_proximity", defaults.Weights.DateProximity)
	v.SetDefault("match.similarity_floor", defaults.SimilarityFloor)
	v.SetDefault("match.min_score", defaults.MinScore)
	v.SetDefault("match.ambiguity_window", defaults.AmbiguityWindow)
	v.SetDefault("match.date_window_days", defaults.DateWindowDays)

	pipeDefaults := pipeline.DefaultConfig()
	v.SetDefault("pipeline.workers_per_tenant", pipeDefaults.WorkersPerTenant)
	v.SetDefault("pipeline.queue_size", pipeDefaults.QueueSize)
	v.SetDefault("pipeline.call_timeout", pipeDefaults.CallTimeout.String())

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "10s")
}

// Load assembles and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabasePath: ExpandPath(v.GetString("database.path")),
		ListenAddr:   v.GetString("http.listen"),
		Classifier: classify.Config{
			BaseURL:    v.GetString("classifier.url"),
			APIKey:     v.GetString("classifier.api_key"),
			Timeout:    v.GetDuration("classifier.timeout"),
			MaxRetries: v.GetInt("classifier.max_retries"),
			RetryDelay: v.GetDuration("classifier.retry_delay"),
		},
		Match: match.Config{
			Weights: match.Weights{
				Amount:        v.GetFloat64("match.weights.amount"),
				Counterparty:  v.GetFloat64("match.weights.counterparty"),
				DateProximity: v.GetFloat64("match.weights.date_proximity"),
			},
			SimilarityFloor: v.GetFloat64("match.similarity_floor"),
			MinScore:        v.GetFloat64("match.min_score"),
			AmbiguityWindow: v.GetFloat64("match.ambiguity_window"),
			DateWindowDays:  v.GetInt("match.date_window_days"),
		},
		Pipeline: pipeline.Config{
			WorkersPerTenant: v.GetInt("pipeline.workers_per_tenant"),
			QueueSize:        v.GetInt("pipeline.queue_size"),
			CallTimeout:      v.GetDuration("pipeline.call_timeout"),
		},
		NotifyWebhookURL: v.GetString("notify.webhook_url"),
		NotifyTimeout:    v.GetDuration("notify.timeout"),
	}

	if err := cfg.Match.Validate(); err != nil {
		return nil, fmt.Errorf("match configuration: %w", err)
	}
	return cfg, nil
}

