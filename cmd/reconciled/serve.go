package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ledgerguard/reconcile/internal/classify"
	"github.com/ledgerguard/reconcile/internal/executor"
	"github.com/ledgerguard/reconcile/internal/finance"
	"github.com/ledgerguard/reconcile/internal/ledger"
	"github.com/ledgerguard/reconcile/internal/match"
	"github.com/ledgerguard/reconcile/internal/pipeline"
	"github.com/ledgerguard/reconcile/internal/review"
	"github.com/ledgerguard/reconcile/internal/service"
	"github.com/spf13/cobra"
)

// parkedRetryInterval is how often parked transactions (failed ledger
// writes) are re-enqueued.
const parkedRetryInterval = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			classifier, err := classify.NewClient(cfg.Classifier, slog.Default())
			if err != nil {
				return err
			}

			auditLog := ledger.NewLog(store)
			defer auditLog.Close()

			var notifier service.Notifier
			if cfg.NotifyWebhookURL != "" {
				notifier = executor.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyTimeout)
				slog.Info("Notification webhook enabled", "url", cfg.NotifyWebhookURL)
			}

			financeService := finance.NewLocalService(store)
			exec := executor.New(store, financeService, auditLog, notifier, executor.DefaultConfig())
			exec.Start(cmd.Context())
			defer exec.Close()
			reviewQueue := review.NewQueue(store, auditLog, exec)
			matcher := match.NewWithConfig(store, cfg.Match)

			orchestrator := pipeline.New(store, classifier, matcher, auditLog, exec, reviewQueue, cfg.Pipeline)
			orchestrator.Start(cmd.Context())
			defer orchestrator.Close()

			go retryParkedLoop(cmd.Context(), orchestrator)

			server := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           review.NewServer(reviewQueue, store, auditLog).Routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			slog.Info("Serving review and audit API", "addr", cfg.ListenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func retryParkedLoop(ctx context.Context, orchestrator *pipeline.Orchestrator) {
	ticker := time.NewTicker(parkedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orchestrator.ParkedCount(); n > 0 {
				slog.Info("Retrying parked transactions", "count", n)
				orchestrator.RetryParked(ctx)
			}
		}
	}
}
