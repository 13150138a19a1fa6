package main

import (
	"fmt"
	"os"

	"github.com/ledgerguard/reconcile/internal/ingest"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	var tenantID string
	var currency string

	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import OFX/QFX bank statement files for a tenant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}

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

			parser := ingest.NewOFXParser(tenantID, currency)
			var total int

			for _, path := range args {
				file, err := os.Open(path) // #nosec G304 -- user-supplied import path
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}

				transactions, err := parser.ParseFile(cmd.Context(), file)
				_ = file.Close()
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", path, err)
				}
				if len(transactions) == 0 {
					continue
				}

				if err := store.SaveTransactions(cmd.Context(), transactions); err != nil {
					return fmt.Errorf("failed to save transactions from %s: %w", path, err)
				}
				total += len(transactions)
			}

			fmt.Printf("Imported %d transactions for tenant %s.\n", total, tenantID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the statements belong to")
	cmd.Flags().StringVar(&currency, "currency", "EUR", "fallback currency for statements without one")
	return cmd
}
