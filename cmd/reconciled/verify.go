package main

import (
	"fmt"

	"github.com/ledgerguard/reconcile/internal/ledger"
	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [tenantID...]",
		Short: "Verify audit ledger hash chains",
		Long: `Recomputes each tenant's audit chain from genesis and reports the
first entry at which the stored hashes diverge, if any. With no
arguments, every tenant with ledger entries is verified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tenants := args
			if len(tenants) == 0 {
				tenants, err = store.ListLedgerTenants(cmd.Context())
				if err != nil {
					return err
				}
			}
			if len(tenants) == 0 {
				fmt.Println("No ledger entries found.")
				return nil
			}

			auditLog := ledger.NewLog(store)
			defer auditLog.Close()

			var broken int
			for _, tenant := range tenants {
				result, err := auditLog.Verify(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				if result.Valid {
					fmt.Printf("%s: OK (%d entries, digest %s)\n", tenant, result.Entries, short(result.Digest))
					continue
				}
				broken++
				fmt.Printf("%s: BROKEN at index %d: %s\n", tenant, result.FirstInvalid, result.Detail)
			}

			if broken > 0 {
				return fmt.Errorf("%d of %d chains failed verification", broken, len(tenants))
			}
			return nil
		},
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
