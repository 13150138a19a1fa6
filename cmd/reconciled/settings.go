package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change tenant automation settings",
	}
	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsSetCmd())
	return cmd
}

func settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenantID>",
		Short: "Show a tenant's automation setting",
		Args:  cobra.ExactArgs(1),
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

			setting, err := store.GetAutomationSetting(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, common.ErrMissingTenantConfig) {
					return fmt.Errorf("tenant %s has no automation setting", args[0])
				}
				return err
			}

			fmt.Printf("Tenant:               %s\n", setting.TenantID)
			fmt.Printf("Mode:                 %s\n", setting.Mode)
			fmt.Printf("Confidence threshold: %.2f\n", setting.ConfidenceThreshold)
			fmt.Printf("Amount ceiling:       %s\n", setting.AmountCeiling)
			fmt.Printf("Low-risk categories:  %s\n", strings.Join(setting.LowRiskCategories, ", "))
			fmt.Printf("Version:              %d\n", setting.Version)
			return nil
		},
	}
}

func settingsSetCmd() *cobra.Command {
	var (
		mode      string
		threshold float64
		ceiling   string
		lowRisk   []string
	)

	cmd := &cobra.Command{
		Use:   "set <tenantID>",
		Short: "Create or update a tenant's automation setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ceilingAmount, err := decimal.NewFromString(ceiling)
			if err != nil {
				return fmt.Errorf("invalid --ceiling %q: %w", ceiling, err)
			}

			setting := &model.AutomationSetting{
				TenantID:            args[0],
				Mode:                model.AutomationMode(mode),
				LowRiskCategories:   lowRisk,
				ConfidenceThreshold: threshold,
				AmountCeiling:       ceilingAmount,
			}
			if err := setting.Validate(); err != nil {
				return err
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

			if err := store.SaveAutomationSetting(cmd.Context(), setting); err != nil {
				return err
			}

			fmt.Printf("Saved automation setting for tenant %s (mode %s).\n", args[0], setting.Mode)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(model.ModeManual), "FULL_AUTO, SEMI_AUTO, or MANUAL")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.85, "minimum classifier confidence for auto-approval")
	cmd.Flags().StringVar(&ceiling, "ceiling", "1000", "amount above which approval always requires review")
	cmd.Flags().StringSliceVar(&lowRisk, "low-risk", nil, "categories SEMI_AUTO may approve without review")
	return cmd
}
