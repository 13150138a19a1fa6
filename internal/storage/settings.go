package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ledgerguard/reconcile/internal/common"
	"github.com/ledgerguard/reconcile/internal/model"
	"github.com/shopspring/decimal"
)

// GetAutomationSetting loads a tenant's automation policy.
func (s *SQLiteStorage) GetAutomationSetting(ctx context.Context, tenantID string) (*model.AutomationSetting, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	var setting model.AutomationSetting
	var mode, ceiling string
	var lowRisk sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, mode, confidence_threshold, amount_ceiling, low_risk_categories, version
		FROM automation_settings
		WHERE tenant_id = ?
	`, tenantID).Scan(
		&setting.TenantID,
		&mode,
		&setting.ConfidenceThreshold,
		&ceiling,
		&lowRisk,
		&setting.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, common.ErrMissingTenantConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load automation settings for %s: %w", tenantID, err)
	}

	setting.Mode = model.AutomationMode(mode)
	parsedCeiling, err := decimal.NewFromString(ceiling)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount ceiling %q: %w", ceiling, err)
	}
	setting.AmountCeiling = parsedCeiling

	if lowRisk.Valid && lowRisk.String != "" {
		if err := json.Unmarshal([]byte(lowRisk.String), &setting.LowRiskCategories); err != nil {
			return nil, fmt.Errorf("failed to decode low-risk categories: %w", err)
		}
	}

	if err := setting.Validate(); err != nil {
		return nil, fmt.Errorf("stored automation settings for %s invalid: %w", tenantID, err)
	}
	return &setting, nil
}

// SaveAutomationSetting stores a tenant's automation policy, bumping its
// version so threshold snapshots stay traceable.
func (s *SQLiteStorage) SaveAutomationSetting(ctx context.Context, setting *model.AutomationSetting) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if setting == nil {
		return fmt.Errorf("%w: setting", ErrNilParameter)
	}
	if err := validateString(setting.TenantID, "setting.TenantID"); err != nil {
		return err
	}
	if err := setting.Validate(); err != nil {
		return err
	}

	lowRisk, err := json.Marshal(setting.LowRiskCategories)
	if err != nil {
		return fmt.Errorf("failed to encode low-risk categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_settings (tenant_id, mode, confidence_threshold, amount_ceiling, low_risk_categories, version)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET
			mode = excluded.mode,
			confidence_threshold = excluded.confidence_threshold,
			amount_ceiling = excluded.amount_ceiling,
			low_risk_categories = excluded.low_risk_categories,
			version = automation_settings.version + 1,
			updated_at = CURRENT_TIMESTAMP
	`,
		setting.TenantID,
		string(setting.Mode),
		setting.ConfidenceThreshold,
		setting.AmountCeiling.String(),
		string(lowRisk),
	)
	if err != nil {
		return fmt.Errorf("failed to save automation settings for %s: %w", setting.TenantID, err)
	}
	return nil
}
