package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AutomationMode controls how much autonomy the Gate is granted for a
// tenant.
type AutomationMode string

// Automation mode constants.
const (
	ModeFullAuto AutomationMode = "FULL_AUTO"
	ModeSemiAuto AutomationMode = "SEMI_AUTO"
	ModeManual   AutomationMode = "MANUAL"
)

// AutomationSetting is a tenant's automation policy. It is configuration,
// not a transactional entity: the pipeline reads it once per batch and
// passes it explicitly through the Gate so decisions stay reproducible.
type AutomationSetting struct {
	TenantID            string
	Mode                AutomationMode
	LowRiskCategories   []string // categories SEMI_AUTO may approve without review
	ConfidenceThreshold float64
	AmountCeiling       decimal.Decimal
	Version             int64
}

// Validate checks the setting's ranges before it is allowed anywhere
// near the Gate.
func (s *AutomationSetting) Validate() error {
	switch s.Mode {
	case ModeFullAuto, ModeSemiAuto, ModeManual:
	default:
		return fmt.Errorf("invalid automation mode %q", s.Mode)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", s.ConfidenceThreshold)
	}
	if s.AmountCeiling.IsNegative() {
		return fmt.Errorf("amount ceiling %s is negative", s.AmountCeiling)
	}
	return nil
}

// LowRisk reports whether a category may be auto-approved in SEMI_AUTO
// mode.
func (s *AutomationSetting) LowRisk(category string) bool {
	for _, c := range s.LowRiskCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Snapshot captures the values the Gate evaluated against.
func (s *AutomationSetting) Snapshot() ThresholdSnapshot {
	return ThresholdSnapshot{
		Mode:                s.Mode,
		ConfidenceThreshold: s.ConfidenceThreshold,
		AmountCeiling:       s.AmountCeiling,
		SettingsVersion:     s.Version,
	}
}
