package dto

import "time"

// UsageResponseDTO reports the subscriber's allowance for the current billing period
type UsageResponseDTO struct {
	Tier        string    `json:"tier"`
	Status      string    `json:"status"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	UnitsUsed   int       `json:"units_used"`
	// Remaining is -1 on unlimited tiers.
	Remaining       int    `json:"remaining"`
	CanGenerate     bool   `json:"can_generate"`
	CanGeneratePath bool   `json:"can_generate_path"`
	UpgradeTier     string `json:"upgrade_tier,omitempty"`
}
