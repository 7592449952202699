package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/commonfund/backend/internal/models"
)

// PolicyConfig holds the lending and settlement policy knobs. All values are
// overridable through viper keys; the defaults below are the platform policy.
type PolicyConfig struct {
	SharePrice          decimal.Decimal
	PlatformTakeRate    decimal.Decimal // fraction of gross kept by the platform
	NetTermDays         int
	GraceDays           int // days past due before a payment counts as missed
	DefaultThreshold    int // consecutive missed payments before default
	RecoveryWindowDays  int // recent-payment window for "recovering"
	ExpirySweepInterval time.Duration
	RiskScanInterval    time.Duration
}

func LoadPolicyConfig() *PolicyConfig {
	viper.SetDefault("policy.share_price", "50.00")
	viper.SetDefault("policy.platform_take_rate", "0.30")
	viper.SetDefault("policy.net_term_days", 30)
	viper.SetDefault("policy.grace_days", 5)
	viper.SetDefault("policy.default_threshold", 3)
	viper.SetDefault("policy.recovery_window_days", 30)
	viper.SetDefault("policy.expiry_sweep_interval", time.Hour)
	viper.SetDefault("policy.risk_scan_interval", 6*time.Hour)

	sharePrice, err := decimal.NewFromString(viper.GetString("policy.share_price"))
	if err != nil {
		sharePrice = decimal.NewFromInt(50)
	}
	takeRate, err := decimal.NewFromString(viper.GetString("policy.platform_take_rate"))
	if err != nil {
		takeRate = decimal.NewFromFloat(0.30)
	}

	return &PolicyConfig{
		SharePrice:          sharePrice,
		PlatformTakeRate:    takeRate,
		NetTermDays:         viper.GetInt("policy.net_term_days"),
		GraceDays:           viper.GetInt("policy.grace_days"),
		DefaultThreshold:    viper.GetInt("policy.default_threshold"),
		RecoveryWindowDays:  viper.GetInt("policy.recovery_window_days"),
		ExpirySweepInterval: viper.GetDuration("policy.expiry_sweep_interval"),
		RiskScanInterval:    viper.GetDuration("policy.risk_scan_interval"),
	}
}

// TierThreshold is one row of the tier ladder: a borrower qualifies for Tier
// when they have at least MinCompleted completed loans and at most MaxLate
// late payments. Rows are evaluated highest tier first.
type TierThreshold struct {
	Tier         int
	MinCompleted int
	MaxLate      int
}

// TierConfig is the tier ladder plus the limits each tier unlocks.
type TierConfig struct {
	Thresholds []TierThreshold
	Limits     map[int]models.TierLimits
}

// LoadTierConfig returns the configured tier table. The ladder is monotonic:
// raising completed counts or lowering late counts never yields a lower tier.
func LoadTierConfig() *TierConfig {
	viper.SetDefault("tiers.t2_min_completed", 1)
	viper.SetDefault("tiers.t3_min_completed", 2)
	viper.SetDefault("tiers.t4_min_completed", 5)
	viper.SetDefault("tiers.t5_min_completed", 10)
	viper.SetDefault("tiers.t3_max_late", 2)
	viper.SetDefault("tiers.t4_max_late", 1)
	viper.SetDefault("tiers.t5_max_late", 0)

	thresholds := []TierThreshold{
		{Tier: 5, MinCompleted: viper.GetInt("tiers.t5_min_completed"), MaxLate: viper.GetInt("tiers.t5_max_late")},
		{Tier: 4, MinCompleted: viper.GetInt("tiers.t4_min_completed"), MaxLate: viper.GetInt("tiers.t4_max_late")},
		{Tier: 3, MinCompleted: viper.GetInt("tiers.t3_min_completed"), MaxLate: viper.GetInt("tiers.t3_max_late")},
		{Tier: 2, MinCompleted: viper.GetInt("tiers.t2_min_completed"), MaxLate: 1 << 30},
		{Tier: 1, MinCompleted: 0, MaxLate: 1 << 30},
	}

	limits := map[int]models.TierLimits{
		1: {Tier: 1, MaxAmount: decimal.NewFromInt(250), MaxMonths: 6, DeadlineDays: 14},
		2: {Tier: 2, MaxAmount: decimal.NewFromInt(500), MaxMonths: 12, DeadlineDays: 21},
		3: {Tier: 3, MaxAmount: decimal.NewFromInt(1500), MaxMonths: 18, DeadlineDays: 30},
		4: {Tier: 4, MaxAmount: decimal.NewFromInt(3000), MaxMonths: 24, DeadlineDays: 45},
		5: {Tier: 5, MaxAmount: decimal.NewFromInt(10000), MaxMonths: 36, DeadlineDays: 60},
	}

	return &TierConfig{Thresholds: thresholds, Limits: limits}
}

// LimitsFor returns the limits for a tier, clamping unknown tiers to tier 1.
func (tc *TierConfig) LimitsFor(tier int) models.TierLimits {
	if l, ok := tc.Limits[tier]; ok {
		return l
	}
	return tc.Limits[1]
}
