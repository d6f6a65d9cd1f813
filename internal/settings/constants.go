package settings

// DB config keys and defaults for the metering engine.
const (
	// DefaultMarginMultiplierKey sets the terminal fallback margin multiplier.
	DefaultMarginMultiplierKey = "DEFAULT_MARGIN_MULTIPLIER"
	// EstimateSafetyPercentKey sets the upward safety margin for estimates.
	EstimateSafetyPercentKey = "ESTIMATE_SAFETY_PERCENT"
	// PricingRefreshSecondsKey controls the pricing snapshot refresh interval.
	PricingRefreshSecondsKey = "PRICING_REFRESH_SECONDS"
	// SummaryReconcileHoursKey controls the daily summary reconcile interval.
	SummaryReconcileHoursKey = "SUMMARY_RECONCILE_HOURS"
	// DeductLockTimeoutSecondsKey bounds the balance lock wait per attempt.
	DeductLockTimeoutSecondsKey = "DEDUCT_LOCK_TIMEOUT_SECONDS"
	// DeductMaxRetriesKey bounds conflict retries per deduction.
	DeductMaxRetriesKey = "DEDUCT_MAX_RETRIES"

	// DefaultMarginMultiplier is the fallback margin multiplier.
	DefaultMarginMultiplier = 1.5
	// DefaultEstimateSafetyPercent is the fallback estimate safety margin.
	DefaultEstimateSafetyPercent = 10
	// DefaultPricingRefreshSeconds is the fallback snapshot refresh interval.
	DefaultPricingRefreshSeconds = 60
	// DefaultSummaryReconcileHours is the fallback reconcile interval.
	DefaultSummaryReconcileHours = 6
	// DefaultDeductLockTimeoutSeconds is the fallback lock wait bound.
	DefaultDeductLockTimeoutSeconds = 5
	// DefaultDeductMaxRetries is the fallback conflict retry bound.
	DefaultDeductMaxRetries = 3
)
