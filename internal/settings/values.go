package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// MarginMultiplierDefault returns the configured fallback margin multiplier.
func MarginMultiplierDefault() float64 {
	if raw, ok := DBConfigValue(DefaultMarginMultiplierKey); ok {
		if parsed, okParse := parseDBConfigFloat(raw); okParse && parsed > 0 {
			return parsed
		}
	}
	return DefaultMarginMultiplier
}

// EstimateSafetyPercent returns the configured estimate safety margin.
func EstimateSafetyPercent() int {
	if raw, ok := DBConfigValue(EstimateSafetyPercentKey); ok {
		if parsed, okParse := parseDBConfigInt(raw); okParse && parsed >= 0 {
			return parsed
		}
	}
	return DefaultEstimateSafetyPercent
}

// PricingRefreshInterval returns the pricing snapshot refresh interval.
func PricingRefreshInterval() time.Duration {
	seconds := DefaultPricingRefreshSeconds
	if raw, ok := DBConfigValue(PricingRefreshSecondsKey); ok {
		if parsed, okParse := parseDBConfigInt(raw); okParse && parsed > 0 {
			seconds = parsed
		}
	}
	return time.Duration(seconds) * time.Second
}

// SummaryReconcileInterval returns the daily summary reconcile interval.
func SummaryReconcileInterval() time.Duration {
	hours := DefaultSummaryReconcileHours
	if raw, ok := DBConfigValue(SummaryReconcileHoursKey); ok {
		if parsed, okParse := parseDBConfigInt(raw); okParse && parsed > 0 {
			hours = parsed
		}
	}
	return time.Duration(hours) * time.Hour
}

// DeductLockTimeout returns the per-attempt balance lock wait bound.
func DeductLockTimeout() time.Duration {
	seconds := DefaultDeductLockTimeoutSeconds
	if raw, ok := DBConfigValue(DeductLockTimeoutSecondsKey); ok {
		if parsed, okParse := parseDBConfigInt(raw); okParse && parsed > 0 {
			seconds = parsed
		}
	}
	return time.Duration(seconds) * time.Second
}

// DeductMaxRetries returns the conflict retry bound per deduction.
func DeductMaxRetries() int {
	if raw, ok := DBConfigValue(DeductMaxRetriesKey); ok {
		if parsed, okParse := parseDBConfigInt(raw); okParse && parsed > 0 {
			return parsed
		}
	}
	return DefaultDeductMaxRetries
}

func parseDBConfigInt(raw json.RawMessage) (int, bool) {
	raw = bytesTrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		if f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	return 0, false
}

func parseDBConfigFloat(raw json.RawMessage) (float64, bool) {
	raw = bytesTrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if errParse == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			return parsed, true
		}
	}
	return 0, false
}

func bytesTrimSpace(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	start := 0
	end := len(input)
	for start < end {
		if input[start] > ' ' {
			break
		}
		start++
	}
	for end > start {
		if input[end-1] > ' ' {
			break
		}
		end--
	}
	return input[start:end]
}
