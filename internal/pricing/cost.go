package pricing

import (
	"math"

	"github.com/creditrail/creditrail/internal/models"
)

// Fixed numeric conventions for the credit unit.
const (
	// CreditsPerUSD converts billable USD into credits (1 credit = $0.01).
	CreditsPerUSD = 100
	// MicrosPerUSD converts USD into micro-USD.
	MicrosPerUSD = 1_000_000
	// MicrosPerCredit is the micro-USD value of one credit.
	MicrosPerCredit = MicrosPerUSD / CreditsPerUSD
)

// TokenCounts carries the token usage reported for one completed request.
type TokenCounts struct {
	Input       int64 // Input tokens, excluding cached input tokens.
	Output      int64 // Output tokens.
	CachedInput int64 // Cached input tokens.
}

// Total returns the combined token count.
func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CachedInput
}

// VendorCostMicros computes the vendor cost of a request in micro-USD.
//
// Prices are per 1K tokens. The cached term is charged only when the rate
// defines a cached input price; cached tokens are never billed at the full
// input price.
func VendorCostMicros(rate *models.PricingRate, tokens TokenCounts) int64 {
	if rate == nil {
		return 0
	}
	usd := float64(tokens.Input) / 1000 * rate.InputPricePer1K
	usd += float64(tokens.Output) / 1000 * rate.OutputPricePer1K
	if rate.CachedInputPricePer1K != nil {
		usd += float64(tokens.CachedInput) / 1000 * (*rate.CachedInputPricePer1K)
	}
	if usd <= 0 {
		return 0
	}
	micros := int64(math.Round(usd * MicrosPerUSD))
	if micros == 0 {
		// A positive cost must never quantize to zero: the credit
		// conversion rounds up, so the floor here keeps sub-micro requests
		// charging their minimum 1 credit instead of riding free.
		micros = 1
	}
	return micros
}

// CreditsFromMicros converts a vendor cost into an integer credit charge.
//
// The conversion always rounds up. This protects revenue and is a fixed
// product rule: switching to nearest or down rounding is not a neutral
// refactor.
func CreditsFromMicros(costMicros int64, multiplier float64) int64 {
	if costMicros <= 0 || multiplier <= 0 {
		return 0
	}
	billable := float64(costMicros) * multiplier
	return int64(math.Ceil(billable / MicrosPerCredit))
}

// GrossMarginMicros returns credited value minus vendor cost in micro-USD.
func GrossMarginMicros(credits, costMicros int64) int64 {
	return credits*MicrosPerCredit - costMicros
}

// EstimateCredits computes a deliberately conservative preflight estimate by
// inflating the billable value by safetyPercent before rounding up.
func EstimateCredits(costMicros int64, multiplier float64, safetyPercent int) int64 {
	if costMicros <= 0 || multiplier <= 0 {
		return 0
	}
	if safetyPercent < 0 {
		safetyPercent = 0
	}
	billable := float64(costMicros) * multiplier * (1 + float64(safetyPercent)/100)
	return int64(math.Ceil(billable / MicrosPerCredit))
}
