// Package utils provides small shared helpers used across the trading
// backend: symbol normalization, decimal rounding/clamping, and id
// generation. Trimmed from the teacher's broader utils.go, which also
// carried backtest statistics (Sharpe, max drawdown, profit factor) and a
// generic retry/batch helper — both superseded here by internal/journal's
// own trailing statistics and internal/execution's WithRetry, so keeping a
// second copy of either would just be a second source of truth.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// GenerateID generates a random hex id with an optional prefix.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	id := hex.EncodeToString(b)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// FormatSymbol normalizes a trading symbol to BASE/QUOTE form.
func FormatSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "-", "/")
	symbol = strings.ReplaceAll(symbol, "_", "/")

	if !strings.Contains(symbol, "/") {
		quotes := []string{"USDT", "USDC", "USD", "BTC", "ETH", "BNB"}
		for _, quote := range quotes {
			if strings.HasSuffix(symbol, quote) {
				base := strings.TrimSuffix(symbol, quote)
				return base + "/" + quote
			}
		}
	}
	return symbol
}

// ParseSymbol splits a BASE/QUOTE symbol into its two parts.
func ParseSymbol(symbol string) (base, quote string) {
	parts := strings.Split(symbol, "/")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return symbol, ""
}

// RoundToTickSize rounds price down to the nearest tickSize.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// RoundToStepSize rounds qty down to the nearest stepSize.
func RoundToStepSize(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	return qty.Div(stepSize).Floor().Mul(stepSize)
}

// CalculateMean returns the arithmetic mean of values, zero if empty.
func CalculateMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal bounds value to [min,max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}
