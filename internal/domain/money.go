package domain

import "github.com/shopspring/decimal"

// FormatAmount renders minor units as a two-decimal amount, e.g. "150.00 AOA".
func FormatAmount(minor int64, currency Currency) string {
	return decimal.New(minor, -2).StringFixed(2) + " " + string(currency)
}
