package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO-4217 code. Settlement is single-currency per ledger.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyVND Currency = "VND"
)

var validCurrencies = []Currency{CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyVND}

func (c Currency) String() string {
	return string(c)
}

func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// Exponent returns the number of minor-unit digits for the currency.
func (c Currency) Exponent() int32 {
	if c == CurrencyVND {
		return 0
	}
	return 2
}

func ParseCurrency(value string) (Currency, error) {
	normalized := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
