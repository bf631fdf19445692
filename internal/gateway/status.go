package gateway

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/shopspring/decimal"
)

type classifier map[string]enums.NormalizedStatus

func newClassifier(cfg config.GatewayConfig) classifier {
	out := classifier{}
	add := func(codes []string, status enums.NormalizedStatus) {
		for _, code := range codes {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			if _, exists := out[code]; !exists {
				out[code] = status
			}
		}
	}
	add(cfg.SuccessCodes, enums.NormalizedSuccess)
	add(cfg.DeclinedCodes, enums.NormalizedDeclined)
	add(cfg.CancelledCodes, enums.NormalizedCancelled)
	add(cfg.PendingCodes, enums.NormalizedPending)
	return out
}

// classify maps a raw provider code. Unknown codes are errors, never success.
func (c classifier) classify(raw string) enums.NormalizedStatus {
	if status, ok := c[strings.TrimSpace(raw)]; ok {
		return status
	}
	return enums.NormalizedError
}

// FormatAmount renders minor units as a major-unit decimal string.
func FormatAmount(cents int64, currency enums.Currency) string {
	exp := currency.Exponent()
	return decimal.New(cents, -exp).StringFixed(exp)
}

// ParseAmount converts a major-unit decimal string to minor units. Values
// with more precision than the currency allows are rejected.
func ParseAmount(raw string, currency enums.Currency) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	minor := value.Shift(currency.Exponent())
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has too many decimal places for %s", raw, currency)
	}
	if minor.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", raw)
	}
	return minor.IntPart(), nil
}
