package enums

import "fmt"

// LedgerStatus tracks the payment lifecycle of a single order.
type LedgerStatus string

const (
	LedgerStatusUninitiated          LedgerStatus = "uninitiated"
	LedgerStatusAwaitingConfirmation LedgerStatus = "awaiting_confirmation"
	LedgerStatusConfirmed            LedgerStatus = "confirmed"
	LedgerStatusFailed               LedgerStatus = "failed"
	LedgerStatusCancelled            LedgerStatus = "cancelled"
)

var validLedgerStatuses = []LedgerStatus{
	LedgerStatusUninitiated,
	LedgerStatusAwaitingConfirmation,
	LedgerStatusConfirmed,
	LedgerStatusFailed,
	LedgerStatusCancelled,
}

// String implements fmt.Stringer.
func (s LedgerStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LedgerStatus.
func (s LedgerStatus) IsValid() bool {
	for _, candidate := range validLedgerStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s LedgerStatus) IsTerminal() bool {
	switch s {
	case LedgerStatusConfirmed, LedgerStatusFailed, LedgerStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseLedgerStatus converts raw input into a LedgerStatus.
func ParseLedgerStatus(value string) (LedgerStatus, error) {
	for _, candidate := range validLedgerStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger status %q", value)
}
