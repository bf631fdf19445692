package enums

import "fmt"

// NormalizedStatus is the provider-agnostic classification of a raw gateway
// status code. Anything the gateway client cannot classify is StatusError.
type NormalizedStatus string

const (
	NormalizedSuccess   NormalizedStatus = "success"
	NormalizedPending   NormalizedStatus = "pending"
	NormalizedDeclined  NormalizedStatus = "declined"
	NormalizedCancelled NormalizedStatus = "cancelled"
	NormalizedError     NormalizedStatus = "error"
)

var validNormalizedStatuses = []NormalizedStatus{
	NormalizedSuccess,
	NormalizedPending,
	NormalizedDeclined,
	NormalizedCancelled,
	NormalizedError,
}

func (s NormalizedStatus) String() string {
	return string(s)
}

func (s NormalizedStatus) IsValid() bool {
	for _, candidate := range validNormalizedStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// TargetLedgerStatus maps a normalized status to the ledger status it drives.
// The boolean is false for statuses that never change the ledger.
func (s NormalizedStatus) TargetLedgerStatus() (LedgerStatus, bool) {
	switch s {
	case NormalizedSuccess:
		return LedgerStatusConfirmed, true
	case NormalizedDeclined:
		return LedgerStatusFailed, true
	case NormalizedCancelled:
		return LedgerStatusCancelled, true
	default:
		return "", false
	}
}

func ParseNormalizedStatus(value string) (NormalizedStatus, error) {
	for _, candidate := range validNormalizedStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid normalized status %q", value)
}
