package enums

// PollingState is the lifecycle of an in-memory polling task.
type PollingState string

const (
	PollingStateScheduled PollingState = "scheduled"
	PollingStatePolling   PollingState = "polling"
	PollingStateConfirmed PollingState = "confirmed"
	PollingStateFailed    PollingState = "failed"
	PollingStateCancelled PollingState = "cancelled"
	PollingStateExpired   PollingState = "expired"
	// PollingStateAborted means the gateway permanently rejected the query.
	PollingStateAborted PollingState = "aborted"
)

func (s PollingState) String() string {
	return string(s)
}

// IsFinished reports whether the task will not query the gateway again.
func (s PollingState) IsFinished() bool {
	switch s {
	case PollingStateScheduled, PollingStatePolling:
		return false
	default:
		return true
	}
}

// PollingStateForLedger returns the finished task state matching a terminal
// ledger status.
func PollingStateForLedger(status LedgerStatus) PollingState {
	switch status {
	case LedgerStatusConfirmed:
		return PollingStateConfirmed
	case LedgerStatusFailed:
		return PollingStateFailed
	default:
		return PollingStateCancelled
	}
}
