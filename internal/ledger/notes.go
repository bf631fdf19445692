package ledger

// History notes. Operators filter on these prefixes.
const (
	NoteInitiated        = "initiated"
	NoteApplied          = "applied"
	NoteNoChange         = "no-change"
	NoteDuplicate        = "duplicate"
	NoteConflict         = "duplicate: conflicting-outcome"
	NoteRefMismatch      = "rejected: reference-mismatch"
	NoteAmountMismatch   = "rejected: amount-mismatch"
	NoteCurrencyMismatch = "rejected: currency-mismatch"
	NotePollingExpired   = "escalated: polling-expired"
	NotePollingAborted   = "escalated: polling-aborted"
	NoteStale            = "escalated: stale"
)
