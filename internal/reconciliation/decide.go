package reconciliation

import (
	"fmt"

	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/internal/review"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

type decision struct {
	outcome Outcome
	note    string
	// target is empty when the status does not change.
	target            enums.LedgerStatus
	review            review.Reason
	detail            string
	countConfirmation bool
}

// decide is the transition table. It never reads anything but its inputs.
func decide(current *models.PaymentLedger, ev Event) decision {
	if ev.GatewayReference == "" || ev.GatewayReference != current.Reference() {
		return decision{
			outcome: OutcomeRejected,
			note:    ledger.NoteRefMismatch,
			review:  review.ReasonReferenceMismatch,
			detail:  fmt.Sprintf("event reference %q does not match ledger", ev.GatewayReference),
		}
	}

	if ev.NormalizedStatus == enums.NormalizedSuccess {
		if ev.AmountCents == nil || *ev.AmountCents != current.AmountExpectedCents {
			got := "none"
			if ev.AmountCents != nil {
				got = fmt.Sprintf("%d", *ev.AmountCents)
			}
			return decision{
				outcome: OutcomeRejected,
				note:    ledger.NoteAmountMismatch,
				review:  review.ReasonAmountMismatch,
				detail:  fmt.Sprintf("expected %d, got %s", current.AmountExpectedCents, got),
			}
		}
		if ev.Currency != "" && ev.Currency != current.Currency {
			return decision{
				outcome: OutcomeRejected,
				note:    ledger.NoteCurrencyMismatch,
				review:  review.ReasonCurrencyMismatch,
				detail:  fmt.Sprintf("expected %s, got %s", current.Currency, ev.Currency),
			}
		}
	}

	target, drives := ev.NormalizedStatus.TargetLedgerStatus()

	if current.Status.IsTerminal() {
		d := decision{outcome: OutcomeDuplicate, note: ledger.NoteDuplicate}
		if drives && target != current.Status {
			d.note = ledger.NoteConflict
			d.review = review.ReasonConflictingOutcome
			d.detail = fmt.Sprintf("ledger is %s, %s channel reported %s", current.Status, ev.SourceChannel, ev.NormalizedStatus)
			return d
		}
		if current.Status == enums.LedgerStatusConfirmed && target == enums.LedgerStatusConfirmed &&
			!current.ConfirmationChannels.Contains(ev.SourceChannel) {
			d.countConfirmation = true
		}
		return d
	}

	if !drives {
		return decision{outcome: OutcomeNoChange, note: fmt.Sprintf("%s: %s", ledger.NoteNoChange, ev.NormalizedStatus)}
	}
	if current.Status != enums.LedgerStatusAwaitingConfirmation {
		// A reference is only ever assigned together with awaiting_confirmation,
		// so this is unreachable for a consistent ledger.
		return decision{
			outcome: OutcomeRejected,
			note:    fmt.Sprintf("rejected: ledger %s", current.Status),
		}
	}
	return decision{
		outcome:           OutcomeApplied,
		note:              ledger.NoteApplied,
		target:            target,
		countConfirmation: target == enums.LedgerStatusConfirmed,
	}
}
