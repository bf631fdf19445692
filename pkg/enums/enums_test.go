package enums

import "testing"

func TestLedgerStatusTerminal(t *testing.T) {
	terminal := map[LedgerStatus]bool{
		LedgerStatusUninitiated:          false,
		LedgerStatusAwaitingConfirmation: false,
		LedgerStatusConfirmed:            true,
		LedgerStatusFailed:               true,
		LedgerStatusCancelled:            true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: expected terminal=%v got %v", status, want, got)
		}
	}
}

func TestNormalizedStatusTargets(t *testing.T) {
	cases := []struct {
		in     NormalizedStatus
		want   LedgerStatus
		change bool
	}{
		{NormalizedSuccess, LedgerStatusConfirmed, true},
		{NormalizedDeclined, LedgerStatusFailed, true},
		{NormalizedCancelled, LedgerStatusCancelled, true},
		{NormalizedPending, "", false},
		{NormalizedError, "", false},
	}
	for _, tc := range cases {
		got, ok := tc.in.TargetLedgerStatus()
		if got != tc.want || ok != tc.change {
			t.Fatalf("%s: expected (%q,%v) got (%q,%v)", tc.in, tc.want, tc.change, got, ok)
		}
	}
}

func TestParseCurrency(t *testing.T) {
	got, err := ParseCurrency(" usd ")
	if err != nil || got != CurrencyUSD {
		t.Fatalf("expected USD, got %q err=%v", got, err)
	}
	if _, err := ParseCurrency("XYZ"); err == nil {
		t.Fatal("expected unknown currency to fail")
	}
	if CurrencyVND.Exponent() != 0 || CurrencyUSD.Exponent() != 2 {
		t.Fatal("unexpected currency exponents")
	}
}

func TestPollingStateFinished(t *testing.T) {
	if PollingStateScheduled.IsFinished() || PollingStatePolling.IsFinished() {
		t.Fatal("active states must not be finished")
	}
	for _, s := range []PollingState{PollingStateConfirmed, PollingStateExpired, PollingStateAborted} {
		if !s.IsFinished() {
			t.Fatalf("%s should be finished", s)
		}
	}
	if PollingStateForLedger(LedgerStatusFailed) != PollingStateFailed {
		t.Fatal("failed ledger should map to failed polling state")
	}
}
