package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/internal/review"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultStaleGrace = 30 * time.Minute
	defaultStaleBatch = 200
)

type staleLedgerSource interface {
	ListAwaitingInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentLedger, error)
}

type staleEscalator interface {
	Escalate(ctx context.Context, item review.Item) (bool, error)
}

// StaleLedgerJobParams configure the sweep. Ledgers initiated more than
// Window+Grace ago and still awaiting confirmation are stale.
type StaleLedgerJobParams struct {
	Logger    *logger.Logger
	Ledgers   staleLedgerSource
	Escalator staleEscalator
	Window    time.Duration
	Grace     time.Duration
	Batch     int
}

// NewStaleLedgerJob escalates ledgers that are still awaiting confirmation
// well after polling should have settled them, e.g. after a crash lost the
// in-memory polling task.
func NewStaleLedgerJob(params StaleLedgerJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Escalator == nil {
		return nil, fmt.Errorf("escalator required")
	}
	if params.Window <= 0 {
		return nil, fmt.Errorf("polling window must be positive")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultStaleGrace
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultStaleBatch
	}
	return &staleLedgerJob{
		logg:      params.Logger,
		ledgers:   params.Ledgers,
		escalator: params.Escalator,
		age:       params.Window + grace,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type staleLedgerJob struct {
	logg      *logger.Logger
	ledgers   staleLedgerSource
	escalator staleEscalator
	age       time.Duration
	batch     int
	now       func() time.Time
}

func (j *staleLedgerJob) Name() string { return "stale-ledger-sweep" }

func (j *staleLedgerJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	stale, err := j.ledgers.ListAwaitingInitiatedBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale ledgers: %w", err)
	}

	escalated := 0
	var errs error
	for i := range stale {
		l := stale[i]
		raised, err := j.escalator.Escalate(ctx, review.Item{
			Reason:  review.ReasonStale,
			Ledger:  &l,
			Channel: enums.SourceChannelSystem,
			Detail:  fmt.Sprintf("awaiting confirmation since %s", l.InitiatedAt),
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("escalate order %s: %w", l.OrderID, err))
			continue
		}
		if raised {
			escalated++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"escalated":  escalated,
	}), "stale ledger sweep complete")
	return errs
}
