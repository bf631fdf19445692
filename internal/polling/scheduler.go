// Package polling actively queries the gateway for orders awaiting payment
// confirmation until the ledger settles or the polling window closes.
package polling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/angelmondragon/payrecon/internal/gateway"
	"github.com/angelmondragon/payrecon/internal/reconciliation"
	"github.com/angelmondragon/payrecon/internal/review"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

type statusQuerier interface {
	QueryStatus(ctx context.Context, reference string) (*gateway.StatusResponse, error)
}

type eventApplier interface {
	ApplyStatusEvent(ctx context.Context, orderID uuid.UUID, ev reconciliation.Event) (*reconciliation.Result, error)
}

type escalator interface {
	Escalate(ctx context.Context, item review.Item) (bool, error)
}

type ledgerReader interface {
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error)
	ListAwaiting(ctx context.Context, limit int) ([]models.PaymentLedger, error)
}

// Snapshot is a point-in-time copy of one polling task.
type Snapshot struct {
	OrderID          uuid.UUID          `json:"orderId"`
	GatewayReference string             `json:"gatewayReference"`
	State            enums.PollingState `json:"state"`
	AttemptCount     int                `json:"attemptCount"`
	NextAttemptAt    *time.Time         `json:"nextAttemptAt,omitempty"`
	DeadlineAt       *time.Time         `json:"deadlineAt,omitempty"`
	LedgerStatus     enums.LedgerStatus `json:"ledgerStatus,omitempty"`
}

type task struct {
	orderID       uuid.UUID
	reference     string
	state         enums.PollingState
	attempts      int
	nextAttemptAt time.Time
	deadlineAt    time.Time
	backoff       *backoff.ExponentialBackOff
	cancel        context.CancelFunc
}

func (t *task) snapshot() Snapshot {
	next, deadline := t.nextAttemptAt, t.deadlineAt
	return Snapshot{
		OrderID:          t.orderID,
		GatewayReference: t.reference,
		State:            t.state,
		AttemptCount:     t.attempts,
		NextAttemptAt:    &next,
		DeadlineAt:       &deadline,
		LedgerStatus:     enums.LedgerStatusAwaitingConfirmation,
	}
}

type SchedulerParams struct {
	Config    config.PollingConfig
	Gateway   statusQuerier
	Core      eventApplier
	Escalator escalator
	Ledgers   ledgerReader
	Logger    *logger.Logger
	Metrics   *metrics.PollingMetrics
	Now       func() time.Time
}

// Scheduler owns one goroutine per order being polled. The registry holds
// only unfinished tasks; a task leaves it when it stops for any reason.
type Scheduler struct {
	cfg       config.PollingConfig
	gateway   statusQuerier
	core      eventApplier
	escalator escalator
	ledgers   ledgerReader
	logg      *logger.Logger
	metrics   *metrics.PollingMetrics
	now       func() time.Time
	sem       *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	tasks map[uuid.UUID]*task
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Core == nil {
		return nil, fmt.Errorf("reconciliation core required")
	}
	if params.Escalator == nil {
		return nil, fmt.Errorf("escalator required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("polling interval must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("polling max attempts must be positive")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("polling window must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		gateway:    params.Gateway,
		core:       params.Core,
		escalator:  params.Escalator,
		ledgers:    params.Ledgers,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        now,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		baseCtx:    baseCtx,
		baseCancel: cancel,
		tasks:      map[uuid.UUID]*task{},
	}, nil
}

// Run resumes pending ledgers when configured and blocks until ctx ends,
// then stops every task.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.ResumeOnBoot {
		n, err := s.ResumePending(ctx)
		if err != nil {
			s.logg.Error(ctx, "resume pending polling failed", err)
		}
		s.logg.Info(s.logg.WithField(ctx, "resumed", n), "polling scheduler started")
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop cancels all tasks and waits for their goroutines.
func (s *Scheduler) Stop() {
	s.baseCancel()
	s.wg.Wait()
}

// StartPolling begins polling for an order. While a task exists for the
// order this is a no-op returning the current snapshot. Orders whose ledger
// is already terminal get a snapshot of the final state and no task.
func (s *Scheduler) StartPolling(ctx context.Context, orderID uuid.UUID, reference string) (Snapshot, error) {
	if snap, ok := s.Get(orderID); ok {
		return snap, nil
	}

	current, err := s.ledgers.FindByOrderID(ctx, orderID)
	if err != nil {
		return Snapshot{}, err
	}
	if current.Reference() == "" || current.Reference() != reference {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "gateway reference does not match the order")
	}
	if current.Status.IsTerminal() {
		return Snapshot{
			OrderID:          orderID,
			GatewayReference: reference,
			State:            enums.PollingStateForLedger(current.Status),
			LedgerStatus:     current.Status,
		}, nil
	}

	now := s.now()
	return s.schedule(orderID, reference, now.Add(s.cfg.InitialDelay), now.Add(s.cfg.Window)), nil
}

// ResumePending recreates tasks for every ledger still awaiting confirmation.
// Ledgers whose polling window already closed are escalated instead.
func (s *Scheduler) ResumePending(ctx context.Context) (int, error) {
	pending, err := s.ledgers.ListAwaiting(ctx, 0)
	if err != nil {
		return 0, err
	}

	now := s.now()
	resumed := 0
	var errs error
	for i := range pending {
		l := pending[i]
		deadline := now.Add(s.cfg.Window)
		if l.InitiatedAt != nil {
			deadline = l.InitiatedAt.Add(s.cfg.Window)
		}
		if !now.Before(deadline) {
			if _, err := s.escalator.Escalate(ctx, review.Item{Reason: review.ReasonPollingExpired, Ledger: &l}); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("escalate %s: %w", l.OrderID, err))
			}
			s.metrics.IncFinished(string(enums.PollingStateExpired))
			continue
		}
		s.schedule(l.OrderID, l.Reference(), now.Add(s.cfg.InitialDelay), deadline)
		resumed++
	}
	return resumed, errs
}

// Cancel stops the task for an order, recording the final state. It is safe
// to call for orders that are not being polled.
func (s *Scheduler) Cancel(orderID uuid.UUID, state enums.PollingState) bool {
	s.mu.Lock()
	t, ok := s.tasks[orderID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if !state.IsFinished() {
		state = enums.PollingStateCancelled
	}
	t.state = state
	delete(s.tasks, orderID)
	active := len(s.tasks)
	s.mu.Unlock()

	t.cancel()
	s.metrics.IncFinished(string(state))
	s.metrics.SetActive(active)
	return true
}

// OnTerminal is the reconciliation core's terminal listener.
func (s *Scheduler) OnTerminal(ctx context.Context, orderID uuid.UUID, status enums.LedgerStatus) {
	if s.Cancel(orderID, enums.PollingStateForLedger(status)) {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "polling stopped by terminal ledger")
	}
}

// Get returns a copy of one task.
func (s *Scheduler) Get(orderID uuid.UUID) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[orderID]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// GetPollingStatus returns copies of every active task ordered by next attempt.
func (s *Scheduler) GetPollingStatus() []Snapshot {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NextAttemptAt.Equal(*out[j].NextAttemptAt) {
			return out[i].OrderID.String() < out[j].OrderID.String()
		}
		return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt)
	})
	return out
}

func (s *Scheduler) schedule(orderID uuid.UUID, reference string, next, deadline time.Time) Snapshot {
	s.mu.Lock()
	if existing, ok := s.tasks[orderID]; ok {
		snap := existing.snapshot()
		s.mu.Unlock()
		return snap
	}

	b := backoff.NewExponentialBackOff()
	if s.cfg.BackoffInitial > 0 {
		b.InitialInterval = s.cfg.BackoffInitial
	}
	if s.cfg.BackoffMax > 0 {
		b.MaxInterval = s.cfg.BackoffMax
	}
	b.RandomizationFactor = s.cfg.BackoffJitter
	b.Reset()

	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &task{
		orderID:       orderID,
		reference:     reference,
		state:         enums.PollingStateScheduled,
		nextAttemptAt: next,
		deadlineAt:    deadline,
		backoff:       b,
		cancel:        cancel,
	}
	s.tasks[orderID] = t
	snap := t.snapshot()
	active := len(s.tasks)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetActive(active)
	go s.loop(ctx, t)
	return snap
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()
	ctx = s.logg.WithOrderID(ctx, t.orderID.String())
	ctx = s.logg.WithGatewayReference(ctx, t.reference)

	for {
		s.mu.Lock()
		wait := t.nextAttemptAt.Sub(s.now())
		if untilDeadline := t.deadlineAt.Sub(s.now()); untilDeadline < wait {
			wait = untilDeadline
		}
		s.mu.Unlock()

		if err := waitOrCancel(ctx, wait); err != nil {
			s.finish(t, enums.PollingStateCancelled)
			return
		}
		if state, done := s.tick(ctx, t); done {
			s.finish(t, state)
			return
		}
	}
}

// tick runs one attempt. It reports the final state when the task is done.
func (s *Scheduler) tick(ctx context.Context, t *task) (enums.PollingState, bool) {
	s.mu.Lock()
	expired := t.attempts >= s.cfg.MaxAttempts || !s.now().Before(t.deadlineAt)
	attempts := t.attempts
	s.mu.Unlock()
	if expired {
		s.escalate(ctx, t, review.ReasonPollingExpired, attempts)
		return enums.PollingStateExpired, true
	}

	current, err := s.ledgers.FindByOrderID(ctx, t.orderID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "polling ledger read failed")
		s.reschedule(t, s.cfg.Interval)
		return "", false
	}
	if current.Status.IsTerminal() {
		return enums.PollingStateForLedger(current.Status), true
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return enums.PollingStateCancelled, true
	}
	if ctx.Err() != nil {
		s.sem.Release(1)
		return enums.PollingStateCancelled, true
	}

	s.mu.Lock()
	t.state = enums.PollingStatePolling
	t.attempts++
	s.mu.Unlock()

	resp, err := s.gateway.QueryStatus(ctx, t.reference)
	s.sem.Release(1)
	if ctx.Err() != nil {
		return enums.PollingStateCancelled, true
	}

	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnreachable) {
			s.metrics.IncAttempt("unreachable")
			delay := t.backoff.NextBackOff()
			if delay == backoff.Stop || delay <= 0 {
				delay = s.cfg.BackoffMax
			}
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error": err.Error(), "retry_in": delay.String()}), "gateway unreachable; backing off")
			s.reschedule(t, delay)
			return "", false
		}
		s.metrics.IncAttempt("rejected")
		s.logg.Error(ctx, "gateway rejected status query; aborting polling", err)
		s.escalate(ctx, t, review.ReasonPollingAborted, attempts+1)
		return enums.PollingStateAborted, true
	}

	s.metrics.IncAttempt("ok")
	t.backoff.Reset()
	result, err := s.core.ApplyStatusEvent(ctx, t.orderID, reconciliation.EventFromResponse(resp, enums.SourceChannelPull))
	if err != nil {
		if ctx.Err() != nil {
			return enums.PollingStateCancelled, true
		}
		if !pkgerrors.IsRetryable(err) {
			s.logg.Error(ctx, "status event rejected permanently; aborting polling", err)
			s.escalate(ctx, t, review.ReasonPollingAborted, attempts+1)
			return enums.PollingStateAborted, true
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "status event not recorded; retrying next tick")
		s.reschedule(t, s.cfg.Interval)
		return "", false
	}
	if result.Terminal() {
		return enums.PollingStateForLedger(result.Status), true
	}
	s.reschedule(t, s.cfg.Interval)
	return "", false
}

func (s *Scheduler) reschedule(t *task, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.state.IsFinished() {
		return
	}
	t.state = enums.PollingStateScheduled
	t.nextAttemptAt = s.now().Add(delay)
}

// finish removes the task unless Cancel already did.
func (s *Scheduler) finish(t *task, state enums.PollingState) {
	s.mu.Lock()
	current, ok := s.tasks[t.orderID]
	if !ok || current != t {
		s.mu.Unlock()
		return
	}
	t.state = state
	delete(s.tasks, t.orderID)
	active := len(s.tasks)
	s.mu.Unlock()

	t.cancel()
	s.metrics.IncFinished(string(state))
	s.metrics.SetActive(active)
}

func (s *Scheduler) escalate(ctx context.Context, t *task, reason review.Reason, attempts int) {
	current, err := s.ledgers.FindByOrderID(ctx, t.orderID)
	if err != nil {
		s.logg.Error(ctx, "load ledger for escalation failed", err)
		return
	}
	if current.Status.IsTerminal() {
		return
	}
	if _, err := s.escalator.Escalate(ctx, review.Item{
		Reason:       reason,
		Ledger:       current,
		Channel:      enums.SourceChannelPull,
		AttemptCount: attempts,
	}); err != nil {
		s.logg.Error(ctx, "polling escalation failed", err)
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"reason":   string(reason),
		"attempts": attempts,
	}), "polling stopped without a terminal status")
}

func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
