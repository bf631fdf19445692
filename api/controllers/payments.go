package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/responses"
	"github.com/angelmondragon/payrecon/api/validators"
	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/internal/polling"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

type PaymentsService interface {
	Initiate(ctx context.Context, orderID uuid.UUID) (*payments.Initiation, error)
	CheckStatus(ctx context.Context, orderID uuid.UUID) (*payments.StatusCheck, error)
	StartPolling(ctx context.Context, orderID uuid.UUID, reference string) (polling.Snapshot, error)
	Ledger(ctx context.Context, orderID uuid.UUID) (*payments.LedgerView, error)
	PollingStatus() []polling.Snapshot
}

type startPollingRequest struct {
	GatewayReference string `json:"gatewayReference" validate:"required,max=64,gatewayref"`
}

// PaymentInitiate opens the ledger and returns the gateway redirect.
func PaymentInitiate(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
		out, err := svc.Initiate(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, out)
	})
}

// PaymentCheck queries the gateway immediately.
func PaymentCheck(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
		out, err := svc.CheckStatus(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	})
}

func PaymentStartPolling(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
		var req startPollingRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reference, err := validators.SanitizeReference(req.GatewayReference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.StartPolling(r.Context(), orderID, reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, snap)
	})
}

func PaymentLedger(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(svc, logg, func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) {
		view, err := svc.Ledger(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	})
}

// PollingStatus lists the orders the scheduler is tracking, optionally
// filtered by ?state= and capped by ?limit=.
func PollingStatus(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		state, err := validators.ParsePollingState(r, "state")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 500, 1, 5000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		all := svc.PollingStatus()
		tasks := make([]polling.Snapshot, 0, len(all))
		for _, snap := range all {
			if state != "" && snap.State != state {
				continue
			}
			if len(tasks) == limit {
				break
			}
			tasks = append(tasks, snap)
		}
		responses.WriteSuccess(w, map[string]any{"tasks": tasks, "total": len(all)})
	}
}

func withOrderID(svc PaymentsService, logg *logger.Logger, next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		next(w, r.WithContext(ctx), orderID)
	}
}
