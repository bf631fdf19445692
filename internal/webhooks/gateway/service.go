// Package gatewaywebhook receives the gateway's signed server-to-server
// payment callbacks and hands them to the reconciliation core.
package gatewaywebhook

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/internal/gateway"
	"github.com/angelmondragon/payrecon/internal/reconciliation"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/google/uuid"
)

type callbackParser interface {
	ParseCallback(fields map[string]string, sig string) (*gateway.StatusResponse, error)
}

type ledgerLookup interface {
	FindByReference(ctx context.Context, reference string) (*models.PaymentLedger, error)
}

type auditWriter interface {
	Create(ctx context.Context, audit *models.CallbackAudit) error
}

type eventApplier interface {
	ApplyStatusEvent(ctx context.Context, orderID uuid.UUID, ev reconciliation.Event) (*reconciliation.Result, error)
}

// Delivery is one inbound callback as received on the wire.
type Delivery struct {
	Fields     map[string]string
	Signature  string
	RawPayload string
	RemoteAddr string
}

// Ack tells the transport what to answer. Every Ack is a success for the
// provider; Outcome is empty when the callback was audited instead of applied.
type Ack struct {
	OrderID uuid.UUID
	Outcome reconciliation.Outcome
	Audited bool
}

type ServiceParams struct {
	Parser  callbackParser
	Ledgers ledgerLookup
	Audits  auditWriter
	Core    eventApplier
	Logger  *logger.Logger
	Now     func() time.Time
}

type Service struct {
	parser  callbackParser
	ledgers ledgerLookup
	audits  auditWriter
	core    eventApplier
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Parser == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "callback parser required")
	}
	if params.Ledgers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.Audits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repository required")
	}
	if params.Core == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation core required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		parser:  params.Parser,
		ledgers: params.Ledgers,
		audits:  params.Audits,
		core:    params.Core,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// HandleCallback verifies and records one delivery.
//
// A returned error means the provider must be told to fail: SignatureInvalid
// and validation errors are permanent rejections, anything else asks the
// provider to redeliver. Integrity rejections and duplicates are recorded by
// the core and acknowledged like any applied event.
func (s *Service) HandleCallback(ctx context.Context, delivery Delivery) (*Ack, error) {
	resp, err := s.parser.ParseCallback(delivery.Fields, delivery.Signature)
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid):
			s.audit(ctx, enums.CallbackAuditSignatureInvalid, delivery, "")
			s.logg.Warn(s.logg.WithField(ctx, "remote_addr", delivery.RemoteAddr), "gateway callback signature rejected")
		case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
			s.audit(ctx, enums.CallbackAuditMalformed, delivery, delivery.Fields[gateway.FieldReference])
		}
		return nil, err
	}

	ctx = s.logg.WithGatewayReference(ctx, resp.GatewayReference)
	ctx = s.logg.WithChannel(ctx, enums.SourceChannelPush.String())

	current, err := s.ledgers.FindByReference(ctx, resp.GatewayReference)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		if err := s.auditStrict(ctx, enums.CallbackAuditUnknownReference, delivery, resp.GatewayReference); err != nil {
			return nil, err
		}
		s.logg.Warn(ctx, "gateway callback for unknown reference audited")
		return &Ack{Audited: true}, nil
	}

	result, err := s.core.ApplyStatusEvent(ctx, current.OrderID, reconciliation.EventFromResponse(resp, enums.SourceChannelPush))
	if err != nil {
		return nil, err
	}
	return &Ack{OrderID: current.OrderID, Outcome: result.Outcome}, nil
}

func (s *Service) audit(ctx context.Context, reason enums.CallbackAuditReason, delivery Delivery, reference string) {
	if err := s.auditStrict(ctx, reason, delivery, reference); err != nil {
		s.logg.Error(ctx, "write callback audit failed", err)
	}
}

func (s *Service) auditStrict(ctx context.Context, reason enums.CallbackAuditReason, delivery Delivery, reference string) error {
	row := &models.CallbackAudit{
		Reason:     reason,
		RawPayload: delivery.RawPayload,
		ReceivedAt: s.now().UTC(),
	}
	if reference != "" {
		row.GatewayReference = &reference
	}
	sig := delivery.Signature
	if sig == "" {
		sig = delivery.Fields[gateway.FieldSignature]
	}
	if sig != "" {
		row.Signature = &sig
	}
	if delivery.RemoteAddr != "" {
		addr := delivery.RemoteAddr
		row.RemoteAddr = &addr
	}
	if err := s.audits.Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("record %s callback", reason))
	}
	return nil
}
