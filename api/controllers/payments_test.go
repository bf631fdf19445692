package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/responses"
	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/internal/polling"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

type fakePaymentsService struct {
	lastOrder     uuid.UUID
	lastReference string
	err           error
	snapshots     []polling.Snapshot
}

func (f *fakePaymentsService) Initiate(_ context.Context, orderID uuid.UUID) (*payments.Initiation, error) {
	f.lastOrder = orderID
	if f.err != nil {
		return nil, f.err
	}
	return &payments.Initiation{OrderID: orderID, RedirectURL: "https://pay.example/redirect", GatewayReference: "R1"}, nil
}

func (f *fakePaymentsService) CheckStatus(_ context.Context, orderID uuid.UUID) (*payments.StatusCheck, error) {
	f.lastOrder = orderID
	if f.err != nil {
		return nil, f.err
	}
	return &payments.StatusCheck{OrderID: orderID, GatewayReference: "R1", Status: enums.LedgerStatusConfirmed, Queried: true}, nil
}

func (f *fakePaymentsService) StartPolling(_ context.Context, orderID uuid.UUID, reference string) (polling.Snapshot, error) {
	f.lastOrder = orderID
	f.lastReference = reference
	if f.err != nil {
		return polling.Snapshot{}, f.err
	}
	return polling.Snapshot{OrderID: orderID, GatewayReference: reference, State: enums.PollingStateScheduled}, nil
}

func (f *fakePaymentsService) Ledger(_ context.Context, orderID uuid.UUID) (*payments.LedgerView, error) {
	f.lastOrder = orderID
	if f.err != nil {
		return nil, f.err
	}
	return &payments.LedgerView{}, nil
}

func (f *fakePaymentsService) PollingStatus() []polling.Snapshot {
	return f.snapshots
}

func newPaymentsRouter(svc PaymentsService) http.Handler {
	logg := logger.Nop()
	r := chi.NewRouter()
	r.Post("/payments/{orderId}/initiate", PaymentInitiate(svc, logg))
	r.Post("/payments/{orderId}/check", PaymentCheck(svc, logg))
	r.Post("/payments/{orderId}/polling", PaymentStartPolling(svc, logg))
	r.Get("/payments/{orderId}", PaymentLedger(svc, logg))
	r.Get("/polling", PollingStatus(svc, logg))
	return r
}

func TestPaymentInitiate(t *testing.T) {
	svc := &fakePaymentsService{}
	orderID := uuid.New()
	rec := httptest.NewRecorder()
	newPaymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/"+orderID.String()+"/initiate", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastOrder != orderID {
		t.Fatalf("order id not forwarded")
	}
	var body struct {
		Data payments.Initiation `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.RedirectURL == "" || body.Data.GatewayReference != "R1" {
		t.Fatalf("unexpected payload %+v", body.Data)
	}
}

func TestPaymentRejectsBadOrderID(t *testing.T) {
	svc := &fakePaymentsService{}
	rec := httptest.NewRecorder()
	newPaymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/not-a-uuid/check", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.lastOrder != uuid.Nil {
		t.Fatalf("service should not be called")
	}
}

func TestPaymentCheckMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   pkgerrors.Code
	}{
		{pkgerrors.New(pkgerrors.CodeRateLimit, "too many status checks"), http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{pkgerrors.New(pkgerrors.CodeNotFound, "ledger not found"), http.StatusNotFound, pkgerrors.CodeNotFound},
		{pkgerrors.New(pkgerrors.CodePollingExpired, "still pending"), http.StatusConflict, pkgerrors.CodePollingExpired},
		{pkgerrors.New(pkgerrors.CodeGatewayUnreachable, "timeout"), http.StatusServiceUnavailable, pkgerrors.CodeGatewayUnreachable},
		{errors.New("boom"), http.StatusInternalServerError, pkgerrors.CodeInternal},
	}
	for _, tc := range cases {
		svc := &fakePaymentsService{err: tc.err}
		rec := httptest.NewRecorder()
		newPaymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/"+uuid.NewString()+"/check", nil))

		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body responses.ErrorEnvelope
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != string(tc.code) {
			t.Fatalf("expected code %s, got %s", tc.code, body.Error.Code)
		}
	}
}

func TestPaymentStartPolling(t *testing.T) {
	svc := &fakePaymentsService{}
	orderID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/"+orderID.String()+"/polling", strings.NewReader(`{"gatewayReference":" R9 "}`))
	rec := httptest.NewRecorder()
	newPaymentsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastReference != "R9" {
		t.Fatalf("expected trimmed reference, got %q", svc.lastReference)
	}
}

func TestPaymentStartPollingValidatesBody(t *testing.T) {
	svc := &fakePaymentsService{}
	for _, body := range []string{`{}`, `{"gatewayReference":"R1","extra":true}`, `nope`, `{"gatewayReference":"R1; DROP"}`, ``} {
		req := httptest.NewRequest(http.MethodPost, "/payments/"+uuid.NewString()+"/polling", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newPaymentsRouter(svc).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
	if svc.lastReference != "" {
		t.Fatalf("service should not be called for invalid bodies")
	}
}

func TestPaymentLedgerAndPollingStatus(t *testing.T) {
	orderID := uuid.New()
	svc := &fakePaymentsService{snapshots: []polling.Snapshot{{OrderID: orderID, State: enums.PollingStateScheduled}}}
	router := newPaymentsRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/"+orderID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/polling", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("polling: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), orderID.String()) {
		t.Fatalf("snapshot missing from body: %s", rec.Body.String())
	}
}

func TestPollingStatusFiltersAndLimits(t *testing.T) {
	svc := &fakePaymentsService{snapshots: []polling.Snapshot{
		{OrderID: uuid.New(), State: enums.PollingStateScheduled},
		{OrderID: uuid.New(), State: enums.PollingStatePolling},
		{OrderID: uuid.New(), State: enums.PollingStateScheduled},
	}}
	router := newPaymentsRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/polling?state=scheduled&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Data struct {
			Tasks []polling.Snapshot `json:"tasks"`
			Total int                `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Tasks) != 1 || body.Data.Tasks[0].State != enums.PollingStateScheduled {
		t.Fatalf("unexpected tasks %+v", body.Data.Tasks)
	}
	if body.Data.Total != 3 {
		t.Fatalf("expected total 3, got %d", body.Data.Total)
	}

	for _, query := range []string{"?state=expired", "?limit=0", "?limit=abc"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/polling"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func TestHealthReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthReady(nil, map[string]Pinger{"database": stubPinger{}, "redis": stubPinger{}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(nil, map[string]Pinger{"database": stubPinger{}, "redis": stubPinger{err: errors.New("down")}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthLive().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
