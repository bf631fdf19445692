package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/angelmondragon/payrecon/pkg/signature"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Wire field names shared by initiation, status queries and callbacks.
const (
	FieldMerchantID     = "merchant_id"
	FieldReference      = "reference"
	FieldAmount         = "amount"
	FieldCurrency       = "currency"
	FieldTimestamp      = "timestamp"
	FieldCallbackURL    = "callback_url"
	FieldReturnURL      = "return_url"
	FieldTransactionRef = "transaction_ref"
	FieldStatusCode     = "status_code"
	FieldSignature      = "signature"

	referencePrefix = "PR-"

	opInitiate = "initiate"
	opQuery    = "query_status"
	opCallback = "parse_callback"
)

var (
	ErrMissingLogger = errors.New("gateway logger is required")
	ErrMissingConfig = errors.New("gateway merchant id, secret, base url and callback url are required when enabled")
)

var (
	initiationCodec = signature.NewCodec(FieldMerchantID, FieldReference, FieldAmount, FieldCurrency, FieldTimestamp, FieldCallbackURL)
	queryCodec      = signature.NewCodec(FieldMerchantID, FieldReference, FieldTimestamp)
	responseCodec   = signature.NewCodec(FieldMerchantID, FieldReference, FieldStatusCode)
)

// Order is the slice of an order the gateway needs to build a payment request.
type Order struct {
	ID                uuid.UUID
	AmountCents       int64
	Currency          enums.Currency
	ExistingReference string
}

// Initiation is where the customer is sent to pay.
type Initiation struct {
	RedirectURL      string
	GatewayReference string
}

// StatusResponse is a provider response decoded and classified once at the
// gateway boundary. Nothing downstream inspects raw provider fields.
type StatusResponse struct {
	GatewayReference string
	TransactionRef   string
	RawStatusCode    string
	NormalizedStatus enums.NormalizedStatus
	AmountCents      *int64
	Currency         enums.Currency
	ObservedAt       time.Time
}

type ClientParams struct {
	Config       config.GatewayConfig
	Logger       *logger.Logger
	Metrics      *metrics.GatewayMetrics
	HTTPClient   *resty.Client
	Now          func() time.Time
	NewReference func() string
}

// Client talks to the signed HTTP payment gateway. It holds no mutable
// per-request state and is safe for concurrent use.
type Client struct {
	cfg          config.GatewayConfig
	secret       signature.Secret
	http         *resty.Client
	logger       *logger.Logger
	metrics      *metrics.GatewayMetrics
	classifier   classifier
	now          func() time.Time
	newReference func() string
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Logger == nil {
		return nil, ErrMissingLogger
	}
	cfg := params.Config
	if cfg.Enabled {
		if strings.TrimSpace(cfg.MerchantID) == "" || cfg.Secret == "" ||
			strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.CallbackURL) == "" {
			return nil, ErrMissingConfig
		}
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = resty.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient.SetTimeout(timeout)
	httpClient.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))

	now := params.Now
	if now == nil {
		now = time.Now
	}
	newReference := params.NewReference
	if newReference == nil {
		newReference = GenerateReference
	}

	return &Client{
		cfg:          cfg,
		secret:       signature.Secret(cfg.Secret),
		http:         httpClient,
		logger:       params.Logger,
		metrics:      params.Metrics,
		classifier:   newClassifier(cfg),
		now:          now,
		newReference: newReference,
	}, nil
}

// GenerateReference mints a fresh opaque gateway reference.
func GenerateReference() string {
	return referencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled
}

// Initiate signs a payment request and returns the redirect URL. An existing
// reference on the order is reused so a reference is minted at most once.
func (c *Client) Initiate(ctx context.Context, order Order) (*Initiation, error) {
	if !c.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayDisabled, "payment gateway is not enabled")
	}
	if order.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").
			WithDetails(map[string]any{"amount_cents": order.AmountCents})
	}
	currency := order.Currency
	if currency == "" {
		currency = enums.Currency(c.cfg.Currency)
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}

	reference := strings.TrimSpace(order.ExistingReference)
	if reference == "" {
		reference = c.newReference()
	}

	fields := signature.Fields{
		FieldMerchantID:  c.cfg.MerchantID,
		FieldReference:   reference,
		FieldAmount:      FormatAmount(order.AmountCents, currency),
		FieldCurrency:    currency.String(),
		FieldTimestamp:   strconv.FormatInt(c.now().UTC().Unix(), 10),
		FieldCallbackURL: c.cfg.CallbackURL,
	}
	if c.cfg.ReturnURL != "" {
		fields[FieldReturnURL] = c.cfg.ReturnURL
	}
	sig, err := initiationCodec.Sign(fields, c.secret)
	if err != nil {
		c.metrics.Observe(opInitiate, "error", 0)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign payment request")
	}

	query := url.Values{}
	for k, v := range fields {
		query.Set(k, v)
	}
	query.Set(FieldSignature, sig)
	redirect := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.PaymentPath + "?" + query.Encode()

	c.metrics.Observe(opInitiate, "ok", 0)
	c.log(ctx, "request", opInitiate, map[string]any{
		"order_id":          order.ID.String(),
		"gateway_reference": reference,
		"amount":            fields[FieldAmount],
		"currency":          fields[FieldCurrency],
	})
	return &Initiation{RedirectURL: redirect, GatewayReference: reference}, nil
}

// QueryStatus asks the gateway for the current status of a reference.
// Transport failures, 5xx and 429 are GatewayUnreachable; anything else the
// gateway refuses or answers unverifiably is GatewayRejected.
func (c *Client) QueryStatus(ctx context.Context, reference string) (*StatusResponse, error) {
	if !c.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayDisabled, "payment gateway is not enabled")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway reference is required")
	}

	fields := signature.Fields{
		FieldMerchantID: c.cfg.MerchantID,
		FieldReference:  reference,
		FieldTimestamp:  strconv.FormatInt(c.now().UTC().Unix(), 10),
	}
	sig, err := queryCodec.Sign(fields, c.secret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign status query")
	}
	body := map[string]string(fields.Without())
	body[FieldSignature] = sig

	started := time.Now()
	c.log(ctx, "request", opQuery, map[string]any{"gateway_reference": reference})
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(body).
		Post(c.cfg.StatusPath)
	elapsed := time.Since(started)
	if err != nil {
		c.metrics.Observe(opQuery, "unreachable", elapsed)
		c.log(ctx, "error", opQuery, map[string]any{"gateway_reference": reference, "error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "gateway status query failed")
	}

	status := resp.StatusCode()
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		c.metrics.Observe(opQuery, "unreachable", elapsed)
		c.log(ctx, "error", opQuery, map[string]any{"gateway_reference": reference, "status": status, "error": "gateway unavailable"})
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnreachable, fmt.Sprintf("gateway status query returned %d", status))
	}
	if status >= http.StatusBadRequest {
		c.metrics.Observe(opQuery, "rejected", elapsed)
		c.log(ctx, "error", opQuery, map[string]any{"gateway_reference": reference, "status": status, "error": "gateway refused query"})
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, fmt.Sprintf("gateway status query returned %d", status))
	}

	var payload map[string]string
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		c.metrics.Observe(opQuery, "rejected", elapsed)
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, err, "decode gateway status response")
	}
	parsed, err := c.decodeSigned(payload, payload[FieldSignature])
	if err != nil {
		c.metrics.Observe(opQuery, "rejected", elapsed)
		c.log(ctx, "error", opQuery, map[string]any{"gateway_reference": reference, "error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, err, "gateway status response invalid")
	}
	if parsed.GatewayReference != reference {
		c.metrics.Observe(opQuery, "rejected", elapsed)
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "gateway status response is for a different reference")
	}

	c.metrics.Observe(opQuery, "ok", elapsed)
	c.log(ctx, "response", opQuery, map[string]any{
		"gateway_reference": reference,
		"status_code":       parsed.RawStatusCode,
		"normalized_status": parsed.NormalizedStatus.String(),
	})
	return parsed, nil
}

// ParseCallback verifies the signature over every payload field before any
// field is trusted. Verification failures are SignatureInvalid.
func (c *Client) ParseCallback(fields map[string]string, sig string) (*StatusResponse, error) {
	if !c.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayDisabled, "payment gateway is not enabled")
	}
	if sig == "" {
		sig = fields[FieldSignature]
	}
	parsed, err := c.decodeSigned(fields, sig)
	if err != nil {
		c.metrics.Observe(opCallback, "invalid", 0)
		return nil, err
	}
	c.metrics.Observe(opCallback, "ok", 0)
	return parsed, nil
}

func (c *Client) decodeSigned(raw map[string]string, sig string) (*StatusResponse, error) {
	fields := signature.Fields(raw).Without(FieldSignature)
	if !responseCodec.Verify(fields, sig, c.secret) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "gateway signature invalid")
	}
	if fields[FieldMerchantID] != c.cfg.MerchantID {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "gateway merchant mismatch")
	}

	out := &StatusResponse{
		GatewayReference: strings.TrimSpace(fields[FieldReference]),
		TransactionRef:   strings.TrimSpace(fields[FieldTransactionRef]),
		RawStatusCode:    strings.TrimSpace(fields[FieldStatusCode]),
		ObservedAt:       c.now().UTC(),
	}
	out.NormalizedStatus = c.classifier.classify(out.RawStatusCode)

	if raw := strings.TrimSpace(fields[FieldCurrency]); raw != "" {
		currency, err := enums.ParseCurrency(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "gateway currency invalid")
		}
		out.Currency = currency
	}
	if raw := strings.TrimSpace(fields[FieldAmount]); raw != "" {
		currency := out.Currency
		if currency == "" {
			currency = enums.Currency(c.cfg.Currency)
		}
		cents, err := ParseAmount(raw, currency)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "gateway amount invalid")
		}
		out.AmountCents = &cents
	}
	if raw := strings.TrimSpace(fields[FieldTimestamp]); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			out.ObservedAt = time.Unix(secs, 0).UTC()
		}
	}
	return out, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}
