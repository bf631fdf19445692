package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/signature"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMerchant = "merchant-1"
	testSecret   = "s3cret"
)

var fixedNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func testConfig(baseURL string) config.GatewayConfig {
	return config.GatewayConfig{
		Enabled:        true,
		MerchantID:     testMerchant,
		Secret:         testSecret,
		BaseURL:        baseURL,
		PaymentPath:    "/pay",
		StatusPath:     "/api/status",
		CallbackURL:    "https://shop.example/api/v1/webhooks/gateway",
		Currency:       "USD",
		Timeout:        2 * time.Second,
		SuccessCodes:   []string{"00"},
		PendingCodes:   []string{"01", "09"},
		DeclinedCodes:  []string{"05", "51"},
		CancelledCodes: []string{"24"},
	}
}

func newTestClient(t *testing.T, cfg config.GatewayConfig) *Client {
	t.Helper()
	client, err := NewClient(ClientParams{
		Config:       cfg,
		Logger:       logger.Nop(),
		Now:          func() time.Time { return fixedNow },
		NewReference: func() string { return "PR-fixed" },
	})
	require.NoError(t, err)
	return client
}

func signedResponse(t *testing.T, fields map[string]string) map[string]string {
	t.Helper()
	sig, err := responseCodec.Sign(signature.Fields(fields), testSecret)
	require.NoError(t, err)
	out := map[string]string{}
	for k, v := range fields {
		out[k] = v
	}
	out[FieldSignature] = sig
	return out
}

func TestNewClientRequiresConfigWhenEnabled(t *testing.T) {
	cfg := testConfig("https://gw.example")
	cfg.Secret = ""
	_, err := NewClient(ClientParams{Config: cfg, Logger: logger.Nop()})
	require.ErrorIs(t, err, ErrMissingConfig)

	_, err = NewClient(ClientParams{Config: testConfig("https://gw.example")})
	require.ErrorIs(t, err, ErrMissingLogger)

	client, err := NewClient(ClientParams{Config: config.GatewayConfig{}, Logger: logger.Nop()})
	require.NoError(t, err)
	require.False(t, client.Enabled())
}

func TestInitiateBuildsSignedRedirect(t *testing.T) {
	client := newTestClient(t, testConfig("https://gw.example/"))
	orderID := uuid.New()

	initiation, err := client.Initiate(context.Background(), Order{ID: orderID, AmountCents: 2500, Currency: enums.CurrencyUSD})
	require.NoError(t, err)
	assert.Equal(t, "PR-fixed", initiation.GatewayReference)

	parsed, err := url.Parse(initiation.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "gw.example", parsed.Host)
	assert.Equal(t, "/pay", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "25.00", query.Get(FieldAmount))
	assert.Equal(t, "USD", query.Get(FieldCurrency))
	assert.Equal(t, testMerchant, query.Get(FieldMerchantID))
	assert.Equal(t, "PR-fixed", query.Get(FieldReference))

	fields := signature.Fields{}
	for k := range query {
		fields[k] = query.Get(k)
	}
	sig := fields[FieldSignature]
	assert.True(t, initiationCodec.Verify(fields.Without(FieldSignature), sig, testSecret))
}

func TestInitiateReusesExistingReference(t *testing.T) {
	client := newTestClient(t, testConfig("https://gw.example"))
	initiation, err := client.Initiate(context.Background(), Order{ID: uuid.New(), AmountCents: 100, ExistingReference: "PR-existing"})
	require.NoError(t, err)
	assert.Equal(t, "PR-existing", initiation.GatewayReference)
}

func TestInitiateFailures(t *testing.T) {
	client := newTestClient(t, testConfig("https://gw.example"))
	_, err := client.Initiate(context.Background(), Order{ID: uuid.New(), AmountCents: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	disabled := newTestClient(t, config.GatewayConfig{})
	_, err = disabled.Initiate(context.Background(), Order{ID: uuid.New(), AmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayDisabled))
}

func TestQueryStatusParsesSignedResponse(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/status", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		resp := signedResponse(t, map[string]string{
			FieldMerchantID:     testMerchant,
			FieldReference:      "R1",
			FieldTransactionRef: "T-9",
			FieldStatusCode:     "00",
			FieldAmount:         "25.00",
			FieldCurrency:       "USD",
			FieldTimestamp:      "1788264000",
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(t, testConfig(srv.URL))
	resp, err := client.QueryStatus(context.Background(), "R1")
	require.NoError(t, err)

	assert.Equal(t, enums.NormalizedSuccess, resp.NormalizedStatus)
	assert.Equal(t, "00", resp.RawStatusCode)
	assert.Equal(t, "T-9", resp.TransactionRef)
	require.NotNil(t, resp.AmountCents)
	assert.Equal(t, int64(2500), *resp.AmountCents)
	assert.Equal(t, time.Unix(1788264000, 0).UTC(), resp.ObservedAt)

	sig := received[FieldSignature]
	delete(received, FieldSignature)
	assert.True(t, queryCodec.Verify(signature.Fields(received), sig, testSecret))
}

func TestQueryStatusErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		code    pkgerrors.Code
	}{
		{
			name:    "server error is unreachable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			code:    pkgerrors.CodeGatewayUnreachable,
		},
		{
			name:    "throttled is unreachable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			code:    pkgerrors.CodeGatewayUnreachable,
		},
		{
			name:    "bad credentials are rejected",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			code:    pkgerrors.CodeGatewayRejected,
		},
		{
			name: "malformed body is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			code: pkgerrors.CodeGatewayRejected,
		},
		{
			name: "bad signature is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{
					FieldMerchantID: testMerchant,
					FieldReference:  "R1",
					FieldStatusCode: "00",
					FieldSignature:  strings.Repeat("ab", 64),
				})
			},
			code: pkgerrors.CodeGatewayRejected,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			client := newTestClient(t, testConfig(srv.URL))
			_, err := client.QueryStatus(context.Background(), "R1")
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestQueryStatusUnreachableWhenServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := newTestClient(t, testConfig(base))
	_, err := client.QueryStatus(context.Background(), "R1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnreachable))
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestParseCallbackVerifiesBeforeTrusting(t *testing.T) {
	client := newTestClient(t, testConfig("https://gw.example"))
	payload := signedResponse(t, map[string]string{
		FieldMerchantID: testMerchant,
		FieldReference:  "R1",
		FieldStatusCode: "05",
		FieldAmount:     "25.00",
	})

	resp, err := client.ParseCallback(payload, "")
	require.NoError(t, err)
	assert.Equal(t, enums.NormalizedDeclined, resp.NormalizedStatus)
	assert.Equal(t, fixedNow, resp.ObservedAt)

	payload[FieldAmount] = "10.00"
	_, err = client.ParseCallback(payload, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))

	_, err = client.ParseCallback(payload, "zz")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
}

func TestParseCallbackRejectsForeignMerchant(t *testing.T) {
	client := newTestClient(t, testConfig("https://gw.example"))
	payload := signedResponse(t, map[string]string{
		FieldMerchantID: "someone-else",
		FieldReference:  "R1",
		FieldStatusCode: "00",
	})
	_, err := client.ParseCallback(payload, payload[FieldSignature])
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
}

func TestClassifyUnknownCodeIsError(t *testing.T) {
	c := newClassifier(testConfig(""))
	assert.Equal(t, enums.NormalizedSuccess, c.classify("00"))
	assert.Equal(t, enums.NormalizedPending, c.classify(" 09 "))
	assert.Equal(t, enums.NormalizedCancelled, c.classify("24"))
	assert.Equal(t, enums.NormalizedError, c.classify("99"))
	assert.Equal(t, enums.NormalizedError, c.classify(""))
}

func TestAmountConversion(t *testing.T) {
	assert.Equal(t, "25.00", FormatAmount(2500, enums.CurrencyUSD))
	assert.Equal(t, "0.05", FormatAmount(5, enums.CurrencyEUR))
	assert.Equal(t, "150000", FormatAmount(150000, enums.CurrencyVND))

	cents, err := ParseAmount("25", enums.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), cents)

	cents, err = ParseAmount("150000", enums.CurrencyVND)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), cents)

	_, err = ParseAmount("1.005", enums.CurrencyUSD)
	assert.Error(t, err)
	_, err = ParseAmount("abc", enums.CurrencyUSD)
	assert.Error(t, err)
	_, err = ParseAmount("-1.00", enums.CurrencyUSD)
	assert.Error(t, err)
}
