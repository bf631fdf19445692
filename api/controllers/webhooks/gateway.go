package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/payrecon/api/responses"
	"github.com/angelmondragon/payrecon/internal/gateway"
	gatewaywebhook "github.com/angelmondragon/payrecon/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

const (
	signatureHeader = "X-Gateway-Signature"
	maxCallbackBody = 64 << 10
)

type GatewayWebhookService interface {
	HandleCallback(ctx context.Context, delivery gatewaywebhook.Delivery) (*gatewaywebhook.Ack, error)
}

type ackBody struct {
	Ack string `json:"ack"`
}

// GatewayWebhook receives payment callbacks. The provider only ever sees an
// ack string; detail stays in the logs and the ledger history.
func GatewayWebhook(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			writeAck(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
		if err != nil {
			writeAck(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		fields, err := decodeFields(r.Header.Get("Content-Type"), payload)
		if err != nil {
			writeAck(ctx, logg, w, err)
			return
		}

		sig := strings.TrimSpace(fields[gateway.FieldSignature])
		if sig == "" {
			sig = strings.TrimSpace(r.Header.Get(signatureHeader))
		}

		ack, err := svc.HandleCallback(ctx, gatewaywebhook.Delivery{
			Fields:     fields,
			Signature:  sig,
			RawPayload: string(payload),
			RemoteAddr: r.RemoteAddr,
		})
		if err != nil {
			writeAck(ctx, logg, w, err)
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"outcome": ack.Outcome, "audited": ack.Audited})
			logg.Info(ctx, fmt.Sprintf("gateway callback acknowledged for order %s", ack.OrderID))
		}
		responses.WriteJSON(w, http.StatusOK, ackBody{Ack: "OK"})
	}
}

func decodeFields(contentType string, payload []byte) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(payload))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode form body")
		}
		fields := make(map[string]string, len(values))
		for key := range values {
			fields[key] = values.Get(key)
		}
		return fields, nil
	}

	// Non-string values keep the exact text the provider signed.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode json body")
	}
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		switch {
		case len(value) == 0 || string(value) == "null":
		case value[0] == '"':
			var str string
			if err := json.Unmarshal(value, &str); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode json field "+key)
			}
			fields[key] = str
		default:
			fields[key] = string(value)
		}
	}
	return fields, nil
}

func writeAck(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	status := pkgerrors.MetadataFor(typed.Code()).HTTPStatus
	body := ackBody{Ack: "RETRY"}
	switch typed.Code() {
	case pkgerrors.CodeSignatureInvalid, pkgerrors.CodeValidation:
		status = http.StatusBadRequest
		body.Ack = "REJECTED"
	}
	if status < http.StatusInternalServerError && body.Ack == "RETRY" {
		status = http.StatusServiceUnavailable
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"error_code": typed.Code(), "ack": body.Ack})
		if body.Ack == "REJECTED" {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "gateway callback rejected")
		} else {
			logg.Error(ctx, "gateway callback failed", err)
		}
	}
	responses.WriteJSON(w, status, body)
}
