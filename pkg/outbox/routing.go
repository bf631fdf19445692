package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Route is the destination topic of an event type.
type Route struct {
	EventType enums.OutboxEventType
	Topic     string
}

// ResolvedEvent is an outbox row decoded and routed for publishing.
type ResolvedEvent struct {
	Route    Route
	Envelope PayloadEnvelope
}

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// Router maps each event type to its topic.
type Router struct {
	routes map[enums.OutboxEventType]Route
}

// NewRouter routes order settlement events to the payment topic and review
// or escalation events to the review topic.
func NewRouter(cfg config.PubSubConfig) (*Router, error) {
	if cfg.PaymentTopic == "" {
		return nil, fmt.Errorf("payment topic is required")
	}
	if cfg.ReviewTopic == "" {
		return nil, fmt.Errorf("review topic is required")
	}
	r := &Router{routes: map[enums.OutboxEventType]Route{}}
	for _, eventType := range []enums.OutboxEventType{enums.EventOrderPaid, enums.EventOrderPaymentFailed} {
		r.routes[eventType] = Route{EventType: eventType, Topic: cfg.PaymentTopic}
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPaymentReviewRequired,
		enums.EventPaymentPollingExpired,
		enums.EventPaymentPollingAborted,
		enums.EventPaymentLedgerStale,
	} {
		r.routes[eventType] = Route{EventType: eventType, Topic: cfg.ReviewTopic}
	}
	return r, nil
}

// Topics lists every configured destination.
func (r *Router) Topics() []string {
	seen := map[string]bool{}
	topics := []string{}
	for _, route := range r.routes {
		if !seen[route.Topic] {
			seen[route.Topic] = true
			topics = append(topics, route.Topic)
		}
	}
	return topics
}

func (r *Router) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	if !ok {
		return nil, NonRetryableError{Err: fmt.Errorf("no route for event type %s", event.EventType)}
	}
	var envelope PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NonRetryableError{Err: fmt.Errorf("decode envelope %s: %w", event.ID, err)}
	}
	if envelope.EventID == "" {
		return nil, NonRetryableError{Err: fmt.Errorf("envelope %s missing event id", event.ID)}
	}
	return &ResolvedEvent{Route: route, Envelope: envelope}, nil
}
