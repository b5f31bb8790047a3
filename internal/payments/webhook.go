package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature indicates the callback payload failed signature verification.
var ErrInvalidSignature = errors.New("payments: webhook signature verification failed")

// EventKind classifies gateway callback events into the kinds the reconciler acts on.
type EventKind string

const (
	// EventKindSessionCompleted signals a checkout session finished successfully.
	EventKindSessionCompleted EventKind = "session-completed"
	// EventKindIntentSucceeded signals a payment intent succeeded; informational.
	EventKindIntentSucceeded EventKind = "intent-succeeded"
	// EventKindIntentFailed signals a payment intent failed.
	EventKindIntentFailed EventKind = "intent-failed"
	// EventKindUnknown covers event types this service does not act on.
	EventKindUnknown EventKind = "unknown"
)

// SessionEvent carries the fields extracted from a completed checkout session.
type SessionEvent struct {
	SessionID     string
	IntentID      string
	Metadata      map[string]string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
}

// IntentEvent carries the fields extracted from a payment intent callback.
type IntentEvent struct {
	IntentID      string
	Amount        int64
	Currency      string
	FailureReason string
}

// Event is the parsed, authenticated form of a gateway callback. Exactly one
// of Session or Intent is populated depending on Kind; both are nil for
// EventKindUnknown.
type Event struct {
	Kind    EventKind
	Type    string
	Session *SessionEvent
	Intent  *IntentEvent
}

// WebhookVerifier authenticates raw callback payloads and parses them into events.
type WebhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (Event, error)
}

// StripeWebhookVerifier validates Stripe webhook signatures against the signing secret.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the configured signing secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook signing secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// VerifyAndParse checks the signature header and maps the payload to an Event.
// Signature failures return ErrInvalidSignature; unknown event types parse to
// EventKindUnknown rather than failing.
func (v *StripeWebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (Event, error) {
	if v == nil {
		return Event{}, errors.New("stripe: verifier is nil")
	}

	stripeEvent, err := webhook.ConstructEvent(payload, signatureHeader, v.secret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(stripeEvent.Type)
	switch eventType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
			return Event{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
		}
		intentID := ""
		if session.PaymentIntent != nil {
			intentID = session.PaymentIntent.ID
		}
		email := ""
		if session.CustomerDetails != nil {
			email = session.CustomerDetails.Email
		}
		if email == "" {
			email = session.CustomerEmail
		}
		return Event{
			Kind: EventKindSessionCompleted,
			Type: eventType,
			Session: &SessionEvent{
				SessionID:     session.ID,
				IntentID:      intentID,
				Metadata:      session.Metadata,
				AmountTotal:   session.AmountTotal,
				Currency:      string(session.Currency),
				CustomerEmail: email,
			},
		}, nil
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(stripeEvent.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		kind := EventKindIntentSucceeded
		failure := ""
		if eventType == "payment_intent.payment_failed" {
			kind = EventKindIntentFailed
			if intent.LastPaymentError != nil {
				failure = intent.LastPaymentError.Msg
			}
		}
		return Event{
			Kind: kind,
			Type: eventType,
			Intent: &IntentEvent{
				IntentID:      intent.ID,
				Amount:        intent.Amount,
				Currency:      string(intent.Currency),
				FailureReason: failure,
			},
		}, nil
	default:
		return Event{Kind: EventKindUnknown, Type: eventType}, nil
	}
}
