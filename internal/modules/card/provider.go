// Package card defines the hosted-checkout gateway boundary. The engine only
// needs session creation and webhook verification; the provider behind them
// is an external system.
package card

import (
	"context"
	"errors"
	"net/http"
)

const EventCheckoutCompleted = "checkout.session.completed"

var ErrSignature = errors.New("invalid webhook signature")

type CheckoutInput struct {
	AmountCents int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

type CheckoutSession struct {
	SessionID       string
	CheckoutURL     string
	PaymentIntentID string // provisional intent id; the correlation key
}

type Event struct {
	ID              string
	Type            string
	PaymentIntentID string
	Metadata        map[string]string
}

type Provider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (CheckoutSession, error)

	// VerifyAndParseWebhook checks the signature before anything else; a bad
	// signature must reject the request with no state change.
	VerifyAndParseWebhook(headers http.Header, body []byte) (Event, error)
}
