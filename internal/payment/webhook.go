package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"ms-booking/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrWebhookSignature = errors.New("stripe webhook signature verification failed")
	ErrWebhookPayload   = errors.New("invalid stripe webhook payload")
)

// StripeWebhook turns verified Stripe events into signed confirmations so
// they pass through the same trust check as every other callback.
type StripeWebhook struct {
	WebhookSecret string
	SharedSecret  string
}

// Confirmation returns ok=false for event types that do not confirm a payment.
func (w *StripeWebhook) Confirmation(payload []byte, signatureHeader string) (models.ConfirmRequest, bool, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, w.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return models.ConfirmRequest{}, false, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return models.ConfirmRequest{}, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return models.ConfirmRequest{}, false, fmt.Errorf("%w: %v", ErrWebhookPayload, err)
	}
	if pi.ID == "" {
		return models.ConfirmRequest{}, false, ErrWebhookPayload
	}

	paymentID := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		paymentID = pi.LatestCharge.ID
	}

	return models.ConfirmRequest{
		ExternalOrderID:   pi.ID,
		ExternalPaymentID: paymentID,
		Signature:         Sign(w.SharedSecret, pi.ID, paymentID),
	}, true, nil
}
