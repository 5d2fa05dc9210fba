package payment

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeGateway maps gateway orders onto Stripe PaymentIntents.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{client: sc, log: log}, nil
}

func (s *StripeGateway) Name() string { return "stripe" }

// CreateOrder creates a PaymentIntent tagged with the booking order id.
func (s *StripeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", reference)
	params.SetIdempotencyKey("booking-" + reference)

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for %s: %v", reference, err))
		return "", fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Created payment intent %s for order %s (%d %s)", pi.ID, reference, amountMinor, currency))
	return pi.ID, nil
}

func (s *StripeGateway) CancelOrder(ctx context.Context, externalOrderID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	if _, err := s.client.PaymentIntents.Cancel(externalOrderID, params); err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to cancel payment intent %s: %v", externalOrderID, err))
		return fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Cancelled payment intent %s", externalOrderID))
	return nil
}
