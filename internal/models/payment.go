package models

import "time"

// PaymentConfirmedEvent is what the payment-confirmation topic carries. It has
// the same trust requirements as the HTTP confirmation callback.
type PaymentConfirmedEvent struct {
	ExternalOrderID   string    `json:"external_order_id"`
	ExternalPaymentID string    `json:"external_payment_id"`
	Signature         string    `json:"signature"`
	Provider          string    `json:"provider,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

func (e PaymentConfirmedEvent) ConfirmRequest() ConfirmRequest {
	return ConfirmRequest{
		ExternalOrderID:   e.ExternalOrderID,
		ExternalPaymentID: e.ExternalPaymentID,
		Signature:         e.Signature,
	}
}
