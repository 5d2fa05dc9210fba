package payment_test

import (
	"strings"
	"testing"

	"ms-booking/internal/payment"

	"github.com/stretchr/testify/assert"
)

func TestSignKnownVector(t *testing.T) {
	sig := payment.Sign("secret", "ord_1", "pay_1")

	assert.Equal(t, "58f7f5f1988c03d71467c8eb8b8d8c142ff19eacd044c8681da617fb87a7614c", sig)
	assert.Equal(t, sig, payment.Sign("secret", "ord_1", "pay_1"))
	assert.NotEqual(t, sig, payment.Sign("secret", "ord_1", "pay_2"))
	assert.NotEqual(t, sig, payment.Sign("other", "ord_1", "pay_1"))
}

func TestVerifySignature(t *testing.T) {
	sig := payment.Sign("secret", "ord_1", "pay_1")

	tests := []struct {
		name      string
		secret    string
		orderID   string
		paymentID string
		signature string
		expected  bool
	}{
		{"valid", "secret", "ord_1", "pay_1", sig, true},
		{"uppercase hex", "secret", "ord_1", "pay_1", strings.ToUpper(sig), true},
		{"wrong payment", "secret", "ord_1", "pay_2", sig, false},
		{"wrong secret", "nope", "ord_1", "pay_1", sig, false},
		{"empty secret", "", "ord_1", "pay_1", payment.Sign("", "ord_1", "pay_1"), false},
		{"not hex", "secret", "ord_1", "pay_1", "zz", false},
		{"empty signature", "secret", "ord_1", "pay_1", "", false},
		{"separator shift", "secret", "ord_1|pay", "_1", sig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, payment.VerifySignature(tt.secret, tt.orderID, tt.paymentID, tt.signature))
		})
	}
}
