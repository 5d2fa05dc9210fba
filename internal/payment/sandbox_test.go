package payment_test

import (
	"context"
	"strings"
	"testing"

	"ms-booking/internal/logger"
	"ms-booking/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxPaySignsConfirmation(t *testing.T) {
	gw := payment.NewSandboxGateway("shh", logger.NewConsoleLogger(nil))

	extID, err := gw.CreateOrder(context.Background(), 307, "lkr", "order-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(extID, "sbx_"))

	confirm, err := gw.Pay(extID)
	require.NoError(t, err)
	assert.Equal(t, extID, confirm.ExternalOrderID)
	assert.True(t, payment.VerifySignature("shh", confirm.ExternalOrderID, confirm.ExternalPaymentID, confirm.Signature))
}

func TestSandboxCancelledOrderCannotBePaid(t *testing.T) {
	gw := payment.NewSandboxGateway("shh", logger.NewConsoleLogger(nil))

	extID, err := gw.CreateOrder(context.Background(), 100, "lkr", "order-2")
	require.NoError(t, err)
	require.NoError(t, gw.CancelOrder(context.Background(), extID))

	_, err = gw.Pay(extID)
	assert.Error(t, err)

	_, err = gw.Pay("sbx_unknown")
	assert.ErrorIs(t, err, payment.ErrUnknownSandboxOrder)
	assert.ErrorIs(t, gw.CancelOrder(context.Background(), "sbx_unknown"), payment.ErrUnknownSandboxOrder)
}

func TestSandboxHonoursCancelledContext(t *testing.T) {
	gw := payment.NewSandboxGateway("shh", logger.NewConsoleLogger(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.CreateOrder(ctx, 100, "lkr", "order-3")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStripeGatewayRequiresKey(t *testing.T) {
	_, err := payment.NewStripeGateway("", logger.NewConsoleLogger(nil))
	assert.ErrorIs(t, err, payment.ErrStripeClientInitFailed)
}
