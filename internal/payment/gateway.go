// Package payment adapts external payment gateways and verifies the signed
// confirmations they send back.
package payment

import (
	"context"
	"errors"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway creates and cancels payment orders on an external provider.
// Confirmation arrives later and asynchronously.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (string, error)
	CancelOrder(ctx context.Context, externalOrderID string) error
}
