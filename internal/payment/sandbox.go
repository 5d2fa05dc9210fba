package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

var ErrUnknownSandboxOrder = errors.New("unknown sandbox order")

type sandboxOrder struct {
	amount    int64
	currency  string
	reference string
	cancelled bool
}

// SandboxGateway stands in for a real provider in local runs. It also plays
// the provider's part of signing confirmations.
type SandboxGateway struct {
	secret string
	log    *logger.Logger

	mu     sync.Mutex
	orders map[string]*sandboxOrder
}

func NewSandboxGateway(secret string, log *logger.Logger) *SandboxGateway {
	return &SandboxGateway{
		secret: secret,
		log:    log,
		orders: make(map[string]*sandboxOrder),
	}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "sbx_" + utils.GenerateUUID()

	g.mu.Lock()
	g.orders[id] = &sandboxOrder{amount: amountMinor, currency: currency, reference: reference}
	g.mu.Unlock()

	g.log.Info("SANDBOX", fmt.Sprintf("Created payment order %s for %s (%d %s)", id, reference, amountMinor, currency))
	return id, nil
}

func (g *SandboxGateway) CancelOrder(ctx context.Context, externalOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[externalOrderID]
	if !ok {
		return ErrUnknownSandboxOrder
	}
	o.cancelled = true
	return nil
}

// Pay simulates the buyer completing payment and returns the signed callback
// the provider would deliver.
func (g *SandboxGateway) Pay(externalOrderID string) (models.ConfirmRequest, error) {
	g.mu.Lock()
	o, ok := g.orders[externalOrderID]
	g.mu.Unlock()

	if !ok {
		return models.ConfirmRequest{}, ErrUnknownSandboxOrder
	}
	if o.cancelled {
		return models.ConfirmRequest{}, fmt.Errorf("sandbox order %s was cancelled", externalOrderID)
	}

	paymentID := utils.GenerateTransactionID()
	return models.ConfirmRequest{
		ExternalOrderID:   externalOrderID,
		ExternalPaymentID: paymentID,
		Signature:         Sign(g.secret, externalOrderID, paymentID),
	}, nil
}
