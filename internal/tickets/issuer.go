// Package tickets mints the admission ticket for a settled order.
package tickets

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/models"
	qr "ms-booking/internal/tickets/qr_genrator"

	"github.com/google/uuid"
)

const (
	holderMaxLen   = 32
	fallbackHolder = "GUEST"
)

var ErrEmptyOrder = errors.New("cannot issue ticket without an order")

type Issuer struct {
	QR  *qr.QRGenerator
	Now func() time.Time
}

func NewIssuer(generator *qr.QRGenerator) *Issuer {
	return &Issuer{
		QR:  generator,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// Issue is pure: it builds the ticket but does not persist it, so the caller
// can insert it inside the settlement transaction.
func (i *Issuer) Issue(order *models.Order, holderName string) (*models.Ticket, error) {
	if order == nil || order.OrderID == "" {
		return nil, ErrEmptyOrder
	}

	ticketID := uuid.NewString()
	payload := BuildScanPayload(ticketID, order.Quantity, holderName)

	png, err := i.QR.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("render qr for order %s: %w", order.OrderID, err)
	}

	return &models.Ticket{
		TicketID:    ticketID,
		OrderID:     order.OrderID,
		HolderName:  holderName,
		Quantity:    order.Quantity,
		ScanPayload: payload,
		QRCode:      png,
		IssuedAt:    i.Now(),
	}, nil
}

// BuildScanPayload is the string venue scanners read: ticketId|quantity|holder.
func BuildScanPayload(ticketID string, quantity int, holderName string) string {
	return fmt.Sprintf("%s|%d|%s", ticketID, quantity, SanitizeHolder(holderName))
}

// SanitizeHolder keeps ASCII letters and digits only, capped at 32 characters.
func SanitizeHolder(name string) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() == holderMaxLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackHolder
	}
	return b.String()
}
