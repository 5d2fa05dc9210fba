package tickets

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

var ErrNotTicketOwner = errors.New("ticket belongs to another buyer")

type TicketDBLayer interface {
	GetTicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetTotalTicketsCount(ctx context.Context) (int, error)
}

type OrderReader interface {
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
}

// TicketService serves issued tickets back to their owners.
type TicketService struct {
	DB     TicketDBLayer
	Orders OrderReader
	Logger *logger.Logger
}

func NewTicketService(db TicketDBLayer, orders OrderReader, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Orders: orders, Logger: log}
}

// GetOwnedTicket returns the ticket only if its order was placed by buyerID.
func (s *TicketService) GetOwnedTicket(ctx context.Context, buyerID, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	order, err := s.Orders.GetOrderByID(ctx, ticket.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s for ticket %s: %w", ticket.OrderID, ticketID, err)
	}

	if order.BuyerID != buyerID {
		s.Logger.LogSecurity("TICKET_ACCESS_DENIED", fmt.Sprintf("buyer %s requested ticket %s", buyerID, ticketID))
		return nil, ErrNotTicketOwner
	}

	return ticket, nil
}

func (s *TicketService) GetScanPayload(ctx context.Context, buyerID, ticketID string) (*models.ScanPayloadResponse, error) {
	ticket, err := s.GetOwnedTicket(ctx, buyerID, ticketID)
	if err != nil {
		return nil, err
	}
	return &models.ScanPayloadResponse{
		TicketID:    ticket.TicketID,
		OrderID:     ticket.OrderID,
		ScanPayload: ticket.ScanPayload,
		Quantity:    ticket.Quantity,
	}, nil
}

func (s *TicketService) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return s.DB.GetTotalTicketsCount(ctx)
}
