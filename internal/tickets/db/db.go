package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrTicketNotFound = errors.New("ticket not found")

type DB struct {
	Bun bun.IDB
}

// WithTx returns a store bound to the caller's transaction.
func (d *DB) WithTx(tx bun.Tx) *DB {
	return &DB{Bun: tx}
}

// CreateTicket fails on a second ticket for the same order via the unique order_id.
func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if _, err := d.Bun.NewInsert().Model(ticket).Exec(ctx); err != nil {
		return fmt.Errorf("insert ticket for order %s: %w", ticket.OrderID, err)
	}
	return nil
}

// GetTicketByID treats a malformed id as unknown instead of sending it to the
// uuid column.
func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTicketNotFound
	}
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByOrderID(ctx context.Context, orderID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTotalTicketsCount returns how many tickets have been issued.
func (d *DB) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Count(ctx)
}
