// Package inventory owns ticket_classes.sold_count. Every change is a single
// conditional UPDATE so the database serializes concurrent reservations on
// the class row; nothing here reads, decides and then writes.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrTicketClassNotFound  = errors.New("ticket class not found")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
)

type Ledger struct {
	DB bun.IDB
}

func NewLedger(db bun.IDB) *Ledger {
	return &Ledger{DB: db}
}

// WithTx returns a ledger bound to the caller's transaction.
func (l *Ledger) WithTx(tx bun.Tx) *Ledger {
	return &Ledger{DB: tx}
}

// ReserveIfAvailable adds qty to sold_count only if the result stays within
// total_capacity, and flips the class to sold_out when it becomes full.
func (l *Ledger) ReserveIfAvailable(ctx context.Context, ticketClassID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	res, err := l.DB.NewUpdate().
		Model((*models.TicketClass)(nil)).
		Set("sold_count = sold_count + ?", qty).
		Set("status = CASE WHEN sold_count + ? >= total_capacity THEN ? ELSE status END", qty, models.TicketClassSoldOut).
		Where("id = ?", ticketClassID).
		Where("sold_count + ? <= total_capacity", qty).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reserve %d on %s: %w", qty, ticketClassID, err)
	}

	if err := l.checkAffected(ctx, res, ticketClassID); err != nil {
		return 0, err
	}

	return l.soldCount(ctx, ticketClassID)
}

// Release gives qty back, never taking sold_count below zero. A sold_out
// class returns to on_sale.
func (l *Ledger) Release(ctx context.Context, ticketClassID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	res, err := l.DB.NewUpdate().
		Model((*models.TicketClass)(nil)).
		Set("sold_count = sold_count - ?", qty).
		Set("status = CASE WHEN status = ? THEN ? ELSE status END", models.TicketClassSoldOut, models.TicketClassOnSale).
		Where("id = ?", ticketClassID).
		Where("sold_count >= ?", qty).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release %d on %s: %w", qty, ticketClassID, err)
	}

	if err := l.checkAffected(ctx, res, ticketClassID); err != nil {
		return 0, err
	}

	return l.soldCount(ctx, ticketClassID)
}

// Availability is a read-only snapshot of every class of an event.
func (l *Ledger) Availability(ctx context.Context, eventID string) ([]models.ClassAvailability, error) {
	var rows []models.ClassAvailability
	err := l.DB.NewSelect().
		TableExpr("ticket_classes").
		Column("id", "class_name", "unit_price", "total_capacity", "sold_count", "status").
		Where("event_id = ?", eventID).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("availability for event %s: %w", eventID, err)
	}

	for i := range rows {
		rows[i].Remaining = rows[i].TotalCapacity - rows[i].SoldCount
		if rows[i].Remaining < 0 {
			rows[i].Remaining = 0
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ClassName < rows[j].ClassName })

	return rows, nil
}

// checkAffected turns a zero-row update into the right sentinel.
func (l *Ledger) checkAffected(ctx context.Context, res sql.Result, ticketClassID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	exists, err := l.DB.NewSelect().
		Model((*models.TicketClass)(nil)).
		Where("id = ?", ticketClassID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("lookup ticket class %s: %w", ticketClassID, err)
	}
	if !exists {
		return ErrTicketClassNotFound
	}
	return ErrInsufficientCapacity
}

func (l *Ledger) soldCount(ctx context.Context, ticketClassID string) (int, error) {
	var sold int
	err := l.DB.NewSelect().
		Model((*models.TicketClass)(nil)).
		Column("sold_count").
		Where("id = ?", ticketClassID).
		Scan(ctx, &sold)
	if err != nil {
		return 0, fmt.Errorf("read sold_count for %s: %w", ticketClassID, err)
	}
	return sold, nil
}
