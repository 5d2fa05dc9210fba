package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrOrderNotFound = errors.New("order not found")

type DB struct {
	Bun bun.IDB
}

// WithTx returns a store bound to the caller's transaction.
func (d *DB) WithTx(tx bun.Tx) *DB {
	return &DB{Bun: tx}
}

// RunInTx runs fn in one transaction; any returned error rolls everything back.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return d.Bun.RunInTx(ctx, nil, fn)
}

// ---------------- ORDERS ----------------

// CreateOrder → insert new order
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	if _, err := d.Bun.NewInsert().Model(order).Exec(ctx); err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderID, err)
	}
	return nil
}

// GetOrderByID → fetch one order by its ID. Ids that are not UUIDs cannot
// exist; Postgres would reject them with invalid_text_representation.
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByExternalID → fetch the order a gateway reference belongs to
func (d *DB) GetOrderByExternalID(ctx context.Context, externalOrderID string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("external_payment_order_id = ?", externalOrderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByBuyer → newest first
func (d *DB) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return orders, nil
}

// ---------------- CONDITIONAL TRANSITIONS ----------------
//
// Each transition names the states it may leave. A false result means the
// order was not in any of them, so a concurrent writer got there first.

// AttachExternalOrder moves created → awaiting_payment and records the gateway reference.
func (d *DB) AttachExternalOrder(ctx context.Context, orderID, externalOrderID string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("external_payment_order_id = ?", externalOrderID).
		Set("status = ?", models.OrderAwaitingPayment).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderCreated).
		Exec(ctx)
	return affected(res, err)
}

// MarkSettled moves awaiting_payment → settled.
func (d *DB) MarkSettled(ctx context.Context, orderID, externalPaymentID string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("external_payment_confirmation_id = ?", externalPaymentID).
		Set("status = ?", models.OrderSettled).
		Set("settled_at = ?", now).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderAwaitingPayment).
		Exec(ctx)
	return affected(res, err)
}

// MarkRefundPending moves awaiting_payment → failed after the payment was
// captured but capacity ran out. The payment id is kept so a redelivered
// confirmation gets the same answer.
func (d *DB) MarkRefundPending(ctx context.Context, orderID, externalPaymentID string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("external_payment_confirmation_id = ?", externalPaymentID).
		Set("status = ?", models.OrderFailed).
		Set("failure_reason = ?", models.ReasonSoldOutAfterPayment).
		Set("refund_pending = ?", true).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status = ?", models.OrderAwaitingPayment).
		Exec(ctx)
	return affected(res, err)
}

// Transition moves an order from any of the given states to `to`.
// refundPending only ever turns the flag on.
func (d *DB) Transition(ctx context.Context, orderID string, from []models.OrderStatus, to models.OrderStatus, reason string, refundPending bool, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status IN (?)", bun.In(from))
	if reason != "" {
		q = q.Set("failure_reason = ?", reason)
	}
	if refundPending {
		q = q.Set("refund_pending = ?", true)
	}

	res, err := q.Exec(ctx)
	return affected(res, err)
}

// ListStale returns orders still waiting on payment that were created before cutoff.
func (d *DB) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status IN (?)", bun.In([]models.OrderStatus{models.OrderCreated, models.OrderAwaitingPayment})).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return orders, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
