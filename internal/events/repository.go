// Package events reads the host-owned event catalogue: events, their
// scheduled dates and ticket classes. It never writes.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrTicketClassNotFound = errors.New("ticket class not found")
)

type Repository struct {
	DB bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{DB: db}
}

// GetEvent loads an event together with its occurrences.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := r.DB.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	err = r.DB.NewSelect().
		Model(&event.Occurrences).
		Where("event_id = ?", eventID).
		Order("occurs_on").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load occurrences for %s: %w", eventID, err)
	}

	return &event, nil
}

// GetTicketClass loads a class and checks it belongs to eventID.
func (r *Repository) GetTicketClass(ctx context.Context, eventID, ticketClassID string) (*models.TicketClass, error) {
	var class models.TicketClass
	err := r.DB.NewSelect().
		Model(&class).
		Where("id = ?", ticketClassID).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket class %s: %w", ticketClassID, err)
	}
	return &class, nil
}

func (r *Repository) ListTicketClasses(ctx context.Context, eventID string) ([]models.TicketClass, error) {
	var classes []models.TicketClass
	err := r.DB.NewSelect().
		Model(&classes).
		Where("event_id = ?", eventID).
		Order("class_name").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list ticket classes for %s: %w", eventID, err)
	}
	return classes, nil
}
