package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is the host-owned record the booking core reads. It is never written here.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID               string           `bun:"id,pk" json:"id"`
	Name             string           `bun:"name,notnull" json:"name"`
	Currency         string           `bun:"currency,notnull" json:"currency"`
	DiscountSchedule DiscountSchedule `bun:"discount_schedule" json:"discount_schedule"`
	CreatedAt        time.Time        `bun:"created_at,notnull" json:"created_at"`

	Occurrences []Occurrence `bun:"-" json:"occurrences"`
}

// Occurrence is one scheduled date of an event, stored as a UTC calendar date.
type Occurrence struct {
	bun.BaseModel `bun:"table:event_occurrences"`

	ID       int64  `bun:"id,pk,autoincrement" json:"-"`
	EventID  string `bun:"event_id,notnull" json:"event_id"`
	OccursOn string `bun:"occurs_on,notnull" json:"occurs_on"`
}

// HasOccurrence reports whether date (YYYY-MM-DD) is one of the event's scheduled dates.
func (e *Event) HasOccurrence(date string) bool {
	for _, o := range e.Occurrences {
		if o.OccursOn == date {
			return true
		}
	}
	return false
}

type TicketClassKind string

const (
	TicketClassPaid TicketClassKind = "paid"
	TicketClassFree TicketClassKind = "free"
)

type TicketClassStatus string

const (
	TicketClassComingSoon TicketClassStatus = "coming_soon"
	TicketClassOnSale     TicketClassStatus = "on_sale"
	TicketClassSoldOut    TicketClassStatus = "sold_out"
)

// TicketClass is one sellable category of an event. SoldCount and Status are
// only ever written by the inventory ledger.
type TicketClass struct {
	bun.BaseModel `bun:"table:ticket_classes"`

	ID            string            `bun:"id,pk" json:"id"`
	EventID       string            `bun:"event_id,notnull" json:"event_id"`
	ClassName     string            `bun:"class_name,notnull" json:"class_name"`
	Kind          TicketClassKind   `bun:"kind,notnull" json:"kind"`
	UnitPrice     int64             `bun:"unit_price,notnull" json:"unit_price"`
	TotalCapacity int               `bun:"total_capacity,notnull" json:"total_capacity"`
	SoldCount     int               `bun:"sold_count,notnull" json:"sold_count"`
	Status        TicketClassStatus `bun:"status,notnull" json:"status"`
	SalesStart    time.Time         `bun:"sales_start,nullzero" json:"sales_start,omitempty"`
	SalesEnd      time.Time         `bun:"sales_end,nullzero" json:"sales_end,omitempty"`
}

func (c *TicketClass) IsFree() bool {
	return c.Kind == TicketClassFree
}

// Remaining is advisory only; the ledger's conditional update is authoritative.
func (c *TicketClass) Remaining() int {
	if c.SoldCount >= c.TotalCapacity {
		return 0
	}
	return c.TotalCapacity - c.SoldCount
}

// SalesOpen reports whether now falls inside the optional sales window.
func (c *TicketClass) SalesOpen(now time.Time) bool {
	if !c.SalesStart.IsZero() && now.Before(c.SalesStart) {
		return false
	}
	if !c.SalesEnd.IsZero() && !now.Before(c.SalesEnd) {
		return false
	}
	return true
}

// ClassAvailability is the read-only capacity view exposed to clients.
type ClassAvailability struct {
	TicketClassID string            `bun:"id" json:"ticket_class_id"`
	ClassName     string            `bun:"class_name" json:"class_name"`
	UnitPrice     int64             `bun:"unit_price" json:"unit_price"`
	TotalCapacity int               `bun:"total_capacity" json:"total_capacity"`
	SoldCount     int               `bun:"sold_count" json:"sold_count"`
	Remaining     int               `bun:"-" json:"remaining"`
	Status        TicketClassStatus `bun:"status" json:"status"`
}
