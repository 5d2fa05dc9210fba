package models

import (
	"time"

	"github.com/uptrace/bun"
)

// GuestTier is a discount level granted through the guest-list approval flow.
// The empty tier means no discount.
type GuestTier string

const (
	TierNone   GuestTier = ""
	TierLevel1 GuestTier = "level1"
	TierLevel2 GuestTier = "level2"
	TierLevel3 GuestTier = "level3"
)

type DiscountType string

const (
	PERCENTAGE DiscountType = "percentage"
	FIXED      DiscountType = "fixed"
)

// DiscountRule is one entry of an event's discount schedule.
// PercentBps is used for PERCENTAGE (1000 = 10%), Amount (minor units) for FIXED.
type DiscountRule struct {
	Type       DiscountType `json:"type"`
	PercentBps int64        `json:"percent_bps,omitempty"`
	Amount     int64        `json:"amount,omitempty"`
}

// DiscountSchedule maps guest tiers to discount rules.
type DiscountSchedule map[GuestTier]DiscountRule

// Lookup returns the rule for tier, or nil when the tier is none or not scheduled.
func (s DiscountSchedule) Lookup(tier GuestTier) *DiscountRule {
	if tier == TierNone || s == nil {
		return nil
	}
	rule, ok := s[tier]
	if !ok {
		return nil
	}
	return &rule
}

type GuestStatus string

const (
	GuestPending  GuestStatus = "pending"
	GuestApproved GuestStatus = "approved"
	GuestRejected GuestStatus = "rejected"
)

// GuestTierAssignment is created by the guest-list workflow and only read here.
type GuestTierAssignment struct {
	bun.BaseModel `bun:"table:guest_tier_assignments"`

	ID        int64       `bun:"id,pk,autoincrement" json:"id"`
	BuyerID   string      `bun:"buyer_id,notnull" json:"buyer_id"`
	EventID   string      `bun:"event_id,notnull" json:"event_id"`
	Tier      GuestTier   `bun:"tier,notnull" json:"tier"`
	Status    GuestStatus `bun:"status,notnull" json:"status"`
	UpdatedAt time.Time   `bun:"updated_at,notnull" json:"updated_at"`
}
