// Package guests resolves the discount tier a buyer earned through the
// guest-list approval flow.
package guests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

type Resolver struct {
	DB     bun.IDB
	Logger *logger.Logger
}

func NewResolver(db bun.IDB, log *logger.Logger) *Resolver {
	return &Resolver{DB: db, Logger: log}
}

// ResolveTier returns the buyer's approved tier for the event, or TierNone.
// A failed lookup degrades to TierNone so it never blocks a purchase.
func (r *Resolver) ResolveTier(ctx context.Context, buyerID, eventID string) models.GuestTier {
	if buyerID == "" || eventID == "" {
		return models.TierNone
	}

	var assignment models.GuestTierAssignment
	err := r.DB.NewSelect().
		Model(&assignment).
		Where("buyer_id = ?", buyerID).
		Where("event_id = ?", eventID).
		Where("status = ?", models.GuestApproved).
		Order("updated_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TierNone
	}
	if err != nil {
		r.Logger.Warn("GUESTS", fmt.Sprintf("tier lookup failed for buyer %s event %s: %v", buyerID, eventID, err))
		return models.TierNone
	}

	switch assignment.Tier {
	case models.TierLevel1, models.TierLevel2, models.TierLevel3:
		return assignment.Tier
	default:
		return models.TierNone
	}
}
