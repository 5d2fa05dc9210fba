// Package pricing computes order amounts. It performs no I/O and is safe for
// concurrent use.
package pricing

import (
	"ms-booking/internal/models"
)

const bpsDenominator = 10000

// Input is everything Price needs. Amounts are minor currency units.
type Input struct {
	UnitPrice   int64
	Quantity    int
	Discount    *models.DiscountRule
	PlatformFee int64
	TaxRateBps  int64
}

// Breakdown is the priced result. Total = Subtotal + Fees + Tax - Discount.
type Breakdown struct {
	Subtotal int64
	Fees     int64
	Tax      int64
	Discount int64
	Total    int64
}

// Price is deterministic: the same input always yields the same breakdown.
func Price(in Input) Breakdown {
	if in.Quantity < 0 {
		in.Quantity = 0
	}
	if in.UnitPrice < 0 {
		in.UnitPrice = 0
	}

	b := Breakdown{
		Subtotal: in.UnitPrice * int64(in.Quantity),
		Fees:     nonNegative(in.PlatformFee),
	}
	b.Tax = applyRate(b.Subtotal, in.TaxRateBps)

	gross := b.Subtotal + b.Fees + b.Tax
	b.Discount = discountAmount(in.Discount, in.UnitPrice)
	if b.Discount > gross {
		b.Discount = gross
	}
	b.Total = gross - b.Discount
	return b
}

// Free is the breakdown used for free ticket classes.
func Free() Breakdown {
	return Breakdown{}
}

// discountAmount covers one guest admission: a percentage rule discounts a
// single unit, a fixed rule is a flat amount.
func discountAmount(rule *models.DiscountRule, unitPrice int64) int64 {
	if rule == nil {
		return 0
	}
	switch rule.Type {
	case models.PERCENTAGE:
		bps := rule.PercentBps
		if bps > bpsDenominator {
			bps = bpsDenominator
		}
		return applyRate(unitPrice, bps)
	case models.FIXED:
		return nonNegative(rule.Amount)
	default:
		return 0
	}
}

// applyRate returns amount*bps/10000 rounded half-up.
func applyRate(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + bpsDenominator/2) / bpsDenominator
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Apply copies a breakdown onto an order.
func Apply(o *models.Order, b Breakdown) {
	o.Subtotal = b.Subtotal
	o.Fees = b.Fees
	o.Tax = b.Tax
	o.Discount = b.Discount
	o.Total = b.Total
}
