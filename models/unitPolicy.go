package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AuthoritativeQuantity maps a purchase lot's category to the quantity field
// that is the single source of truth for its material projection, and to the
// counting unit that all of the lot's ledger entries use.
//
//	LOOSE_BEADS   -> piece_count              (pieces)
//	BRACELET      -> total_sub_units          (beads), falling back to piece_count
//	ACCESSORY     -> piece_count              (slices)
//	FINISHED_GOOD -> piece_count              (items)
//
// A null/zero authoritative field fails with ErrMissingQuantity. Substituting a
// default here is exactly the failure mode that caused recurring ledger drift
// in the past, so there is deliberately no fallback beyond the documented
// BRACELET one.
func AuthoritativeQuantity(p *Purchase) (decimal.Decimal, MeasureUnit, error) {
	if p == nil {
		return decimal.Zero, "", fmt.Errorf("%w: purchase is nil", ErrMissingQuantity)
	}
	switch p.Category {
	case MaterialCategoryLooseBeads:
		if p.PieceCount.IsZero() {
			return decimal.Zero, "", missingQuantityErr(p, "piece_count")
		}
		return p.PieceCount, MeasureUnitPieces, nil
	case MaterialCategoryBracelet:
		if !p.TotalSubUnits.IsZero() {
			return p.TotalSubUnits, MeasureUnitBeads, nil
		}
		if !p.PieceCount.IsZero() {
			return p.PieceCount, MeasureUnitBeads, nil
		}
		return decimal.Zero, "", missingQuantityErr(p, "total_sub_units")
	case MaterialCategoryAccessory:
		if p.PieceCount.IsZero() {
			return decimal.Zero, "", missingQuantityErr(p, "piece_count")
		}
		return p.PieceCount, MeasureUnitSlices, nil
	case MaterialCategoryFinishedGood:
		if p.PieceCount.IsZero() {
			return decimal.Zero, "", missingQuantityErr(p, "piece_count")
		}
		return p.PieceCount, MeasureUnitItems, nil
	default:
		return decimal.Zero, "", fmt.Errorf("%w: %q", errInvalidCategory, p.Category)
	}
}

func missingQuantityErr(p *Purchase, field string) error {
	return fmt.Errorf("%w: lot %s (%s) has no %s", ErrMissingQuantity, p.LotCode, p.Category, field)
}
