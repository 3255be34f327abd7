package models

import "errors"

// Ledger error taxonomy. Every one of these aborts the whole transaction at the
// operation boundary; none is ever downgraded to a warning or defaulted away.
// Callers match with errors.Is; the wrapped message carries the lot id and the
// requested vs. available quantities.
var (
	// ErrMissingQuantity: the category's authoritative quantity field is null or
	// zero. Callers must never substitute a guessed default.
	ErrMissingQuantity = errors.New("missing authoritative quantity")

	// ErrIncompatibleUnitChange: a purchase edit changed the counting unit while
	// the lot already has recorded usage in the old unit.
	ErrIncompatibleUnitChange = errors.New("incompatible unit change")

	// ErrMissingProjection: an active purchase has no material row. This is a
	// consistency fault to be surfaced, not auto-healed inline; healing belongs
	// to the reconciler.
	ErrMissingProjection = errors.New("missing material projection")

	// ErrInsufficientStock: a consumption exceeds the lot's remaining quantity.
	ErrInsufficientStock = errors.New("insufficient material stock")

	// ErrOverReturn: a return exceeds what the same consumer previously consumed
	// from the lot.
	ErrOverReturn = errors.New("return exceeds consumed quantity")

	// ErrInsufficientSkuStock: a destroy exceeds the SKU's available units.
	ErrInsufficientSkuStock = errors.New("insufficient sku stock")
)
