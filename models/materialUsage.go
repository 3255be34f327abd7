package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/padaukcraft/beads_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MaterialUsage is one append-only ledger entry against a material lot.
// Qty is signed: positive rows consume stock, negative rows return it.
// Rows are never updated or deleted; corrections are compensating entries.
//
// LegacyReturnPieceQty carries a return recorded in pieces by the old
// bookkeeping (before returns were signed sub-unit rows). The backfill
// converts it into Qty and stamps NormalizedAt.
type MaterialUsage struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	MaterialId           int             `gorm:"index;index:idx_material_consumer,priority:1;not null" json:"material_id"`
	ConsumerId           int             `gorm:"index;index:idx_material_consumer,priority:2;not null" json:"consumer_id"`
	Qty                  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalCost            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	LegacyReturnPieceQty *decimal.Decimal `gorm:"type:decimal(20,4)" json:"legacy_return_piece_qty,omitempty"`
	NormalizedAt         *time.Time      `json:"normalized_at,omitempty"`
	CreatedBy            int             `gorm:"not null" json:"created_by"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// SumUsage folds signed ledger quantities into a net used total. It is the
// in-memory twin of the SQL aggregation so the arithmetic is testable without
// a database.
func SumUsage(quantities []decimal.Decimal) decimal.Decimal {
	used := decimal.Zero
	for _, qty := range quantities {
		used = used.Add(qty)
	}
	return used
}

// usedQuantity recomputes the lot's net consumption from the ledger. One
// algebraic sum; consumes and returns are never aggregated separately.
func usedQuantity(tx *gorm.DB, materialId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&MaterialUsage{}).
		Where("material_id = ?", materialId).
		Select("COALESCE(SUM(qty), 0)").Scan(&total).Error
	return total, err
}

// netConsumed is the consumer's outstanding balance against one lot: what it
// took minus what it already gave back. Returns may never exceed it.
func netConsumed(tx *gorm.DB, materialId int, consumerId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&MaterialUsage{}).
		Where("material_id = ? AND consumer_id = ?", materialId, consumerId).
		Select("COALESCE(SUM(qty), 0)").Scan(&total).Error
	return total, err
}

// AppendUsage writes one signed ledger row for the lot and re-derives the
// material projection, all inside the caller's transaction. Preconditions
// are checked under the row lock:
//
//	qty > 0  needs remaining >= qty, else ErrInsufficientStock
//	qty < 0  needs -qty <= net consumed by this consumer, else ErrOverReturn
//
// The lot's Active/Used status is normalized in the same transaction, so a
// drained lot flips to Used and a fully restored one flips back to Active
// atomically with the ledger row that caused it.
func AppendUsage(tx *gorm.DB, materialId int, consumerId int, qty decimal.Decimal, unitCost decimal.Decimal, actorId int) (*Material, error) {
	if qty.IsZero() {
		return nil, errors.New("usage quantity cannot be zero")
	}

	// Lock order matches the purchase-edit path: purchase before material.
	var probe Material
	if err := tx.Select("purchase_id").First(&probe, materialId).Error; err != nil {
		return nil, fmt.Errorf("material %d: %w", materialId, utils.ErrorRecordNotFound)
	}
	purchase, err := lockPurchase(tx, probe.PurchaseId)
	if err != nil {
		return nil, err
	}
	material, err := lockMaterial(tx, materialId)
	if err != nil {
		return nil, err
	}
	if material.ArchivedAt != nil {
		return nil, fmt.Errorf("material %d belongs to an archived lot", materialId)
	}

	if qty.IsPositive() {
		if material.RemainingQuantity.LessThan(qty) {
			return nil, fmt.Errorf("%w: material %d has %s %s remaining, requested %s",
				ErrInsufficientStock, materialId, material.RemainingQuantity, material.Unit, qty)
		}
	} else {
		consumed, err := netConsumed(tx, materialId, consumerId)
		if err != nil {
			return nil, err
		}
		returning := qty.Neg()
		if returning.GreaterThan(consumed) {
			return nil, fmt.Errorf("%w: consumer %d holds %s %s from material %d, cannot return %s",
				ErrOverReturn, consumerId, consumed, material.Unit, materialId, returning)
		}
	}

	usage := MaterialUsage{
		MaterialId: materialId,
		ConsumerId: consumerId,
		Qty:        qty,
		UnitCost:   unitCost,
		TotalCost:  unitCost.Mul(qty),
		CreatedBy:  actorId,
	}
	if err := tx.Create(&usage).Error; err != nil {
		return nil, err
	}

	used, err := usedQuantity(tx, materialId)
	if err != nil {
		return nil, err
	}
	material.UsedQuantity = used
	material.RemainingQuantity = material.OriginalQuantity.Sub(used)
	if err := tx.Save(material).Error; err != nil {
		return nil, err
	}

	if err := normalizePurchaseStatus(tx, purchase, material); err != nil {
		return nil, err
	}

	invalidateMaterialCache(materialId)
	return material, nil
}

// LedgerEntries returns a lot's full usage history, oldest first.
func LedgerEntries(tx *gorm.DB, materialId int) ([]MaterialUsage, error) {
	var entries []MaterialUsage
	err := tx.Where("material_id = ?", materialId).Order("id ASC").Find(&entries).Error
	return entries, err
}
