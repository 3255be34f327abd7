package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BackfillResult summarizes one ledger normalization run.
type BackfillResult struct {
	RowsNormalized     int `json:"rows_normalized"`
	RowsSkipped        int `json:"rows_skipped"`
	MaterialsRecomputed int `json:"materials_recomputed"`
}

// NormalizeLegacyReturns converts old piece-denominated return rows into
// signed quantities in the lot's own unit. The old bookkeeping stored returns
// in a separate piece-count field; the signed ledger wants one negative row
// in sub-units. Bracelet lots convert pieces via beads-per-piece
// (total_sub_units / piece_count); piece-counted lots convert 1:1.
//
// Rows already stamped NormalizedAt are skipped, so reruns are no-ops.
func NormalizeLegacyReturns(ctx context.Context, logger *logrus.Logger) (*BackfillResult, error) {
	db := config.GetDB()
	result := BackfillResult{}

	var legacy []models.MaterialUsage
	err := db.WithContext(ctx).
		Where("legacy_return_piece_qty IS NOT NULL AND normalized_at IS NULL").
		Order("material_id ASC, id ASC").
		Find(&legacy).Error
	if err != nil {
		return nil, err
	}
	if len(legacy) == 0 {
		return &result, nil
	}

	touched := map[int]bool{}
	for _, row := range legacy {
		if err := normalizeOneReturn(ctx, db, row); err != nil {
			config.LogError(logger, "usageLedgerBackfill.go", "NormalizeLegacyReturns", "normalize row",
				map[string]any{"usage_id": row.ID, "material_id": row.MaterialId}, err)
			result.RowsSkipped++
			continue
		}
		result.RowsNormalized++
		touched[row.MaterialId] = true
	}

	// Re-derive each touched projection from the now-consistent ledger.
	for materialId := range touched {
		if _, err := models.ReconcileMaterial(ctx, materialId); err != nil {
			config.LogError(logger, "usageLedgerBackfill.go", "NormalizeLegacyReturns", "recompute material",
				map[string]any{"material_id": materialId}, err)
			continue
		}
		result.MaterialsRecomputed++
	}

	logger.WithFields(logrus.Fields{
		"rows_normalized":      result.RowsNormalized,
		"rows_skipped":         result.RowsSkipped,
		"materials_recomputed": result.MaterialsRecomputed,
	}).Info("legacy return backfill finished")
	return &result, nil
}

func normalizeOneReturn(ctx context.Context, db *gorm.DB, row models.MaterialUsage) error {
	tx := db.Begin()

	if err := AcquireMaterialLock(tx, row.MaterialId); err != nil {
		tx.Rollback()
		return err
	}
	defer ReleaseMaterialLock(tx, row.MaterialId)

	material, err := fetchMaterialWithPurchase(tx.WithContext(ctx), row.MaterialId)
	if err != nil {
		tx.Rollback()
		return err
	}

	factor, err := subUnitsPerPiece(material)
	if err != nil {
		tx.Rollback()
		return err
	}

	now := time.Now().UTC()
	legacyPieces := *row.LegacyReturnPieceQty
	signedQty := legacyPieces.Mul(factor).Neg()

	err = tx.WithContext(ctx).Model(&models.MaterialUsage{}).
		Where("id = ? AND normalized_at IS NULL", row.ID).
		Updates(map[string]interface{}{
			"qty":           signedQty,
			"total_cost":    row.UnitCost.Mul(signedQty),
			"normalized_at": &now,
		}).Error
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func fetchMaterialWithPurchase(tx *gorm.DB, materialId int) (*models.Material, error) {
	var material models.Material
	if err := tx.Preload("Purchase").First(&material, materialId).Error; err != nil {
		return nil, err
	}
	if material.Purchase == nil {
		return nil, fmt.Errorf("material %d has no purchase", materialId)
	}
	return &material, nil
}

// subUnitsPerPiece is the conversion factor from legacy piece counts to the
// lot's counting unit.
func subUnitsPerPiece(material *models.Material) (decimal.Decimal, error) {
	purchase := material.Purchase
	if purchase.Category == models.MaterialCategoryBracelet && !purchase.TotalSubUnits.IsZero() {
		if purchase.PieceCount.IsZero() {
			return decimal.Zero, fmt.Errorf("lot %s has sub-units but no piece count", purchase.LotCode)
		}
		return purchase.TotalSubUnits.Div(purchase.PieceCount), nil
	}
	// Lots whose authoritative count is the piece count convert 1:1, including
	// bracelet lots on the piece-count fallback.
	return decimal.NewFromInt(1), nil
}
