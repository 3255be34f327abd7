package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/padaukcraft/beads_backend/config"
	"github.com/shopspring/decimal"
)

// ReconciliationReport records one corrected field of one material. Rows are
// written only when a value actually drifted, so an empty run leaves no
// trace beyond the log line.
type ReconciliationReport struct {
	ID         int       `gorm:"primary_key" json:"id"`
	MaterialId int       `gorm:"index;not null" json:"material_id"`
	Field      string    `gorm:"size:50;index;not null" json:"field"`
	OldValue   string    `gorm:"size:64" json:"old_value"`
	NewValue   string    `gorm:"size:64" json:"new_value"`
	RunId      string    `gorm:"size:64;index" json:"run_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ReconcileResult summarizes one material's pass.
type ReconcileResult struct {
	MaterialId  int                    `json:"material_id"`
	RunId       string                 `json:"run_id"`
	Drifted     bool                   `json:"drifted"`
	Corrections []ReconciliationReport `json:"corrections"`
}

// ReconcileAllResult summarizes a full sweep.
type ReconcileAllResult struct {
	RunId            string `json:"run_id"`
	MaterialsChecked int    `json:"materials_checked"`
	MaterialsDrifted int    `json:"materials_drifted"`
	ProjectionsAdded int    `json:"projections_added"`
}

// ReconcileMaterial recomputes one material's derived fields from the
// purchase row and the usage ledger, ignoring the stored values, and writes
// back whatever differs. Running it on a healthy lot is a no-op; running it
// twice is the same as running it once.
func ReconcileMaterial(ctx context.Context, materialId int) (*ReconcileResult, error) {
	return reconcileMaterialWithRun(ctx, materialId, uuid.NewString())
}

func reconcileMaterialWithRun(ctx context.Context, materialId int, runId string) (*ReconcileResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	result := ReconcileResult{MaterialId: materialId, RunId: runId}

	tx := db.Begin()

	material, err := lockMaterial(tx.WithContext(ctx), materialId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	purchase, err := lockPurchase(tx.WithContext(ctx), material.PurchaseId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	expectedOriginal, expectedUnit, err := AuthoritativeQuantity(purchase)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	expectedUsed, err := usedQuantity(tx.WithContext(ctx), materialId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	expectedRemaining := expectedOriginal.Sub(expectedUsed)
	expectedUnitCost := purchase.TotalPrice.Div(expectedOriginal)

	type check struct {
		field    string
		stored   string
		expected string
		equal    bool
	}
	checks := []check{
		{"unit", string(material.Unit), string(expectedUnit), material.Unit == expectedUnit},
		{"original_quantity", material.OriginalQuantity.String(), expectedOriginal.String(), material.OriginalQuantity.Equal(expectedOriginal)},
		{"used_quantity", material.UsedQuantity.String(), expectedUsed.String(), material.UsedQuantity.Equal(expectedUsed)},
		{"remaining_quantity", material.RemainingQuantity.String(), expectedRemaining.String(), material.RemainingQuantity.Equal(expectedRemaining)},
		{"unit_cost", material.UnitCost.String(), expectedUnitCost.String(), material.UnitCost.Equal(expectedUnitCost)},
		{"total_cost", material.TotalCost.String(), purchase.TotalPrice.String(), material.TotalCost.Equal(purchase.TotalPrice)},
	}

	for _, c := range checks {
		if c.equal {
			continue
		}
		report := ReconciliationReport{
			MaterialId: materialId,
			Field:      c.field,
			OldValue:   c.stored,
			NewValue:   c.expected,
			RunId:      runId,
		}
		if err := tx.WithContext(ctx).Create(&report).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		result.Corrections = append(result.Corrections, report)
		config.LogIntegrityIncident(logger, "reconciler.go", "ReconcileMaterial",
			map[string]any{"material_id": materialId, "field": c.field, "stored": c.stored, "expected": c.expected, "run_id": runId},
			"material projection drift corrected")
	}

	if len(result.Corrections) > 0 {
		result.Drifted = true
		material.Unit = expectedUnit
		material.OriginalQuantity = expectedOriginal
		material.UsedQuantity = expectedUsed
		material.RemainingQuantity = expectedRemaining
		material.UnitCost = expectedUnitCost
		material.TotalCost = purchase.TotalPrice
		if err := tx.WithContext(ctx).Save(material).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := normalizePurchaseStatus(tx.WithContext(ctx), purchase, material); err != nil {
			tx.Rollback()
			return nil, err
		}
		if config.AuditOutboxEnabled() {
			payload, _ := json.Marshal(result.Corrections)
			if err := QueueAuditRecord(ctx, tx.WithContext(ctx), AuditReferenceTypeReconciliation,
				materialId, AuditMessageActionUpdate, payload); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if result.Drifted {
		invalidateMaterialCache(materialId)
	}
	return &result, nil
}

// ReconcileAll sweeps every material in ascending id order, one transaction
// per lot so a single bad row never blocks the rest. It also heals the one
// fault the per-lot pass cannot see: a live purchase with no projection row
// gets one rebuilt from the purchase and its ledger.
func ReconcileAll(ctx context.Context) (*ReconcileAllResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	runId := uuid.NewString()

	summary := ReconcileAllResult{RunId: runId}

	var materialIds []int
	if err := db.WithContext(ctx).Model(&Material{}).Order("id ASC").Pluck("id", &materialIds).Error; err != nil {
		return nil, err
	}
	for _, id := range materialIds {
		result, err := reconcileMaterialWithRun(ctx, id, runId)
		if err != nil {
			config.LogError(logger, "reconciler.go", "ReconcileAll", "reconcile material",
				map[string]any{"material_id": id, "run_id": runId}, err)
			continue
		}
		summary.MaterialsChecked++
		if result.Drifted {
			summary.MaterialsDrifted++
		}
	}

	added, err := healMissingProjections(ctx, runId)
	if err != nil {
		return nil, err
	}
	summary.ProjectionsAdded = added

	logger.WithField("run_id", runId).
		WithField("checked", summary.MaterialsChecked).
		WithField("drifted", summary.MaterialsDrifted).
		WithField("projections_added", summary.ProjectionsAdded).
		Info("reconciliation sweep finished")
	return &summary, nil
}

// healMissingProjections rebuilds material rows for non-archived purchases
// that have none. Ledger rows referencing the vanished material cannot be
// recovered here, so the rebuilt projection starts from the purchase alone.
func healMissingProjections(ctx context.Context, runId string) (int, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	var orphans []Purchase
	err := db.WithContext(ctx).
		Joins("LEFT JOIN materials ON materials.purchase_id = purchases.id").
		Where("materials.id IS NULL AND purchases.status <> ?", PurchaseStatusArchived).
		Order("purchases.id ASC").
		Find(&orphans).Error
	if err != nil {
		return 0, err
	}

	added := 0
	for i := range orphans {
		purchase := &orphans[i]
		originalQty, unit, err := AuthoritativeQuantity(purchase)
		if err != nil {
			if errors.Is(err, ErrMissingQuantity) {
				config.LogIntegrityIncident(logger, "reconciler.go", "healMissingProjections",
					map[string]any{"purchase_id": purchase.ID, "lot_code": purchase.LotCode, "run_id": runId},
					"orphan purchase has no usable quantity, left unhealed")
				continue
			}
			return added, err
		}

		tx := db.Begin()
		material := Material{
			PurchaseId:        purchase.ID,
			Unit:              unit,
			OriginalQuantity:  originalQty,
			UsedQuantity:      decimal.Zero,
			RemainingQuantity: originalQty,
			UnitCost:          purchase.TotalPrice.Div(originalQty),
			TotalCost:         purchase.TotalPrice,
		}
		if err := tx.WithContext(ctx).Create(&material).Error; err != nil {
			tx.Rollback()
			return added, err
		}
		report := ReconciliationReport{
			MaterialId: material.ID,
			Field:      "projection",
			OldValue:   "missing",
			NewValue:   fmt.Sprintf("purchase:%d", purchase.ID),
			RunId:      runId,
		}
		if err := tx.WithContext(ctx).Create(&report).Error; err != nil {
			tx.Rollback()
			return added, err
		}
		if err := tx.Commit().Error; err != nil {
			return added, err
		}
		added++
		config.LogIntegrityIncident(logger, "reconciler.go", "healMissingProjections",
			map[string]any{"purchase_id": purchase.ID, "material_id": material.ID, "run_id": runId},
			"missing material projection rebuilt")
	}
	return added, nil
}
