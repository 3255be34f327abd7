package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Material is the derived 1:1 projection of an active purchase lot. Every
// field is re-derivable from the purchase row and the usage ledger; the row
// exists so reads don't re-aggregate, and the invariant
// remaining = original - used must hold after every mutation.
//
// RemainingQuantity is stored unclamped: a negative value is a detectable
// defect (the API clamps for display, the reconciler reports it).
type Material struct {
	ID                int             `gorm:"primary_key" json:"id"`
	PurchaseId        int             `gorm:"uniqueIndex;not null" json:"purchase_id"`
	Unit              MeasureUnit     `gorm:"size:16;not null" json:"unit"`
	OriginalQuantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"original_quantity"`
	UsedQuantity      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"used_quantity"`
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_quantity"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	ArchivedAt        *time.Time      `gorm:"index" json:"archived_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Purchase *Purchase `gorm:"foreignKey:PurchaseId" json:"purchase,omitempty"`
}

// MaterialView is the read shape served to collaborators. Remaining is
// clamped to >= 0 for display; Deficit flags the unclamped value going
// negative so the fault stays observable.
type MaterialView struct {
	MaterialId        int             `json:"material_id"`
	PurchaseId        int             `json:"purchase_id"`
	LotCode           string          `json:"lot_code"`
	Unit              MeasureUnit     `json:"unit"`
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	UsedQuantity      decimal.Decimal `json:"used_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	Deficit           bool            `json:"deficit"`
}

// lockMaterial fetches the material row under FOR UPDATE. All precondition
// checks against remaining quantity must happen under this lock so two
// concurrent appends cannot both read the same stale remaining value.
func lockMaterial(tx *gorm.DB, materialId int) (*Material, error) {
	var material Material
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&material, materialId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("material %d: %w", materialId, utils.ErrorRecordNotFound)
		}
		return nil, err
	}
	return &material, nil
}

// lockMaterialByPurchase is the projection lookup used by purchase edits.
// Absence for a live purchase is a consistency fault (ErrMissingProjection),
// surfaced rather than healed inline.
func lockMaterialByPurchase(tx *gorm.DB, purchaseId int) (*Material, error) {
	var material Material
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("purchase_id = ?", purchaseId).First(&material).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: purchase %d", ErrMissingProjection, purchaseId)
		}
		return nil, err
	}
	return &material, nil
}

// sortedMaterialIds dedupes and orders the lot set ascending. Every
// multi-lot operation walks its lots in this order so overlapping lot sets
// always acquire their row locks in the same sequence (deadlock avoidance).
func sortedMaterialIds(materialIds []int) []int {
	ids := utils.UniqueSlice(materialIds)
	sort.Ints(ids)
	return ids
}

func materialCacheKey(materialId int) string {
	return fmt.Sprintf("material:%d", materialId)
}

func invalidateMaterialCache(materialId int) {
	_ = config.DeleteRedisKey(materialCacheKey(materialId))
}

// GetMaterial serves the lot's quantity/cost state, cached in redis on the
// read path and invalidated by every write path that touches the row.
func GetMaterial(ctx context.Context, materialId int) (*MaterialView, error) {
	var view MaterialView
	exists, err := config.GetRedisObject(materialCacheKey(materialId), &view)
	if err == nil && exists {
		return &view, nil
	}

	material, err := utils.FetchModel[Material](ctx, materialId, "Purchase")
	if err != nil {
		return nil, err
	}
	view = material.toView()
	_ = config.SetRedisObject(materialCacheKey(materialId), &view, time.Hour)
	return &view, nil
}

// GetMaterialForPurchase resolves the projection of a live purchase. Missing
// projection is reported as a data-integrity incident and returned as
// ErrMissingProjection.
func GetMaterialForPurchase(ctx context.Context, purchaseId int) (*MaterialView, error) {
	db := config.GetDB()

	purchase, err := utils.FetchModel[Purchase](ctx, purchaseId)
	if err != nil {
		return nil, err
	}

	var material Material
	err = db.WithContext(ctx).Where("purchase_id = ?", purchaseId).First(&material).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) && purchase.Status != PurchaseStatusArchived {
			config.LogIntegrityIncident(config.GetLogger(), "material.go", "GetMaterialForPurchase",
				map[string]any{"purchase_id": purchaseId, "lot_code": purchase.LotCode},
				"live purchase has no material projection")
			return nil, fmt.Errorf("%w: purchase %d (%s)", ErrMissingProjection, purchaseId, purchase.LotCode)
		}
		return nil, err
	}
	material.Purchase = purchase
	view := material.toView()
	return &view, nil
}

func (m *Material) toView() MaterialView {
	remaining := m.RemainingQuantity
	deficit := remaining.IsNegative()
	if deficit {
		remaining = decimal.Zero
	}
	lotCode := ""
	if m.Purchase != nil {
		lotCode = m.Purchase.LotCode
	}
	return MaterialView{
		MaterialId:        m.ID,
		PurchaseId:        m.PurchaseId,
		LotCode:           lotCode,
		Unit:              m.Unit,
		OriginalQuantity:  m.OriginalQuantity,
		UsedQuantity:      m.UsedQuantity,
		RemainingQuantity: remaining,
		UnitCost:          m.UnitCost,
		TotalCost:         m.TotalCost,
		Deficit:           deficit,
	}
}
