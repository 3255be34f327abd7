package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductSku is a craftable finished good. Its recipe lines pin the exact
// purchase lots it draws from, so every crafted unit is traceable to lots.
type ProductSku struct {
	ID                int             `gorm:"primary_key" json:"id"`
	SkuCode           string          `gorm:"size:64;uniqueIndex;not null" json:"sku_code" binding:"required"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	AvailableQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"available_quantity"`
	SellingPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	Status            SkuStatus       `gorm:"type:enum('Active','Inactive');not null;default:Active" json:"status"`
	CreatedBy         int             `gorm:"not null" json:"created_by"`
	UpdatedBy         int             `json:"updated_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	RecipeLines []SkuRecipeLine `gorm:"foreignKey:SkuId" json:"recipe_lines,omitempty"`
}

// SkuRecipeLine binds one unit of the SKU to a quantity drawn from one
// specific material lot. Quantities are in the lot's own unit.
type SkuRecipeLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	SkuId           int             `gorm:"index;not null" json:"sku_id"`
	MaterialId      int             `gorm:"index;not null" json:"material_id"`
	QuantityPerUnit decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_per_unit"`
	Unit            MeasureUnit     `gorm:"size:16;not null" json:"unit"`
}

type NewRecipeLine struct {
	MaterialId      int             `json:"material_id" binding:"required"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit" binding:"required"`
}

// CraftSkuInput crafts UnitCount units. Either SkuId references an existing
// SKU (its stored recipe is reused) or SkuCode/Name/RecipeLines define a new
// one on first craft.
type CraftSkuInput struct {
	SkuId        int             `json:"sku_id"`
	SkuCode      string          `json:"sku_code"`
	Name         string          `json:"name"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	RecipeLines  []NewRecipeLine `json:"recipe_lines"`
	UnitCount    decimal.Decimal `json:"unit_count" binding:"required"`
}

// DestroySkuInput removes Count units from stock. When ReturnToStock is set,
// each listed material gets its per-unit recipe quantity times Count credited
// back to its lot; materials not listed are written off.
type DestroySkuInput struct {
	Count             decimal.Decimal `json:"count" binding:"required"`
	Reason            string          `json:"reason"`
	ReturnToStock     bool            `json:"return_to_stock"`
	SelectedMaterials []int           `json:"selected_materials"`
}

func (input *CraftSkuInput) validate(ctx context.Context) error {
	if !input.UnitCount.IsPositive() {
		return errors.New("unit count must be positive")
	}
	if input.SkuId != 0 {
		return utils.ValidateResourceId[ProductSku](ctx, input.SkuId)
	}
	if input.SkuCode == "" || input.Name == "" {
		return errors.New("sku code and name are required for a new sku")
	}
	if len(input.RecipeLines) == 0 {
		return errors.New("a new sku needs at least one recipe line")
	}
	seen := map[int]bool{}
	for _, line := range input.RecipeLines {
		if !line.QuantityPerUnit.IsPositive() {
			return fmt.Errorf("recipe quantity for material %d must be positive", line.MaterialId)
		}
		if seen[line.MaterialId] {
			return fmt.Errorf("material %d appears twice in the recipe", line.MaterialId)
		}
		seen[line.MaterialId] = true
		if err := utils.ValidateResourceId[Material](ctx, line.MaterialId); err != nil {
			return fmt.Errorf("recipe material %d not found", line.MaterialId)
		}
	}
	if err := utils.ValidateUnique[ProductSku](ctx, "sku_code", input.SkuCode, 0); err != nil {
		return errors.New("duplicate sku code")
	}
	return nil
}

func lockSku(tx *gorm.DB, skuId int) (*ProductSku, error) {
	var sku ProductSku
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sku, skuId).Error; err != nil {
		return nil, fmt.Errorf("sku %d: %w", skuId, utils.ErrorRecordNotFound)
	}
	return &sku, nil
}

// CraftSku converts lot stock into finished-good stock in one transaction.
// All recipe lines succeed or none do: any ledger precondition failure
// (including on the last lot) rolls the whole craft back. Lots are consumed
// in ascending material id order. Each ledger row snapshots the lot's unit
// cost at craft time, so later lot repricing never rewrites past crafts.
func CraftSku(ctx context.Context, input *CraftSkuInput) (*ProductSku, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	tx := db.Begin()

	var sku *ProductSku
	var err error
	if input.SkuId != 0 {
		sku, err = lockSku(tx.WithContext(ctx), input.SkuId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.WithContext(ctx).Where("sku_id = ?", sku.ID).Find(&sku.RecipeLines).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if len(sku.RecipeLines) == 0 {
			tx.Rollback()
			return nil, fmt.Errorf("sku %d has no recipe", sku.ID)
		}
	} else {
		sku = &ProductSku{
			SkuCode:      input.SkuCode,
			Name:         input.Name,
			SellingPrice: input.SellingPrice,
			Status:       SkuStatusActive,
			CreatedBy:    userId,
		}
		if err := tx.WithContext(ctx).Create(sku).Error; err != nil {
			tx.Rollback()
			if isDuplicateKeyError(err) {
				return nil, errors.New("duplicate sku code")
			}
			return nil, err
		}
		for _, line := range input.RecipeLines {
			sku.RecipeLines = append(sku.RecipeLines, SkuRecipeLine{
				SkuId:           sku.ID,
				MaterialId:      line.MaterialId,
				QuantityPerUnit: line.QuantityPerUnit,
			})
		}
	}

	linesByMaterial := make(map[int]*SkuRecipeLine, len(sku.RecipeLines))
	materialIds := make([]int, 0, len(sku.RecipeLines))
	for i := range sku.RecipeLines {
		line := &sku.RecipeLines[i]
		linesByMaterial[line.MaterialId] = line
		materialIds = append(materialIds, line.MaterialId)
	}

	for _, materialId := range sortedMaterialIds(materialIds) {
		line := linesByMaterial[materialId]
		qty := line.QuantityPerUnit.Mul(input.UnitCount)

		var material Material
		if err := tx.WithContext(ctx).Select("unit_cost", "unit").First(&material, materialId).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("material %d: %w", materialId, utils.ErrorRecordNotFound)
		}
		line.Unit = material.Unit

		if _, err := AppendUsage(tx.WithContext(ctx), materialId, sku.ID, qty, material.UnitCost, userId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if input.SkuId == 0 {
		for i := range sku.RecipeLines {
			if err := tx.WithContext(ctx).Create(&sku.RecipeLines[i]).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	sku.AvailableQuantity = sku.AvailableQuantity.Add(input.UnitCount)
	sku.UpdatedBy = userId
	if err := tx.WithContext(ctx).Save(sku).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	logEntry, err := appendSkuInventoryLog(tx.WithContext(ctx), sku.ID, SkuLogActionCraft,
		input.UnitCount, sku.AvailableQuantity, "", userId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if config.AuditOutboxEnabled() {
		payload, _ := json.Marshal(logEntry)
		if err := QueueAuditRecord(ctx, tx.WithContext(ctx), AuditReferenceTypeSkuInventoryLog,
			logEntry.ID, AuditMessageActionCreate, payload); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return sku, nil
}

// DestroySku removes finished units and, when requested, credits lots back
// with their per-unit recipe quantities. By default a return credits every
// recipe lot; SelectedMaterials narrows the credit to the listed lots when
// broken units do not give every material back, and the rest is written off.
func DestroySku(ctx context.Context, skuId int, input *DestroySkuInput) (*ProductSku, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if !input.Count.IsPositive() {
		return nil, errors.New("destroy count must be positive")
	}

	tx := db.Begin()

	sku, err := lockSku(tx.WithContext(ctx), skuId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if sku.AvailableQuantity.LessThan(input.Count) {
		tx.Rollback()
		return nil, fmt.Errorf("%w: sku %s has %s available, destroying %s",
			ErrInsufficientSkuStock, sku.SkuCode, sku.AvailableQuantity, input.Count)
	}

	if input.ReturnToStock {
		if err := tx.WithContext(ctx).Where("sku_id = ?", sku.ID).Find(&sku.RecipeLines).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		linesByMaterial := make(map[int]*SkuRecipeLine, len(sku.RecipeLines))
		returnIds := input.SelectedMaterials
		for i := range sku.RecipeLines {
			linesByMaterial[sku.RecipeLines[i].MaterialId] = &sku.RecipeLines[i]
			// No selection means the return credits every recipe lot.
			if len(input.SelectedMaterials) == 0 {
				returnIds = append(returnIds, sku.RecipeLines[i].MaterialId)
			}
		}

		for _, materialId := range sortedMaterialIds(returnIds) {
			line, ok := linesByMaterial[materialId]
			if !ok {
				tx.Rollback()
				return nil, fmt.Errorf("material %d is not part of sku %s recipe", materialId, sku.SkuCode)
			}
			returnQty := line.QuantityPerUnit.Mul(input.Count)

			var material Material
			if err := tx.WithContext(ctx).Select("unit_cost").First(&material, materialId).Error; err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("material %d: %w", materialId, utils.ErrorRecordNotFound)
			}
			if _, err := AppendUsage(tx.WithContext(ctx), materialId, sku.ID, returnQty.Neg(), material.UnitCost, userId); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	sku.AvailableQuantity = sku.AvailableQuantity.Sub(input.Count)
	sku.UpdatedBy = userId
	if err := tx.WithContext(ctx).Save(sku).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	logEntry, err := appendSkuInventoryLog(tx.WithContext(ctx), sku.ID, SkuLogActionDestroy,
		input.Count.Neg(), sku.AvailableQuantity, input.Reason, userId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if config.AuditOutboxEnabled() {
		payload, _ := json.Marshal(logEntry)
		if err := QueueAuditRecord(ctx, tx.WithContext(ctx), AuditReferenceTypeSkuInventoryLog,
			logEntry.ID, AuditMessageActionCreate, payload); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return sku, nil
}

func GetSku(ctx context.Context, id int) (*ProductSku, error) {
	return utils.FetchModel[ProductSku](ctx, id, "RecipeLines")
}
