package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockPurchase fetches a purchase under FOR UPDATE so concurrent edits and
// ledger appends against the same lot serialize.
func lockPurchase(tx *gorm.DB, id int) (*Purchase, error) {
	var purchase Purchase
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&purchase, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &purchase, nil
}

// Purchase is a raw-intake transaction: one purchased lot of material.
// Its authoritative quantity field (per unitPolicy.go) is the single source of
// truth for the lot's material projection and must never silently diverge
// from it.
type Purchase struct {
	ID           int              `gorm:"primary_key" json:"id"`
	LotCode      string           `gorm:"size:64;uniqueIndex;not null" json:"lot_code" binding:"required"`
	SupplierName string           `gorm:"size:255" json:"supplier_name"`
	Category     MaterialCategory `gorm:"type:enum('LOOSE_BEADS','BRACELET','ACCESSORY','FINISHED_GOOD');not null" json:"category" binding:"required"`
	// Quantity fields; which one is authoritative depends on Category.
	PieceCount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"piece_count"`
	TotalSubUnits decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_sub_units"`
	StrandCount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"strand_count"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Status        PurchaseStatus  `gorm:"type:enum('Active','Used','Archived');not null;default:Active" json:"status"`
	Notes         string          `gorm:"type:text" json:"notes"`
	CreatedBy     int             `gorm:"not null" json:"created_by"`
	UpdatedBy     int             `json:"updated_by"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Material *Material `gorm:"foreignKey:PurchaseId" json:"material,omitempty"`
}

type NewPurchase struct {
	LotCode       string           `json:"lot_code" binding:"required"`
	SupplierName  string           `json:"supplier_name"`
	Category      MaterialCategory `json:"category" binding:"required"`
	PieceCount    decimal.Decimal  `json:"piece_count"`
	TotalSubUnits decimal.Decimal  `json:"total_sub_units"`
	StrandCount   decimal.Decimal  `json:"strand_count"`
	TotalPrice    decimal.Decimal  `json:"total_price" binding:"required"`
	Notes         string           `json:"notes"`
}

// PurchaseEdit carries the editable fields of a purchase. Quantity/price/
// category changes re-derive the material projection inside the same
// transaction (never a DB trigger, so failures are visible and testable).
type PurchaseEdit struct {
	SupplierName  *string          `json:"supplier_name"`
	Category      *MaterialCategory `json:"category"`
	PieceCount    *decimal.Decimal `json:"piece_count"`
	TotalSubUnits *decimal.Decimal `json:"total_sub_units"`
	StrandCount   *decimal.Decimal `json:"strand_count"`
	TotalPrice    *decimal.Decimal `json:"total_price"`
	Notes         *string          `json:"notes"`
}

func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func (input *NewPurchase) validate(ctx context.Context) error {
	if !input.Category.Valid() {
		return fmt.Errorf("%w: %q", errInvalidCategory, input.Category)
	}
	if input.TotalPrice.IsNegative() {
		return errors.New("total price cannot be negative")
	}
	if input.PieceCount.IsNegative() || input.TotalSubUnits.IsNegative() || input.StrandCount.IsNegative() {
		return errors.New("quantity fields cannot be negative")
	}
	if err := utils.ValidateUnique[Purchase](ctx, "lot_code", input.LotCode, 0); err != nil {
		return errors.New("duplicate lot code")
	}
	return nil
}

// CreatePurchase stores the purchase and derives its material projection in
// one transaction.
func CreatePurchase(ctx context.Context, input *NewPurchase) (*Purchase, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	purchase := Purchase{
		LotCode:       input.LotCode,
		SupplierName:  input.SupplierName,
		Category:      input.Category,
		PieceCount:    input.PieceCount,
		TotalSubUnits: input.TotalSubUnits,
		StrandCount:   input.StrandCount,
		TotalPrice:    input.TotalPrice,
		Status:        PurchaseStatusActive,
		Notes:         input.Notes,
		CreatedBy:     userId,
	}

	originalQty, unit, err := AuthoritativeQuantity(&purchase)
	if err != nil {
		return nil, err
	}
	unitCost := purchase.TotalPrice.Div(originalQty)
	purchase.UnitPrice = unitCost

	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(&purchase).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return nil, errors.New("duplicate lot code")
		}
		return nil, err
	}

	material := Material{
		PurchaseId:        purchase.ID,
		Unit:              unit,
		OriginalQuantity:  originalQty,
		UsedQuantity:      decimal.Zero,
		RemainingQuantity: originalQty,
		UnitCost:          unitCost,
		TotalCost:         purchase.TotalPrice,
	}
	if err := tx.WithContext(ctx).Create(&material).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	purchase.Material = &material
	return &purchase, nil
}

// UpdatePurchase edits quantity/price/category fields and re-derives the
// material projection with the current used quantity (usage is never reset by
// an edit). Changing the counting unit over nonzero usage fails with
// ErrIncompatibleUnitChange.
func UpdatePurchase(ctx context.Context, id int, input *PurchaseEdit) (*Purchase, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	tx := db.Begin()

	purchase, err := lockPurchase(tx.WithContext(ctx), id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if purchase.Status == PurchaseStatusArchived {
		tx.Rollback()
		return nil, errors.New("archived purchase cannot be edited")
	}

	material, err := lockMaterialByPurchase(tx.WithContext(ctx), purchase.ID)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, ErrMissingProjection) {
			config.LogIntegrityIncident(config.GetLogger(), "purchase.go", "UpdatePurchase",
				map[string]any{"purchase_id": purchase.ID, "lot_code": purchase.LotCode},
				"active purchase has no material projection")
		}
		return nil, err
	}

	if input.SupplierName != nil {
		purchase.SupplierName = *input.SupplierName
	}
	if input.Notes != nil {
		purchase.Notes = *input.Notes
	}
	if input.Category != nil {
		if !input.Category.Valid() {
			tx.Rollback()
			return nil, fmt.Errorf("%w: %q", errInvalidCategory, *input.Category)
		}
		purchase.Category = *input.Category
	}
	if input.PieceCount != nil {
		purchase.PieceCount = *input.PieceCount
	}
	if input.TotalSubUnits != nil {
		purchase.TotalSubUnits = *input.TotalSubUnits
	}
	if input.StrandCount != nil {
		purchase.StrandCount = *input.StrandCount
	}
	if input.TotalPrice != nil {
		if input.TotalPrice.IsNegative() {
			tx.Rollback()
			return nil, errors.New("total price cannot be negative")
		}
		purchase.TotalPrice = *input.TotalPrice
	}
	purchase.UpdatedBy = userId

	originalQty, unit, err := AuthoritativeQuantity(purchase)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if unit != material.Unit && !material.UsedQuantity.IsZero() {
		tx.Rollback()
		return nil, fmt.Errorf("%w: lot %s has %s usage in %s, cannot switch to %s",
			ErrIncompatibleUnitChange, purchase.LotCode, material.UsedQuantity, material.Unit, unit)
	}

	unitCost := purchase.TotalPrice.Div(originalQty)
	purchase.UnitPrice = unitCost

	material.Unit = unit
	material.OriginalQuantity = originalQty
	// Keep the current used quantity; remaining is re-derived, not reset.
	material.RemainingQuantity = originalQty.Sub(material.UsedQuantity)
	material.UnitCost = unitCost
	material.TotalCost = purchase.TotalPrice

	if err := tx.WithContext(ctx).Save(purchase).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Save(material).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := normalizePurchaseStatus(tx.WithContext(ctx), purchase, material); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateMaterialCache(material.ID)
	purchase.Material = material
	return purchase, nil
}

// ArchivePurchase retires a lot. The material projection is logically removed
// (flagged, not deleted) so historical usage stays explainable.
func ArchivePurchase(ctx context.Context, id int) (*Purchase, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	tx := db.Begin()
	purchase, err := lockPurchase(tx.WithContext(ctx), id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if purchase.Status == PurchaseStatusArchived {
		tx.Rollback()
		return nil, errors.New("purchase is already archived")
	}

	now := time.Now().UTC()
	purchase.Status = PurchaseStatusArchived
	purchase.UpdatedBy = userId
	if err := tx.WithContext(ctx).Save(purchase).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	var material Material
	if err := tx.WithContext(ctx).Where("purchase_id = ?", purchase.ID).First(&material).Error; err == nil {
		if err := tx.WithContext(ctx).Model(&material).Update("ArchivedAt", &now).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		invalidateMaterialCache(material.ID)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return purchase, nil
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {
	return utils.FetchModel[Purchase](ctx, id, "Material")
}

// normalizePurchaseStatus applies the two lifecycle rules tied to the ledger:
// a lot whose remaining quantity reaches zero is Used; a Used lot whose
// remaining quantity is restored to the full original is Active again.
// Partial restoration never changes status.
func normalizePurchaseStatus(tx *gorm.DB, purchase *Purchase, material *Material) error {
	switch {
	case purchase.Status == PurchaseStatusActive && material.RemainingQuantity.IsZero():
		purchase.Status = PurchaseStatusUsed
	case purchase.Status == PurchaseStatusUsed && material.RemainingQuantity.Equal(material.OriginalQuantity):
		purchase.Status = PurchaseStatusActive
	default:
		return nil
	}
	return tx.Model(&Purchase{}).Where("id = ?", purchase.ID).Update("Status", purchase.Status).Error
}
