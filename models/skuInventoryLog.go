package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SkuInventoryLog is the append-only audit trail of finished-good stock
// movements. DeltaQty is signed; ClosingQty snapshots the SKU's available
// quantity after the movement so the trail replays without re-aggregation.
type SkuInventoryLog struct {
	ID         int             `gorm:"primary_key" json:"id"`
	SkuId      int             `gorm:"index;not null" json:"sku_id"`
	Action     SkuLogAction    `gorm:"size:16;not null" json:"action"`
	DeltaQty   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delta_qty"`
	ClosingQty decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"closing_qty"`
	Reason     string          `gorm:"size:255" json:"reason"`
	CreatedBy  int             `gorm:"not null" json:"created_by"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func appendSkuInventoryLog(tx *gorm.DB, skuId int, action SkuLogAction, deltaQty decimal.Decimal, closingQty decimal.Decimal, reason string, actorId int) (*SkuInventoryLog, error) {
	entry := SkuInventoryLog{
		SkuId:      skuId,
		Action:     action,
		DeltaQty:   deltaQty,
		ClosingQty: closingQty,
		Reason:     reason,
		CreatedBy:  actorId,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// SkuLogEntries returns a SKU's movement history, oldest first.
func SkuLogEntries(tx *gorm.DB, skuId int) ([]SkuInventoryLog, error) {
	var entries []SkuInventoryLog
	err := tx.Where("sku_id = ?", skuId).Order("id ASC").Find(&entries).Error
	return entries, err
}
