package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type MaterialLedgerRow struct {
	UsageId      int             `json:"usage_id"`
	CreatedAt    time.Time       `json:"created_at"`
	SkuCode      *string         `json:"sku_code"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	RunningUsed  decimal.Decimal `json:"running_used"`
}

func getMaterialLedgerRows(ctx context.Context, materialId int) ([]*MaterialLedgerRow, error) {

	sql := `
SELECT
    material_usages.id AS usage_id,
    material_usages.created_at,
    product_skus.sku_code,
    material_usages.qty,
    material_usages.unit_cost,
    material_usages.total_cost
FROM
    material_usages
    LEFT JOIN product_skus ON product_skus.id = material_usages.consumer_id
WHERE
    material_usages.material_id = ?
ORDER BY
    material_usages.id ASC;
`

	var rows []*MaterialLedgerRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, materialId).Scan(&rows).Error; err != nil {
		return nil, err
	}

	running := decimal.Zero
	for _, row := range rows {
		running = running.Add(row.Qty)
		row.RunningUsed = running
	}
	return rows, nil
}

// BuildMaterialLedgerWorkbook renders one lot's full usage history as a
// spreadsheet: every signed entry plus a running net-used column, with the
// lot's summary on top.
func BuildMaterialLedgerWorkbook(ctx context.Context, materialId int) (*excelize.File, error) {

	view, err := models.GetMaterial(ctx, materialId)
	if err != nil {
		return nil, err
	}
	rows, err := getMaterialLedgerRows(ctx, materialId)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}

	f.SetCellValue(sheet, "A1", "LotCode")
	f.SetCellValue(sheet, "B1", view.LotCode)
	f.SetCellValue(sheet, "A2", "Unit")
	f.SetCellValue(sheet, "B2", string(view.Unit))
	f.SetCellValue(sheet, "A3", "Original")
	f.SetCellValue(sheet, "B3", view.OriginalQuantity.String())
	f.SetCellValue(sheet, "A4", "Used")
	f.SetCellValue(sheet, "B4", view.UsedQuantity.String())
	f.SetCellValue(sheet, "A5", "Remaining")
	f.SetCellValue(sheet, "B5", view.RemainingQuantity.String())

	headerRow := 7
	f.SetCellValue(sheet, fmt.Sprintf("A%d", headerRow), "Date")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", headerRow), "Sku")
	f.SetCellValue(sheet, fmt.Sprintf("C%d", headerRow), "Qty")
	f.SetCellValue(sheet, fmt.Sprintf("D%d", headerRow), "UnitCost")
	f.SetCellValue(sheet, fmt.Sprintf("E%d", headerRow), "TotalCost")
	f.SetCellValue(sheet, fmt.Sprintf("F%d", headerRow), "RunningUsed")

	for i, row := range rows {
		n := headerRow + 1 + i
		skuCode := ""
		if row.SkuCode != nil {
			skuCode = *row.SkuCode
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", n), row.CreatedAt.Format("2006-01-02 15:04"))
		f.SetCellValue(sheet, fmt.Sprintf("B%d", n), skuCode)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", n), row.Qty.String())
		f.SetCellValue(sheet, fmt.Sprintf("D%d", n), row.UnitCost.String())
		f.SetCellValue(sheet, fmt.Sprintf("E%d", n), row.TotalCost.String())
		f.SetCellValue(sheet, fmt.Sprintf("F%d", n), row.RunningUsed.String())
	}

	return f, nil
}
