package workflow

import (
	"testing"

	"github.com/padaukcraft/beads_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They pin the legacy piece
// conversion semantics; the write path is covered by the migration CLI run
// against a real MySQL.

func braceletMaterial(pieces, beads int64) *models.Material {
	return &models.Material{
		Unit: models.MeasureUnitBeads,
		Purchase: &models.Purchase{
			LotCode:       "BR-TEST",
			Category:      models.MaterialCategoryBracelet,
			PieceCount:    decimal.NewFromInt(pieces),
			TotalSubUnits: decimal.NewFromInt(beads),
		},
	}
}

func TestSubUnitsPerPiece_BraceletUsesBeadRatio(t *testing.T) {
	factor, err := subUnitsPerPiece(braceletMaterial(10, 220))
	if err != nil {
		t.Fatalf("subUnitsPerPiece: %v", err)
	}
	if factor.String() != "22" {
		t.Fatalf("factor = %s, want 22", factor)
	}
}

func TestSubUnitsPerPiece_BraceletFallbackIsOneToOne(t *testing.T) {
	// No sub-unit count recorded: the lot was projected from piece count, so
	// legacy piece returns convert 1:1.
	factor, err := subUnitsPerPiece(braceletMaterial(10, 0))
	if err != nil {
		t.Fatalf("subUnitsPerPiece: %v", err)
	}
	if factor.String() != "1" {
		t.Fatalf("factor = %s, want 1", factor)
	}
}

func TestSubUnitsPerPiece_RejectsMissingPieceCount(t *testing.T) {
	if _, err := subUnitsPerPiece(braceletMaterial(0, 220)); err == nil {
		t.Fatalf("expected error for sub-units without piece count")
	}
}

func TestSubUnitsPerPiece_PieceCountedLots(t *testing.T) {
	material := &models.Material{
		Unit: models.MeasureUnitSlices,
		Purchase: &models.Purchase{
			LotCode:    "AC-TEST",
			Category:   models.MaterialCategoryAccessory,
			PieceCount: decimal.NewFromInt(36),
		},
	}
	factor, err := subUnitsPerPiece(material)
	if err != nil {
		t.Fatalf("subUnitsPerPiece: %v", err)
	}
	if factor.String() != "1" {
		t.Fatalf("factor = %s, want 1", factor)
	}
}
