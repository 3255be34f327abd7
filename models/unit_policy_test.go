package models_test

import (
	"errors"
	"testing"

	"github.com/padaukcraft/beads_backend/models"
	"github.com/shopspring/decimal"
)

func TestAuthoritativeQuantity_PerCategory(t *testing.T) {
	cases := []struct {
		name     string
		purchase models.Purchase
		wantQty  string
		wantUnit models.MeasureUnit
	}{
		{
			name: "loose beads use piece count",
			purchase: models.Purchase{
				LotCode:    "LB-1",
				Category:   models.MaterialCategoryLooseBeads,
				PieceCount: decimal.NewFromInt(500),
			},
			wantQty:  "500",
			wantUnit: models.MeasureUnitPieces,
		},
		{
			name: "bracelet uses total sub units",
			purchase: models.Purchase{
				LotCode:       "BR-1",
				Category:      models.MaterialCategoryBracelet,
				PieceCount:    decimal.NewFromInt(10),
				TotalSubUnits: decimal.NewFromInt(220),
			},
			wantQty:  "220",
			wantUnit: models.MeasureUnitBeads,
		},
		{
			name: "bracelet falls back to piece count",
			purchase: models.Purchase{
				LotCode:    "BR-2",
				Category:   models.MaterialCategoryBracelet,
				PieceCount: decimal.NewFromInt(10),
			},
			wantQty:  "10",
			wantUnit: models.MeasureUnitBeads,
		},
		{
			name: "accessory uses piece count as slices",
			purchase: models.Purchase{
				LotCode:    "AC-1",
				Category:   models.MaterialCategoryAccessory,
				PieceCount: decimal.NewFromInt(36),
			},
			wantQty:  "36",
			wantUnit: models.MeasureUnitSlices,
		},
		{
			name: "finished good uses piece count as items",
			purchase: models.Purchase{
				LotCode:    "FG-1",
				Category:   models.MaterialCategoryFinishedGood,
				PieceCount: decimal.NewFromInt(4),
			},
			wantQty:  "4",
			wantUnit: models.MeasureUnitItems,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			qty, unit, err := models.AuthoritativeQuantity(&tc.purchase)
			if err != nil {
				t.Fatalf("AuthoritativeQuantity: %v", err)
			}
			if qty.String() != tc.wantQty {
				t.Fatalf("qty = %s, want %s", qty, tc.wantQty)
			}
			if unit != tc.wantUnit {
				t.Fatalf("unit = %s, want %s", unit, tc.wantUnit)
			}
		})
	}
}

func TestAuthoritativeQuantity_MissingQuantity(t *testing.T) {
	cases := []struct {
		name     string
		purchase models.Purchase
	}{
		{
			name: "loose beads with zero piece count",
			purchase: models.Purchase{
				LotCode:  "LB-EMPTY",
				Category: models.MaterialCategoryLooseBeads,
			},
		},
		{
			name: "bracelet with neither quantity",
			purchase: models.Purchase{
				LotCode:  "BR-EMPTY",
				Category: models.MaterialCategoryBracelet,
			},
		},
		{
			name: "accessory with zero piece count",
			purchase: models.Purchase{
				LotCode:  "AC-EMPTY",
				Category: models.MaterialCategoryAccessory,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := models.AuthoritativeQuantity(&tc.purchase)
			if !errors.Is(err, models.ErrMissingQuantity) {
				t.Fatalf("err = %v, want ErrMissingQuantity", err)
			}
		})
	}
}

func TestSumUsage_SignedAlgebra(t *testing.T) {
	d := func(s string) decimal.Decimal {
		v, err := decimal.NewFromString(s)
		if err != nil {
			t.Fatalf("bad decimal %q", s)
		}
		return v
	}

	// Four crafts of 22 beads, then two returned on destroy.
	entries := []decimal.Decimal{d("22"), d("22"), d("22"), d("22"), d("-44")}
	if got := models.SumUsage(entries); got.String() != "44" {
		t.Fatalf("net used = %s, want 44", got)
	}

	if got := models.SumUsage(nil); !got.IsZero() {
		t.Fatalf("empty ledger sums to %s, want 0", got)
	}

	// Returns never aggregate separately from consumes.
	mixed := []decimal.Decimal{d("10.5"), d("-3.25"), d("7"), d("-14.25")}
	if got := models.SumUsage(mixed); got.String() != "0" {
		t.Fatalf("net used = %s, want 0", got)
	}
}
