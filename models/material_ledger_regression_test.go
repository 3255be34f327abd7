package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/padaukcraft/beads_backend/utils"
	"github.com/shopspring/decimal"
)

func setupLedgerTest(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "beads_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	return ctx
}

func mustCreateBraceletLot(t *testing.T, ctx context.Context, lotCode string, pieces, beads, price int64) *models.Purchase {
	t.Helper()
	purchase, err := models.CreatePurchase(ctx, &models.NewPurchase{
		LotCode:       lotCode,
		SupplierName:  "Mandalay Gems",
		Category:      models.MaterialCategoryBracelet,
		PieceCount:    decimal.NewFromInt(pieces),
		TotalSubUnits: decimal.NewFromInt(beads),
		TotalPrice:    decimal.NewFromInt(price),
	})
	if err != nil {
		t.Fatalf("CreatePurchase(%s): %v", lotCode, err)
	}
	return purchase
}

func mustCreateLooseLot(t *testing.T, ctx context.Context, lotCode string, pieces, price int64) *models.Purchase {
	t.Helper()
	purchase, err := models.CreatePurchase(ctx, &models.NewPurchase{
		LotCode:      lotCode,
		SupplierName: "Yangon Beads",
		Category:     models.MaterialCategoryLooseBeads,
		PieceCount:   decimal.NewFromInt(pieces),
		TotalPrice:   decimal.NewFromInt(price),
	})
	if err != nil {
		t.Fatalf("CreatePurchase(%s): %v", lotCode, err)
	}
	return purchase
}

func fetchMaterial(t *testing.T, ctx context.Context, materialId int) *models.Material {
	t.Helper()
	material, err := utils.FetchModel[models.Material](ctx, materialId)
	if err != nil {
		t.Fatalf("fetch material %d: %v", materialId, err)
	}
	return material
}

func fetchPurchase(t *testing.T, ctx context.Context, purchaseId int) *models.Purchase {
	t.Helper()
	purchase, err := utils.FetchModel[models.Purchase](ctx, purchaseId)
	if err != nil {
		t.Fatalf("fetch purchase %d: %v", purchaseId, err)
	}
	return purchase
}

// A purchase must project exactly one material row with remaining == original
// and unit cost derived from the authoritative quantity.
func TestCreatePurchase_ProjectsMaterial(t *testing.T) {
	ctx := setupLedgerTest(t)

	purchase := mustCreateBraceletLot(t, ctx, "BR-2024-001", 10, 220, 110000)
	if purchase.Material == nil {
		t.Fatalf("expected material projection")
	}
	m := purchase.Material
	if m.Unit != models.MeasureUnitBeads {
		t.Fatalf("unit = %s, want beads", m.Unit)
	}
	if m.OriginalQuantity.String() != "220" {
		t.Fatalf("original = %s, want 220", m.OriginalQuantity)
	}
	if !m.RemainingQuantity.Equal(m.OriginalQuantity) {
		t.Fatalf("remaining = %s, want %s", m.RemainingQuantity, m.OriginalQuantity)
	}
	if m.UnitCost.String() != "500" {
		t.Fatalf("unit cost = %s, want 500", m.UnitCost)
	}
}

// A multi-lot craft consumes every recipe line or nothing: when the last lot
// is short, earlier lots must be untouched.
func TestCraftSku_AtomicAcrossLots(t *testing.T) {
	ctx := setupLedgerTest(t)

	rich := mustCreateLooseLot(t, ctx, "LB-RICH", 1000, 50000)
	poor := mustCreateLooseLot(t, ctx, "LB-POOR", 5, 1000)

	_, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "NK-001",
		Name:    "Jade Necklace",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: rich.Material.ID, QuantityPerUnit: decimal.NewFromInt(40)},
			{MaterialId: poor.Material.ID, QuantityPerUnit: decimal.NewFromInt(10)},
		},
		UnitCount: decimal.NewFromInt(1),
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	richAfter := fetchMaterial(t, ctx, rich.Material.ID)
	if !richAfter.RemainingQuantity.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("rich lot remaining = %s after failed craft, want 1000", richAfter.RemainingQuantity)
	}
	if !richAfter.UsedQuantity.IsZero() {
		t.Fatalf("rich lot used = %s after failed craft, want 0", richAfter.UsedQuantity)
	}
}

// Crafting, destroying with returns, and the conservation invariant
// original == remaining + net(ledger) across the whole sequence.
func TestCraftAndDestroy_Conservation(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateBraceletLot(t, ctx, "BR-CONSV", 10, 220, 110000)
	materialId := lot.Material.ID

	sku, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "BR-SKU-1",
		Name:    "22-bead bracelet",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: materialId, QuantityPerUnit: decimal.NewFromInt(22)},
		},
		UnitCount: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	// Three more crafts into the same SKU.
	for i := 0; i < 3; i++ {
		if _, err := models.CraftSku(ctx, &models.CraftSkuInput{
			SkuId:     sku.ID,
			UnitCount: decimal.NewFromInt(1),
		}); err != nil {
			t.Fatalf("repeat craft %d: %v", i, err)
		}
	}

	m := fetchMaterial(t, ctx, materialId)
	if m.UsedQuantity.String() != "88" {
		t.Fatalf("used = %s after four crafts, want 88", m.UsedQuantity)
	}
	if m.RemainingQuantity.String() != "132" {
		t.Fatalf("remaining = %s, want 132", m.RemainingQuantity)
	}

	// Destroy two units, returning this lot's share to stock.
	skuAfter, err := models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count:             decimal.NewFromInt(2),
		Reason:            "broken clasp",
		ReturnToStock:     true,
		SelectedMaterials: []int{materialId},
	})
	if err != nil {
		t.Fatalf("DestroySku: %v", err)
	}
	if skuAfter.AvailableQuantity.String() != "2" {
		t.Fatalf("sku available = %s, want 2", skuAfter.AvailableQuantity)
	}

	m = fetchMaterial(t, ctx, materialId)
	if m.UsedQuantity.String() != "44" {
		t.Fatalf("used = %s after returns, want 44", m.UsedQuantity)
	}
	if m.RemainingQuantity.String() != "176" {
		t.Fatalf("remaining = %s, want 176", m.RemainingQuantity)
	}

	// Conservation: original == remaining + sum(ledger).
	db := config.GetDB()
	entries, err := models.LedgerEntries(db.WithContext(ctx), materialId)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	quantities := make([]decimal.Decimal, 0, len(entries))
	for _, e := range entries {
		quantities = append(quantities, e.Qty)
	}
	net := models.SumUsage(quantities)
	if !m.OriginalQuantity.Equal(m.RemainingQuantity.Add(net)) {
		t.Fatalf("conservation broken: original %s != remaining %s + net %s",
			m.OriginalQuantity, m.RemainingQuantity, net)
	}
}

// A return with no material selection credits every recipe lot.
func TestDestroySku_ReturnDefaultsToAllLots(t *testing.T) {
	ctx := setupLedgerTest(t)

	beads := mustCreateLooseLot(t, ctx, "LB-ALL-1", 200, 20000)
	clasps := mustCreateLooseLot(t, ctx, "LB-ALL-2", 50, 25000)

	sku, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "AN-001",
		Name:    "Anklet",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: beads.Material.ID, QuantityPerUnit: decimal.NewFromInt(20)},
			{MaterialId: clasps.Material.ID, QuantityPerUnit: decimal.NewFromInt(2)},
		},
		UnitCount: decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	skuAfter, err := models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count:         decimal.NewFromInt(2),
		Reason:        "warped cord",
		ReturnToStock: true,
	})
	if err != nil {
		t.Fatalf("DestroySku: %v", err)
	}
	if skuAfter.AvailableQuantity.String() != "1" {
		t.Fatalf("sku available = %s, want 1", skuAfter.AvailableQuantity)
	}

	b := fetchMaterial(t, ctx, beads.Material.ID)
	if b.UsedQuantity.String() != "20" || b.RemainingQuantity.String() != "180" {
		t.Fatalf("bead lot = used %s / remaining %s, want 20 / 180",
			b.UsedQuantity, b.RemainingQuantity)
	}
	c := fetchMaterial(t, ctx, clasps.Material.ID)
	if c.UsedQuantity.String() != "2" || c.RemainingQuantity.String() != "48" {
		t.Fatalf("clasp lot = used %s / remaining %s, want 2 / 48",
			c.UsedQuantity, c.RemainingQuantity)
	}

	// Both lots got a return row, not just a projection update.
	db := config.GetDB()
	for _, materialId := range []int{beads.Material.ID, clasps.Material.ID} {
		entries, err := models.LedgerEntries(db.WithContext(ctx), materialId)
		if err != nil {
			t.Fatalf("LedgerEntries(%d): %v", materialId, err)
		}
		var returns int
		for _, e := range entries {
			if e.Qty.IsNegative() {
				returns++
			}
		}
		if returns != 1 {
			t.Fatalf("material %d has %d return rows, want 1", materialId, returns)
		}
	}
}

// Destroying more units than the SKU has must fail and change nothing.
func TestDestroySku_InsufficientStock(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateLooseLot(t, ctx, "LB-DST", 100, 10000)
	sku, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "ER-001",
		Name:    "Earring",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: lot.Material.ID, QuantityPerUnit: decimal.NewFromInt(4)},
		},
		UnitCount: decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	_, err = models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count: decimal.NewFromInt(5),
	})
	if !errors.Is(err, models.ErrInsufficientSkuStock) {
		t.Fatalf("err = %v, want ErrInsufficientSkuStock", err)
	}

	m := fetchMaterial(t, ctx, lot.Material.ID)
	if m.UsedQuantity.String() != "12" {
		t.Fatalf("used = %s after rejected destroy, want 12", m.UsedQuantity)
	}
}

// A return above the consumer's net consumption is rejected even when done
// through repeated destroys.
func TestDestroySku_OverReturn(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateLooseLot(t, ctx, "LB-OVR", 100, 10000)
	sku, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "RG-001",
		Name:    "Ring",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: lot.Material.ID, QuantityPerUnit: decimal.NewFromInt(6)},
		},
		UnitCount: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	// Return both units' materials.
	if _, err := models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count:             decimal.NewFromInt(2),
		ReturnToStock:     true,
		SelectedMaterials: []int{lot.Material.ID},
	}); err != nil {
		t.Fatalf("first destroy: %v", err)
	}

	// Craft one more, then try to return two units' worth.
	if _, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuId:     sku.ID,
		UnitCount: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("recraft: %v", err)
	}
	_, err = models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count:             decimal.NewFromInt(1),
		ReturnToStock:     true,
		SelectedMaterials: []int{lot.Material.ID},
	})
	if err != nil {
		// One unit's return is within net consumption; this should pass.
		t.Fatalf("sane return rejected: %v", err)
	}

	// Net consumed is now zero; any further return must fail.
	db := config.GetDB()
	tx := db.Begin()
	_, err = models.AppendUsage(tx.WithContext(ctx), lot.Material.ID, sku.ID, decimal.NewFromInt(-6), decimal.NewFromInt(100), 1)
	tx.Rollback()
	if !errors.Is(err, models.ErrOverReturn) {
		t.Fatalf("err = %v, want ErrOverReturn", err)
	}
}

// Draining a lot flips it to Used; restoring the full original flips it back
// to Active. Partial restoration must not change status.
func TestPurchaseStatus_Lifecycle(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateLooseLot(t, ctx, "LB-LIFE", 8, 8000)
	materialId := lot.Material.ID

	sku, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "PD-001",
		Name:    "Pendant",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: materialId, QuantityPerUnit: decimal.NewFromInt(4)},
		},
		UnitCount: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	if p := fetchPurchase(t, ctx, lot.ID); p.Status != models.PurchaseStatusUsed {
		t.Fatalf("status = %s after drain, want Used", p.Status)
	}

	// Partial return: 1 of 2 units. Status must stay Used.
	if _, err := models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count:             decimal.NewFromInt(1),
		ReturnToStock:     true,
		SelectedMaterials: []int{materialId},
	}); err != nil {
		t.Fatalf("partial destroy: %v", err)
	}
	if p := fetchPurchase(t, ctx, lot.ID); p.Status != models.PurchaseStatusUsed {
		t.Fatalf("status = %s after partial return, want Used", p.Status)
	}

	// Full return: remaining == original again, flips back to Active.
	if _, err := models.DestroySku(ctx, sku.ID, &models.DestroySkuInput{
		Count:             decimal.NewFromInt(1),
		ReturnToStock:     true,
		SelectedMaterials: []int{materialId},
	}); err != nil {
		t.Fatalf("full destroy: %v", err)
	}
	if p := fetchPurchase(t, ctx, lot.ID); p.Status != models.PurchaseStatusActive {
		t.Fatalf("status = %s after full return, want Active", p.Status)
	}
}

// Editing a purchase re-derives the projection without resetting usage, and
// refuses a category change that would switch the counting unit over
// recorded usage.
func TestUpdatePurchase_ReDerivesAndGuardsUnit(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateLooseLot(t, ctx, "LB-EDIT", 100, 10000)
	materialId := lot.Material.ID

	if _, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "BM-001",
		Name:    "Bookmark",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: materialId, QuantityPerUnit: decimal.NewFromInt(30)},
		},
		UnitCount: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	newCount := decimal.NewFromInt(120)
	updated, err := models.UpdatePurchase(ctx, lot.ID, &models.PurchaseEdit{
		PieceCount: &newCount,
	})
	if err != nil {
		t.Fatalf("UpdatePurchase: %v", err)
	}
	if updated.Material.UsedQuantity.String() != "30" {
		t.Fatalf("used = %s after edit, want 30 (usage never reset)", updated.Material.UsedQuantity)
	}
	if updated.Material.RemainingQuantity.String() != "90" {
		t.Fatalf("remaining = %s after edit, want 90", updated.Material.RemainingQuantity)
	}

	// Switching to a category with a different counting unit over usage fails.
	accessory := models.MaterialCategoryAccessory
	_, err = models.UpdatePurchase(ctx, lot.ID, &models.PurchaseEdit{
		Category: &accessory,
	})
	if !errors.Is(err, models.ErrIncompatibleUnitChange) {
		t.Fatalf("err = %v, want ErrIncompatibleUnitChange", err)
	}
}

// The reconciler must repair drifted stored values from the ledger, and a
// second run on healthy data must be a no-op.
func TestReconcileMaterial_RepairsDriftIdempotently(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateLooseLot(t, ctx, "LB-RECON", 100, 10000)
	materialId := lot.Material.ID

	if _, err := models.CraftSku(ctx, &models.CraftSkuInput{
		SkuCode: "CH-001",
		Name:    "Charm",
		RecipeLines: []models.NewRecipeLine{
			{MaterialId: materialId, QuantityPerUnit: decimal.NewFromInt(25)},
		},
		UnitCount: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("CraftSku: %v", err)
	}

	// Corrupt the cached projection directly.
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&models.Material{}).Where("id = ?", materialId).
		Updates(map[string]any{"used_quantity": 999, "remaining_quantity": -899}).Error; err != nil {
		t.Fatalf("corrupt projection: %v", err)
	}

	result, err := models.ReconcileMaterial(ctx, materialId)
	if err != nil {
		t.Fatalf("ReconcileMaterial: %v", err)
	}
	if !result.Drifted {
		t.Fatalf("expected drift to be detected")
	}

	m := fetchMaterial(t, ctx, materialId)
	if m.UsedQuantity.String() != "25" || m.RemainingQuantity.String() != "75" {
		t.Fatalf("repaired projection = used %s / remaining %s, want 25 / 75",
			m.UsedQuantity, m.RemainingQuantity)
	}

	again, err := models.ReconcileMaterial(ctx, materialId)
	if err != nil {
		t.Fatalf("second ReconcileMaterial: %v", err)
	}
	if again.Drifted || len(again.Corrections) != 0 {
		t.Fatalf("second run reported drift on healthy data: %+v", again)
	}
}

// ReconcileAll must rebuild a projection for a live purchase whose material
// row vanished.
func TestReconcileAll_HealsMissingProjection(t *testing.T) {
	ctx := setupLedgerTest(t)

	lot := mustCreateLooseLot(t, ctx, "LB-ORPHAN", 40, 4000)
	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&models.Material{}, lot.Material.ID).Error; err != nil {
		t.Fatalf("delete projection: %v", err)
	}

	if _, err := models.GetMaterialForPurchase(ctx, lot.ID); !errors.Is(err, models.ErrMissingProjection) {
		t.Fatalf("err = %v, want ErrMissingProjection", err)
	}

	summary, err := models.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if summary.ProjectionsAdded != 1 {
		t.Fatalf("projections added = %d, want 1", summary.ProjectionsAdded)
	}

	view, err := models.GetMaterialForPurchase(ctx, lot.ID)
	if err != nil {
		t.Fatalf("GetMaterialForPurchase after heal: %v", err)
	}
	if view.OriginalQuantity.String() != "40" {
		t.Fatalf("rebuilt original = %s, want 40", view.OriginalQuantity)
	}
}

// A client key pinned to a FAILED attempt must be claimable again, while a
// SUCCEEDED key keeps replaying its recorded outcome.
func TestIdempotencyKey_FailedKeyReclaim(t *testing.T) {
	ctx := setupLedgerTest(t)
	db := config.GetDB().WithContext(ctx)

	key, err := models.ClaimIdempotencyKey(db, "CraftSku", "client-key-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := key.MarkFailed(db, errors.New("lost db connection")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	retried, err := models.ClaimIdempotencyKey(db, "CraftSku", "client-key-1")
	if err != nil {
		t.Fatalf("retry claim after failure: %v", err)
	}
	if retried.Status != models.IdempotencyStatusStarted {
		t.Fatalf("status = %s after re-claim, want %s", retried.Status, models.IdempotencyStatusStarted)
	}
	if err := retried.MarkSucceeded(db, 42); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	replayed, err := models.ClaimIdempotencyKey(db, "CraftSku", "client-key-1")
	if !errors.Is(err, models.ErrDuplicateRequest) {
		t.Fatalf("err = %v after success, want ErrDuplicateRequest", err)
	}
	if replayed == nil || replayed.Status != models.IdempotencyStatusSucceeded || replayed.ResultId == nil || *replayed.ResultId != 42 {
		t.Fatalf("replayed key = %+v, want SUCCEEDED with result 42", replayed)
	}
}

// A purchase whose lot code collides must be rejected before any row lands.
func TestCreatePurchase_DuplicateLotCode(t *testing.T) {
	ctx := setupLedgerTest(t)

	mustCreateLooseLot(t, ctx, "LB-DUP", 10, 1000)
	_, err := models.CreatePurchase(ctx, &models.NewPurchase{
		LotCode:    "LB-DUP",
		Category:   models.MaterialCategoryLooseBeads,
		PieceCount: decimal.NewFromInt(10),
		TotalPrice: decimal.NewFromInt(1000),
	})
	if err == nil {
		t.Fatalf("expected duplicate lot code to be rejected")
	}
}

// Missing authoritative quantity is rejected at the boundary, never defaulted.
func TestCreatePurchase_MissingQuantity(t *testing.T) {
	ctx := setupLedgerTest(t)

	_, err := models.CreatePurchase(ctx, &models.NewPurchase{
		LotCode:    "LB-NOQTY",
		Category:   models.MaterialCategoryLooseBeads,
		TotalPrice: decimal.NewFromInt(1000),
	})
	if !errors.Is(err, models.ErrMissingQuantity) {
		t.Fatalf("err = %v, want ErrMissingQuantity", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("beads-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("beads-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=beads_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
