package market_test

import (
	"context"
	"errors"
	"testing"

	"github.com/phantom/maskmarket/market"
)

// =============================================================================
// STOCK ADJUSTMENT
// =============================================================================

func TestAdjustStock_IncreaseAndDecrease(t *testing.T) {
	f := newFixture()
	inv := market.NewInventory(f.store)
	ctx := context.Background()

	mask, err := inv.AdjustStock(ctx, f.maskA1.ID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask.StockQuantity != 15 {
		t.Errorf("expected stock 15, got %d", mask.StockQuantity)
	}

	mask, err = inv.AdjustStock(ctx, f.maskA1.ID, -15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask.StockQuantity != 0 {
		t.Errorf("expected stock 0, got %d", mask.StockQuantity)
	}
}

func TestAdjustStock_BelowZero_Rejected(t *testing.T) {
	// GIVEN: Mask with stock 5
	// WHEN: Adjusting by -6
	// THEN: InsufficientStock and the stock is unchanged

	f := newFixture()
	inv := market.NewInventory(f.store)

	_, err := inv.AdjustStock(context.Background(), f.maskA1.ID, -6)
	if !errors.Is(err, market.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *market.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 5 || stockErr.Requested != 6 {
		t.Errorf("expected available 5 requested 6, got %d/%d", stockErr.Available, stockErr.Requested)
	}

	if got := mustGetMask(t, f.store, f.maskA1.ID).StockQuantity; got != 5 {
		t.Errorf("stock changed to %d", got)
	}
}

func TestAdjustStock_UnknownMask_NotFound(t *testing.T) {
	f := newFixture()
	inv := market.NewInventory(f.store)

	_, err := inv.AdjustStock(context.Background(), 9999, 1)
	if !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// =============================================================================
// BATCH CATALOG UPSERT
// =============================================================================

func TestBatchUpsert_CreatesAndOverwrites(t *testing.T) {
	// GIVEN: Pharmacy A already sells maskA1 at 13.70 with stock 5
	// WHEN: Upserting maskA1 with a new price plus one brand-new mask
	// THEN: The existing entry is overwritten in place (same ID) and the
	//       new one is created

	f := newFixture()
	inv := market.NewInventory(f.store)
	ctx := context.Background()

	masks, err := inv.BatchUpsertMasks(ctx, f.pharmA.ID, []market.MaskInput{
		{Name: f.maskA1.Name, Price: market.MustMoney("15.00"), StockQuantity: 30},
		{Name: "Cotton Kiss (blue) (6 per pack)", Price: market.MustMoney("9.99"), StockQuantity: 12},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(masks) != 2 {
		t.Fatalf("expected 2 masks back, got %d", len(masks))
	}

	if masks[0].ID != f.maskA1.ID {
		t.Errorf("overwrite changed the mask ID: %d -> %d", f.maskA1.ID, masks[0].ID)
	}
	if !masks[0].Price.Equal(market.MustMoney("15.00")) || masks[0].StockQuantity != 30 {
		t.Errorf("overwrite not applied: %s / %d", masks[0].Price, masks[0].StockQuantity)
	}
	if masks[1].ID == 0 {
		t.Error("new mask was not assigned an ID")
	}
	if masks[1].PharmacyID != f.pharmA.ID {
		t.Errorf("new mask attached to pharmacy %d", masks[1].PharmacyID)
	}
}

func TestBatchUpsert_SameNameDifferentPharmacy_Coexists(t *testing.T) {
	// Name uniqueness is scoped per pharmacy.
	f := newFixture()
	inv := market.NewInventory(f.store)
	ctx := context.Background()

	masks, err := inv.BatchUpsertMasks(ctx, f.pharmB.ID, []market.MaskInput{
		{Name: f.maskA1.Name, Price: market.MustMoney("14.00"), StockQuantity: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if masks[0].ID == f.maskA1.ID {
		t.Error("mask at pharmacy B should be a separate row")
	}
	if got := mustGetMask(t, f.store, f.maskA1.ID); !got.Price.Equal(market.MustMoney("13.70")) {
		t.Errorf("pharmacy A's mask was modified: %s", got.Price)
	}
}

func TestBatchUpsert_InvalidItems_AllIssuesReported(t *testing.T) {
	// GIVEN: A batch with an empty name, a zero price, and a negative stock
	// WHEN: Upserting
	// THEN: One ValidationError listing all three issues; nothing written

	f := newFixture()
	inv := market.NewInventory(f.store)
	ctx := context.Background()

	_, err := inv.BatchUpsertMasks(ctx, f.pharmA.ID, []market.MaskInput{
		{Name: "", Price: market.MustMoney("5.00"), StockQuantity: 1},
		{Name: "ok", Price: market.MustMoney("0"), StockQuantity: 1},
		{Name: "ok too", Price: market.MustMoney("5.00"), StockQuantity: -1},
	})
	if !errors.Is(err, market.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var verr *market.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Issues) != 3 {
		t.Fatalf("expected 3 issues, got %d: %v", len(verr.Issues), verr.Issues)
	}
	if verr.Issues[1].Line != 1 || verr.Issues[1].Field != "price" {
		t.Errorf("unexpected second issue: %+v", verr.Issues[1])
	}

	masks, _ := f.store.ListMasks(ctx, f.pharmA.ID, market.MaskSort{})
	if len(masks) != 2 {
		t.Errorf("catalog changed on a rejected batch: %d masks", len(masks))
	}
}

func TestBatchUpsert_UnknownPharmacy_NotFound(t *testing.T) {
	f := newFixture()
	inv := market.NewInventory(f.store)

	_, err := inv.BatchUpsertMasks(context.Background(), 9999, []market.MaskInput{
		{Name: "x", Price: market.MustMoney("1.00"), StockQuantity: 1},
	})
	if !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
