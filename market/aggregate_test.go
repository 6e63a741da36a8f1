package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phantom/maskmarket/market"
	"github.com/phantom/maskmarket/market/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func seedSpending(t *testing.T, m *store.Memory) (alice, bob, carol market.User) {
	t.Helper()
	ctx := context.Background()

	alice = m.AddUser(market.User{Name: "Alice", CashBalance: market.MustMoney("100")})
	bob = m.AddUser(market.User{Name: "Bob", CashBalance: market.MustMoney("100")})
	carol = m.AddUser(market.User{Name: "Carol", CashBalance: market.MustMoney("100")})

	pharmacy := m.AddPharmacy(market.Pharmacy{Name: "Carepoint", CashBalance: market.MustMoney("0")})
	mask := m.AddMask(market.Mask{
		PharmacyID: pharmacy.ID, Name: "Second Smile (black) (3 per pack)",
		Price: market.MustMoney("10.00"), StockQuantity: 100,
	})

	day := func(d int) time.Time {
		return time.Date(2021, time.January, d, 12, 0, 0, 0, time.UTC)
	}
	spend := func(u market.UserID, total string, qty, onDay int) market.Transaction {
		return market.Transaction{
			PurchaseID: "p", UserID: u, PharmacyID: pharmacy.ID, MaskID: mask.ID,
			Quantity: qty, UnitPrice: market.MustMoney("10.00"),
			Total: market.MustMoney(total), OccurredAt: day(onDay),
		}
	}

	err := m.AppendTransactions(ctx, []market.Transaction{
		spend(alice.ID, "30.00", 3, 5),
		spend(alice.ID, "20.00", 2, 10),
		spend(bob.ID, "45.00", 4, 10),
		spend(carol.ID, "5.00", 1, 20),  // outside the usual query range
		spend(carol.ID, "50.00", 5, 31), // boundary day
	})
	if err != nil {
		t.Fatalf("seed transactions: %v", err)
	}
	return alice, bob, carol
}

// =============================================================================
// TOP SPENDERS
// =============================================================================

func TestTopSpenders_RanksByTotalWithinRange(t *testing.T) {
	// GIVEN: Alice spent 50 over two purchases, Bob 45, Carol 5 in range
	// WHEN: Ranking Jan 1-15
	// THEN: Alice then Bob, Carol excluded, totals summed per user

	m := store.NewMemory()
	alice, bob, _ := seedSpending(t, m)
	agg := market.NewAggregator(m)

	spends, err := agg.TopSpenders(context.Background(),
		time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, time.January, 15, 23, 59, 59, 0, time.UTC), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spends) != 2 {
		t.Fatalf("expected 2 spenders, got %d", len(spends))
	}

	if spends[0].User.ID != alice.ID || !spends[0].TotalSpent.Equal(market.MustMoney("50.00")) {
		t.Errorf("expected Alice with 50.00 first, got user %d with %s", spends[0].User.ID, spends[0].TotalSpent)
	}
	if spends[0].Transactions != 2 || spends[0].Items != 5 {
		t.Errorf("expected Alice 2 transactions / 5 items, got %d/%d", spends[0].Transactions, spends[0].Items)
	}
	if spends[1].User.ID != bob.ID {
		t.Errorf("expected Bob second, got user %d", spends[1].User.ID)
	}
}

func TestTopSpenders_RangeIsInclusive(t *testing.T) {
	// Carol's Jan 31 purchase sits exactly on the end bound.
	m := store.NewMemory()
	_, _, carol := seedSpending(t, m)
	agg := market.NewAggregator(m)

	spends, err := agg.TopSpenders(context.Background(),
		time.Date(2021, time.January, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2021, time.January, 31, 23, 59, 59, 0, time.UTC), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spends) != 1 || spends[0].User.ID != carol.ID {
		t.Fatalf("expected only Carol, got %d results", len(spends))
	}
	if !spends[0].TotalSpent.Equal(market.MustMoney("50.00")) {
		t.Errorf("expected 50.00, got %s", spends[0].TotalSpent)
	}
}

func TestTopSpenders_LimitTruncates(t *testing.T) {
	m := store.NewMemory()
	seedSpending(t, m)
	agg := market.NewAggregator(m)

	spends, err := agg.TopSpenders(context.Background(),
		time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, time.February, 1, 0, 0, 0, 0, time.UTC), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spends) != 1 {
		t.Errorf("expected 1 result, got %d", len(spends))
	}
}

func TestTopSpenders_InvalidInput(t *testing.T) {
	m := store.NewMemory()
	agg := market.NewAggregator(m)
	ctx := context.Background()

	start := time.Date(2021, time.January, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

	if _, err := agg.TopSpenders(ctx, start, end, 10); !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for reversed range, got %v", err)
	}
	if _, err := agg.TopSpenders(ctx, end, start, 0); !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for zero limit, got %v", err)
	}
}

// =============================================================================
// MASK COUNT THRESHOLDS
// =============================================================================

func seedCatalogs(m *store.Memory) (p1, p2, p3 market.Pharmacy) {
	p1 = m.AddPharmacy(market.Pharmacy{Name: "One", CashBalance: market.MustMoney("0")})
	p2 = m.AddPharmacy(market.Pharmacy{Name: "Two", CashBalance: market.MustMoney("0")})
	p3 = m.AddPharmacy(market.Pharmacy{Name: "Three", CashBalance: market.MustMoney("0")})

	add := func(p market.PharmacyID, name, price string) {
		m.AddMask(market.Mask{PharmacyID: p, Name: name, Price: market.MustMoney(price), StockQuantity: 1})
	}
	// In range [5, 20]: p1 has 1, p2 has 3, p3 has 0.
	add(p1.ID, "a", "5.00")
	add(p1.ID, "b", "25.00")
	add(p2.ID, "c", "5.00")
	add(p2.ID, "d", "12.00")
	add(p2.ID, "e", "20.00")
	add(p3.ID, "f", "4.99")
	return p1, p2, p3
}

func TestPharmaciesByMaskCount_Above(t *testing.T) {
	// GIVEN: In [5, 20], counts are p1=1, p2=3, p3=0
	// WHEN: Querying count strictly above 1
	// THEN: Only p2 matches; boundary prices 5.00 and 20.00 count

	m := store.NewMemory()
	_, p2, _ := seedCatalogs(m)
	agg := market.NewAggregator(m)

	got, err := agg.PharmaciesByMaskCount(context.Background(),
		market.MustMoney("5"), market.MustMoney("20"),
		market.Comparator{Kind: market.CompareAbove, Threshold: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Pharmacy.ID != p2.ID || got[0].Count != 3 {
		t.Fatalf("expected only p2 with count 3, got %+v", got)
	}
}

func TestPharmaciesByMaskCount_BelowIncludesZeroCount(t *testing.T) {
	// A pharmacy with no masks in range still has count 0 and matches
	// "below 1".
	m := store.NewMemory()
	p1, _, p3 := seedCatalogs(m)
	agg := market.NewAggregator(m)

	got, err := agg.PharmaciesByMaskCount(context.Background(),
		market.MustMoney("5"), market.MustMoney("20"),
		market.Comparator{Kind: market.CompareBelow, Threshold: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected p1 and p3, got %+v", got)
	}
	if got[0].Pharmacy.ID != p1.ID || got[1].Pharmacy.ID != p3.ID {
		t.Errorf("expected ordering by pharmacy ID, got %d then %d", got[0].Pharmacy.ID, got[1].Pharmacy.ID)
	}
	if got[1].Count != 0 {
		t.Errorf("expected p3 count 0, got %d", got[1].Count)
	}
}

func TestPharmaciesByMaskCount_BetweenInclusive(t *testing.T) {
	m := store.NewMemory()
	p1, p2, _ := seedCatalogs(m)
	agg := market.NewAggregator(m)

	got, err := agg.PharmaciesByMaskCount(context.Background(),
		market.MustMoney("5"), market.MustMoney("20"),
		market.Comparator{Kind: market.CompareBetween, Threshold: 1, Upper: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Pharmacy.ID != p1.ID || got[1].Pharmacy.ID != p2.ID {
		t.Fatalf("expected p1 and p2 (both ends inclusive), got %+v", got)
	}
}

func TestPharmaciesByMaskCount_InvalidInput(t *testing.T) {
	m := store.NewMemory()
	agg := market.NewAggregator(m)
	ctx := context.Background()

	_, err := agg.PharmaciesByMaskCount(ctx, market.MustMoney("10"), market.MustMoney("5"),
		market.Comparator{Kind: market.CompareAbove, Threshold: 0})
	if !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for reversed price range, got %v", err)
	}

	_, err = agg.PharmaciesByMaskCount(ctx, market.MustMoney("1"), market.MustMoney("5"),
		market.Comparator{Kind: "around", Threshold: 0})
	if !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for unknown comparator, got %v", err)
	}

	_, err = agg.PharmaciesByMaskCount(ctx, market.MustMoney("1"), market.MustMoney("5"),
		market.Comparator{Kind: market.CompareBetween, Threshold: 4, Upper: 2})
	if !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for reversed between bounds, got %v", err)
	}
}
