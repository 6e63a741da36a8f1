package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantom/maskmarket/market"
	"github.com/phantom/maskmarket/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPharmacy(t *testing.T, s *sqlite.Store, name, balance string) market.Pharmacy {
	t.Helper()
	hours, err := market.ParseWeeklyHours("Mon - Fri 08:00 - 18:00")
	require.NoError(t, err)

	p := &market.Pharmacy{Name: name, CashBalance: market.MustMoney(balance), Hours: hours}
	require.NoError(t, s.InsertPharmacy(context.Background(), p))
	return *p
}

func seedUser(t *testing.T, s *sqlite.Store, name, balance string) market.User {
	t.Helper()
	u := &market.User{Name: name, CashBalance: market.MustMoney(balance)}
	require.NoError(t, s.InsertUser(context.Background(), u))
	return *u
}

func seedMask(t *testing.T, s *sqlite.Store, pharmacyID market.PharmacyID, name, price string, stock int) market.Mask {
	t.Helper()
	m := &market.Mask{PharmacyID: pharmacyID, Name: name, Price: market.MustMoney(price), StockQuantity: stock}
	require.NoError(t, s.InsertMask(context.Background(), m))
	return *m
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_PharmacyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := seedPharmacy(t, s, "DFW Wellness", "328.41")
	require.NotZero(t, created.ID)

	got, err := s.GetPharmacy(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "DFW Wellness", got.Name)
	assert.True(t, got.CashBalance.Equal(market.MustMoney("328.41")),
		"balance survives the decimal round trip exactly, got %s", got.CashBalance)
	assert.True(t, got.Hours.OpenAt(time.Wednesday, 9*60))
	assert.False(t, got.Hours.OpenOn(time.Sunday))
}

func TestStore_GetMissing_ReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetPharmacy(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, p)

	u, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, u)

	m, err := s.GetMask(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestStore_GetMaskByName_ScopedToPharmacy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := seedPharmacy(t, s, "One", "0")
	p2 := seedPharmacy(t, s, "Two", "0")
	m1 := seedMask(t, s, p1.ID, "True Barrier", "13.70", 5)
	seedMask(t, s, p2.ID, "True Barrier", "9.00", 2)

	got, err := s.GetMaskByName(ctx, p1.ID, "True Barrier")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m1.ID, got.ID)
	assert.True(t, got.Price.Equal(market.MustMoney("13.70")))
}

// =============================================================================
// CONDITIONAL WRITES
// =============================================================================

func TestStore_AdjustStock_StopsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "0")
	m := seedMask(t, s, p.ID, "True Barrier", "13.70", 3)

	applied, err := s.AdjustStock(ctx, m.ID, -3)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.AdjustStock(ctx, m.ID, -1)
	require.NoError(t, err)
	assert.False(t, applied, "decrement below zero must not apply")

	got, err := s.GetMask(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)
}

func TestStore_DebitUser_StopsAtBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "Yvonne", "50.00")

	applied, err := s.DebitUser(ctx, u.ID, market.MustMoney("50.00"))
	require.NoError(t, err)
	assert.True(t, applied, "debit down to exactly zero is allowed")

	applied, err = s.DebitUser(ctx, u.ID, market.MustMoney("0.01"))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.IsZero(), "got %s", got.CashBalance)
}

func TestStore_CreditPharmacy_Accumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "10.10")
	require.NoError(t, s.CreditPharmacy(ctx, p.ID, market.MustMoney("0.90")))
	require.NoError(t, s.CreditPharmacy(ctx, p.ID, market.MustMoney("4.00")))

	got, err := s.GetPharmacy(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(market.MustMoney("15.00")), "got %s", got.CashBalance)
}

// =============================================================================
// TRANSACTIONS & ROLLBACK
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "0")
	m := seedMask(t, s, p.ID, "True Barrier", "13.70", 5)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx market.Store) error {
		applied, err := tx.AdjustStock(ctx, m.ID, -2)
		require.NoError(t, err)
		require.True(t, applied)
		if err := tx.CreditPharmacy(ctx, p.ID, market.MustMoney("27.40")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetMask(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity, "stock change must roll back")

	gotP, err := s.GetPharmacy(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, gotP.CashBalance.IsZero(), "credit must roll back, got %s", gotP.CashBalance)
}

func TestStore_AppendTransactions_AssignsIDsAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "0")
	m := seedMask(t, s, p.ID, "True Barrier", "13.70", 5)
	u1 := seedUser(t, s, "Alice", "100")
	u2 := seedUser(t, s, "Bob", "100")

	at := time.Date(2021, time.January, 4, 15, 18, 51, 0, time.UTC)
	txs := []market.Transaction{
		{PurchaseID: "a", UserID: u1.ID, PharmacyID: p.ID, MaskID: m.ID, Quantity: 1,
			UnitPrice: market.MustMoney("13.70"), Total: market.MustMoney("13.70"), OccurredAt: at},
		{PurchaseID: "b", UserID: u2.ID, PharmacyID: p.ID, MaskID: m.ID, Quantity: 2,
			UnitPrice: market.MustMoney("13.70"), Total: market.MustMoney("27.40"), OccurredAt: at.Add(time.Hour)},
	}
	require.NoError(t, s.AppendTransactions(ctx, txs))
	assert.NotZero(t, txs[0].ID)
	assert.NotZero(t, txs[1].ID)

	mine, err := s.ListTransactions(ctx, market.TransactionFilter{UserID: u1.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, market.PurchaseID("a"), mine[0].PurchaseID)
	assert.True(t, mine[0].OccurredAt.Equal(at))

	all, err := s.ListTransactions(ctx, market.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, market.PurchaseID("b"), all[0].PurchaseID, "newest first")
}

// =============================================================================
// AGGREGATE QUERIES
// =============================================================================

func TestStore_SpendingByUser_SumsDecimalsExactly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "0")
	m := seedMask(t, s, p.ID, "True Barrier", "0.10", 100)
	u := seedUser(t, s, "Alice", "100")

	// Ten rows of 0.10: a float sum would drift, a decimal sum must not.
	at := time.Date(2021, time.January, 4, 12, 0, 0, 0, time.UTC)
	var txs []market.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, market.Transaction{
			PurchaseID: "p", UserID: u.ID, PharmacyID: p.ID, MaskID: m.ID, Quantity: 1,
			UnitPrice: market.MustMoney("0.10"), Total: market.MustMoney("0.10"),
			OccurredAt: at.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, s.AppendTransactions(ctx, txs))

	spends, err := s.SpendingByUser(ctx, at, at.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, spends, 1)
	assert.True(t, spends[0].TotalSpent.Equal(market.MustMoney("1.00")),
		"got %s", spends[0].TotalSpent)
	assert.Equal(t, 10, spends[0].Transactions)
}

func TestStore_MaskCountsInPriceRange_IncludesZeroCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := seedPharmacy(t, s, "One", "0")
	p2 := seedPharmacy(t, s, "Two", "0")
	seedMask(t, s, p1.ID, "a", "5.00", 1)
	seedMask(t, s, p1.ID, "b", "20.00", 1)
	seedMask(t, s, p1.ID, "c", "20.01", 1)
	seedMask(t, s, p2.ID, "d", "4.99", 1)

	counts, err := s.MaskCountsInPriceRange(ctx, market.MustMoney("5"), market.MustMoney("20"))
	require.NoError(t, err)
	require.Len(t, counts, 2)

	assert.Equal(t, p1.ID, counts[0].Pharmacy.ID)
	assert.Equal(t, 2, counts[0].Count, "boundary prices are inclusive")
	assert.Equal(t, p2.ID, counts[1].Pharmacy.ID)
	assert.Equal(t, 0, counts[1].Count)
}

func TestStore_Search_TreatsWildcardCharsLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "0")
	seedMask(t, s, p.ID, "100% Cotton", "5.00", 1)
	seedMask(t, s, p.ID, "100x Cotton", "5.00", 1)

	masks, err := s.SearchMasks(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, masks, 1, "%% must match literally, not as a wildcard")
	assert.Equal(t, "100% Cotton", masks[0].Name)
}

func TestStore_Search_CaseInsensitiveBeyondASCII(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedPharmacy(t, s, "CAFÉ Pharma", "0")
	seedPharmacy(t, s, "Plain Pharma", "0")

	// GIVEN a name whose case variant differs outside ASCII
	// WHEN searching with the lowercase form
	pharmacies, err := s.SearchPharmacies(ctx, "café")
	require.NoError(t, err)

	// THEN the match is found, same as the ranking layer would match it
	require.Len(t, pharmacies, 1)
	assert.Equal(t, "CAFÉ Pharma", pharmacies[0].Name)
}

// =============================================================================
// RESET
// =============================================================================

func TestStore_Reset_ClearsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "One", "0")
	seedMask(t, s, p.ID, "a", "5.00", 1)
	seedUser(t, s, "Alice", "10")

	require.NoError(t, s.Reset(ctx))

	pharmacies, err := s.ListPharmacies(ctx)
	require.NoError(t, err)
	assert.Empty(t, pharmacies)

	// IDs restart from 1 after a reset.
	p2 := seedPharmacy(t, s, "Two", "0")
	assert.Equal(t, market.PharmacyID(1), p2.ID)
}

// =============================================================================
// PURCHASE ENGINE OVER THE SQLITE STORE
// =============================================================================

func TestStore_Purchase_TwoPharmaciesCommitsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "Alice", "100.00")
	pA := seedPharmacy(t, s, "Alpha", "0")
	pB := seedPharmacy(t, s, "Beta", "0")
	mA := seedMask(t, s, pA.ID, "Basic", "10.00", 2)
	mB := seedMask(t, s, pB.ID, "Deluxe", "5.50", 4)

	engine := market.NewPurchaseEngine(s)
	txs, err := engine.ExecutePurchase(ctx, user.ID, []market.PurchaseLine{
		{PharmacyID: pA.ID, MaskID: mA.ID, Quantity: 2},
		{PharmacyID: pB.ID, MaskID: mB.ID, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	// Both rows share one purchase id and timestamp.
	assert.Equal(t, txs[0].PurchaseID, txs[1].PurchaseID)
	assert.True(t, txs[0].OccurredAt.Equal(txs[1].OccurredAt))

	gotUser, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, gotUser.CashBalance.Equal(market.MustMoney("74.50")))

	gotA, err := s.GetPharmacy(ctx, pA.ID)
	require.NoError(t, err)
	assert.True(t, gotA.CashBalance.Equal(market.MustMoney("20.00")))
	gotB, err := s.GetPharmacy(ctx, pB.ID)
	require.NoError(t, err)
	assert.True(t, gotB.CashBalance.Equal(market.MustMoney("5.50")))

	gotMA, err := s.GetMask(ctx, mA.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMA.StockQuantity)
	gotMB, err := s.GetMask(ctx, mB.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gotMB.StockQuantity)
}

func TestStore_Purchase_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "Bob", "10.00")
	p := seedPharmacy(t, s, "Alpha", "0")
	m := seedMask(t, s, p.ID, "Basic", "6.00", 5)

	engine := market.NewPurchaseEngine(s)
	_, err := engine.ExecutePurchase(ctx, user.ID, []market.PurchaseLine{
		{PharmacyID: p.ID, MaskID: m.ID, Quantity: 2},
	})
	require.ErrorIs(t, err, market.ErrInsufficientFunds)

	gotUser, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, gotUser.CashBalance.Equal(market.MustMoney("10.00")))

	gotMask, err := s.GetMask(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, gotMask.StockQuantity)

	txs, err := s.ListTransactions(ctx, market.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestStore_Purchase_ConcurrentBuyersNeverOversell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedPharmacy(t, s, "Alpha", "0")
	m := seedMask(t, s, p.ID, "Basic", "10.00", 5)

	users := make([]market.User, 10)
	for i := range users {
		users[i] = seedUser(t, s, "buyer", "10.00")
	}

	engine := market.NewPurchaseEngine(s)
	errs := make(chan error, len(users))
	for _, u := range users {
		go func(id market.UserID) {
			_, err := engine.ExecutePurchase(ctx, id, []market.PurchaseLine{
				{PharmacyID: p.ID, MaskID: m.ID, Quantity: 1},
			})
			errs <- err
		}(u.ID)
	}

	succeeded := 0
	for range users {
		if err := <-errs; err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, market.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 5, succeeded)

	gotMask, err := s.GetMask(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMask.StockQuantity)

	gotPharmacy, err := s.GetPharmacy(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, gotPharmacy.CashBalance.Equal(market.MustMoney("50.00")))
}
