package market_test

import (
	"context"
	"errors"
	"testing"

	"github.com/phantom/maskmarket/market"
	"github.com/phantom/maskmarket/market/store"
)

func seedSearch(m *store.Memory) {
	p := func(name string) market.Pharmacy {
		return m.AddPharmacy(market.Pharmacy{Name: name, CashBalance: market.MustMoney("0")})
	}
	first := p("First Care")
	p("Care & Co")
	p("Neighborly")

	mask := func(pharmacy market.PharmacyID, name string) {
		m.AddMask(market.Mask{PharmacyID: pharmacy, Name: name, Price: market.MustMoney("5"), StockQuantity: 1})
	}
	mask(first.ID, "Care")
	mask(first.ID, "CareFree Deluxe")
	mask(first.ID, "Second Smile")
}

func names(results []market.RankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = string(r.Kind) + ":" + r.Name
	}
	return out
}

// =============================================================================
// RELEVANCE TIERS
// =============================================================================

func TestRelevance_Tiers(t *testing.T) {
	cases := []struct {
		name, term string
		want       market.MatchTier
	}{
		{"Care", "care", market.TierExact},
		{"CareFree Deluxe", "care", market.TierPrefix},
		{"First Care", "care", market.TierSubstring},
		{"Second Smile", "care", market.TierNone},
	}
	for _, tc := range cases {
		if got := market.Relevance(tc.name, tc.term); got != tc.want {
			t.Errorf("Relevance(%q, %q) = %d, want %d", tc.name, tc.term, got, tc.want)
		}
	}
}

// =============================================================================
// RANKED SEARCH
// =============================================================================

func TestSearch_RanksExactThenPrefixThenSubstring(t *testing.T) {
	// GIVEN: Names matching "care" at every tier, across both kinds
	// WHEN: Searching scope both
	// THEN: Exact > prefix > substring; within a tier shorter names first;
	//       pharmacies before masks on full ties

	m := store.NewMemory()
	seedSearch(m)
	agg := market.NewAggregator(m)

	results, err := agg.Search(context.Background(), "care", market.ScopeBoth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"mask:Care",            // exact
		"pharmacy:Care & Co",   // prefix, 9 chars
		"mask:CareFree Deluxe", // prefix, 15 chars
		"pharmacy:First Care",  // substring
	}

	got := names(results)
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSearch_ScopeLimitsKinds(t *testing.T) {
	m := store.NewMemory()
	seedSearch(m)
	agg := market.NewAggregator(m)
	ctx := context.Background()

	pharmaciesOnly, err := agg.Search(ctx, "care", market.ScopePharmacies)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range pharmaciesOnly {
		if r.Kind != market.ResultPharmacy {
			t.Errorf("scope pharmacies returned a %s", r.Kind)
		}
	}

	masksOnly, err := agg.Search(ctx, "care", market.ScopeMasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range masksOnly {
		if r.Kind != market.ResultMask {
			t.Errorf("scope masks returned a %s", r.Kind)
		}
	}
}

func TestSearch_CaseInsensitiveAndTrimmed(t *testing.T) {
	m := store.NewMemory()
	seedSearch(m)
	agg := market.NewAggregator(m)

	results, err := agg.Search(context.Background(), "  CARE  ", market.ScopeMasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 || results[0].Name != "Care" {
		t.Errorf("expected exact match on Care, got %v", names(results))
	}
}

func TestSearch_InvalidInput(t *testing.T) {
	m := store.NewMemory()
	agg := market.NewAggregator(m)
	ctx := context.Background()

	if _, err := agg.Search(ctx, "   ", market.ScopeBoth); !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for blank term, got %v", err)
	}
	if _, err := agg.Search(ctx, "care", "everything"); !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected validation error for unknown scope, got %v", err)
	}
}

func TestSearch_NoMatches_EmptyNotError(t *testing.T) {
	m := store.NewMemory()
	seedSearch(m)
	agg := market.NewAggregator(m)

	results, err := agg.Search(context.Background(), "zzz", market.ScopeBoth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", names(results))
	}
}
