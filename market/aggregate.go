/*
aggregate.go - Read-only ranking and threshold queries

PURPOSE:
  The Aggregator answers the reporting questions over the same entities the
  engines mutate: who spent the most in a date range, which pharmacies
  carry a given number of masks in a price band, and name search ranked by
  relevance. It only reads committed state and never blocks the writers.

SEE ALSO:
  - search.go: relevance tiers and ranking ordering
  - store.go: AggregateStore interface
*/
package market

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// COMPARATOR - Threshold predicate on a mask count
// =============================================================================

type ComparatorKind string

const (
	// CompareAbove matches counts strictly greater than Threshold.
	CompareAbove ComparatorKind = "above"
	// CompareBelow matches counts strictly less than Threshold.
	CompareBelow ComparatorKind = "below"
	// CompareBetween matches Threshold <= count <= Upper, inclusive.
	CompareBetween ComparatorKind = "between"
)

// Comparator is the threshold predicate applied to a pharmacy's in-range
// mask count. Upper is only meaningful for CompareBetween.
type Comparator struct {
	Kind      ComparatorKind
	Threshold int
	Upper     int
}

func (c Comparator) matches(count int) bool {
	switch c.Kind {
	case CompareAbove:
		return count > c.Threshold
	case CompareBelow:
		return count < c.Threshold
	case CompareBetween:
		return count >= c.Threshold && count <= c.Upper
	default:
		return false
	}
}

func (c Comparator) validate() error {
	switch c.Kind {
	case CompareAbove, CompareBelow:
		return nil
	case CompareBetween:
		if c.Threshold > c.Upper {
			return validationf(0, "comparator", "between bounds reversed: %d > %d", c.Threshold, c.Upper)
		}
		return nil
	default:
		return validationf(0, "comparator", "unknown kind %q", c.Kind)
	}
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator runs the read-only queries. It holds no state beyond the
// store handle.
type Aggregator struct {
	store AggregateStore
}

func NewAggregator(store AggregateStore) *Aggregator {
	return &Aggregator{store: store}
}

// TopSpenders returns at most limit users ranked by total purchase amount
// over [start, end] inclusive, highest first, ties broken by user ID
// ascending. Users with no qualifying transactions are excluded.
func (a *Aggregator) TopSpenders(ctx context.Context, start, end time.Time, limit int) ([]UserSpend, error) {
	if end.Before(start) {
		return nil, validationf(0, "date_range", "end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	if limit <= 0 {
		return nil, validationf(0, "limit", "must be positive, got %d", limit)
	}

	spends, err := a.store.SpendingByUser(ctx, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("spending by user: %w", err)
	}
	return spends, nil
}

// PharmaciesByMaskCount returns the pharmacies whose count of masks priced
// within [minPrice, maxPrice] satisfies the comparator, ordered by
// pharmacy ID ascending.
func (a *Aggregator) PharmaciesByMaskCount(ctx context.Context, minPrice, maxPrice Money, cmp Comparator) ([]PharmacyMaskCount, error) {
	if minPrice.GreaterThan(maxPrice) {
		return nil, validationf(0, "price_range", "min %s greater than max %s", minPrice, maxPrice)
	}
	if minPrice.IsNegative() {
		return nil, validationf(0, "price_range", "min must not be negative, got %s", minPrice)
	}
	if err := cmp.validate(); err != nil {
		return nil, err
	}

	counts, err := a.store.MaskCountsInPriceRange(ctx, minPrice, maxPrice)
	if err != nil {
		return nil, fmt.Errorf("mask counts in price range: %w", err)
	}

	var matched []PharmacyMaskCount
	for _, pc := range counts {
		if cmp.matches(pc.Count) {
			matched = append(matched, pc)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Pharmacy.ID < matched[j].Pharmacy.ID
	})
	return matched, nil
}
