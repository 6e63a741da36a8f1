/*
search.go - Name search ranked by relevance

PURPOSE:
  Ranks pharmacies and masks against a search term using match tiers:
  an exact case-insensitive name match outranks a prefix match, which
  outranks a substring match anywhere else in the name. Within a tier,
  shorter names rank first (a tighter match), then pharmacies before
  masks, then ID ascending. The store supplies substring candidates; the
  tiering and ordering live here so both store implementations rank
  identically.
*/
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// RELEVANCE TIERS
// =============================================================================

// MatchTier classifies how a name matches a term. Higher is more relevant.
type MatchTier int

const (
	TierNone      MatchTier = 0
	TierSubstring MatchTier = 1
	TierPrefix    MatchTier = 2
	TierExact     MatchTier = 3
)

// Relevance returns the match tier of name against term. Comparison is
// case-insensitive; term is assumed already trimmed.
func Relevance(name, term string) MatchTier {
	n := strings.ToLower(name)
	t := strings.ToLower(term)
	switch {
	case n == t:
		return TierExact
	case strings.HasPrefix(n, t):
		return TierPrefix
	case strings.Contains(n, t):
		return TierSubstring
	default:
		return TierNone
	}
}

// =============================================================================
// SEARCH SCOPE & RESULTS
// =============================================================================

type SearchScope string

const (
	ScopePharmacies SearchScope = "pharmacies"
	ScopeMasks      SearchScope = "masks"
	ScopeBoth       SearchScope = "both"
)

type ResultKind string

const (
	ResultPharmacy ResultKind = "pharmacy"
	ResultMask     ResultKind = "mask"
)

// RankedResult is one search hit. Exactly one of Pharmacy/Mask is set,
// matching Kind.
type RankedResult struct {
	Kind     ResultKind
	ID       int64
	Name     string
	Tier     MatchTier
	Pharmacy *Pharmacy
	Mask     *Mask
}

// =============================================================================
// SEARCH
// =============================================================================

// Search ranks name matches for term within scope. A blank or
// whitespace-only term is a validation failure.
func (a *Aggregator) Search(ctx context.Context, term string, scope SearchScope) ([]RankedResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, validationf(0, "term", "must not be blank")
	}
	if scope != ScopePharmacies && scope != ScopeMasks && scope != ScopeBoth {
		return nil, validationf(0, "scope", "unknown scope %q", scope)
	}

	var results []RankedResult

	if scope == ScopePharmacies || scope == ScopeBoth {
		pharmacies, err := a.store.SearchPharmacies(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("search pharmacies: %w", err)
		}
		for i := range pharmacies {
			p := pharmacies[i]
			if tier := Relevance(p.Name, term); tier > TierNone {
				results = append(results, RankedResult{
					Kind: ResultPharmacy, ID: int64(p.ID), Name: p.Name, Tier: tier, Pharmacy: &p,
				})
			}
		}
	}

	if scope == ScopeMasks || scope == ScopeBoth {
		masks, err := a.store.SearchMasks(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("search masks: %w", err)
		}
		for i := range masks {
			m := masks[i]
			if tier := Relevance(m.Name, term); tier > TierNone {
				results = append(results, RankedResult{
					Kind: ResultMask, ID: int64(m.ID), Name: m.Name, Tier: tier, Mask: &m,
				})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		if len(a.Name) != len(b.Name) {
			return len(a.Name) < len(b.Name)
		}
		if a.Kind != b.Kind {
			return a.Kind == ResultPharmacy
		}
		return a.ID < b.ID
	})
	return results, nil
}
