/*
store.go - Persistence interfaces for the market engines

PURPOSE:
  Defines the boundary between the engines and the database. The engines
  never hold SQL; they compose the primitives below inside WithTx so that
  every multi-row mutation is atomic and rolls back as a unit.

KEY INTERFACES:
  Store:          Row-level reads and conditional writes
  TxStore:        Store plus WithTx for atomic multi-row mutations
  AggregateStore: Read-only grouped queries for the Aggregator

CONDITIONAL WRITES:
  AdjustStock and DebitUser are compare-and-swap style: they apply the
  change only if the row still satisfies the non-negative invariant, and
  report whether anything was applied. A false return after a passed
  precondition check means a concurrent writer got there first - the
  purchase engine treats that as a retryable conflict. The invariant is
  therefore enforced in the store, not just checked upstream.

IMPLEMENTATIONS:
  - store/sqlite: production store (conditional UPDATE ... WHERE x >= ?)
  - market/store: in-memory store for tests and dev

TRANSACTION ROWS:
  Transaction rows are append-only. No interface method updates or deletes
  them; corrections would be modeled as new rows.
*/
package market

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Row-level access
// =============================================================================

// Store is the row-level persistence interface shared by both engines.
// Get* methods return (nil, nil) when the row does not exist; the engines
// translate that into NotFoundError with entity context.
type Store interface {
	// Pharmacies
	GetPharmacy(ctx context.Context, id PharmacyID) (*Pharmacy, error)
	ListPharmacies(ctx context.Context) ([]Pharmacy, error)
	CreditPharmacy(ctx context.Context, id PharmacyID, amount Money) error

	// Users
	GetUser(ctx context.Context, id UserID) (*User, error)
	// DebitUser subtracts amount if the balance covers it. Returns false
	// (and no change) otherwise.
	DebitUser(ctx context.Context, id UserID, amount Money) (bool, error)

	// Masks
	GetMask(ctx context.Context, id MaskID) (*Mask, error)
	GetMaskByName(ctx context.Context, pharmacyID PharmacyID, name string) (*Mask, error)
	ListMasks(ctx context.Context, pharmacyID PharmacyID, sort MaskSort) ([]Mask, error)
	InsertMask(ctx context.Context, mask *Mask) error
	// UpdateMaskCatalog overwrites price and stock on an existing mask and
	// bumps its updated_at.
	UpdateMaskCatalog(ctx context.Context, id MaskID, price Money, stock int) error
	// AdjustStock applies a signed delta if the result stays non-negative.
	// Returns false (and no change) otherwise.
	AdjustStock(ctx context.Context, id MaskID, delta int) (bool, error)

	// Transactions (append-only)
	AppendTransactions(ctx context.Context, txs []Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// TxStore wraps Store with a database-transaction boundary. Everything fn
// does through the passed Store commits atomically; any error rolls the
// whole mutation back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AGGREGATE STORE - Read-only grouped queries
// =============================================================================

// UserSpend is one row of a spend ranking: a user and their summed
// purchases over the queried range.
type UserSpend struct {
	User         User
	TotalSpent   Money
	Transactions int
	Items        int
}

// PharmacyMaskCount pairs a pharmacy with its count of masks inside a
// price range.
type PharmacyMaskCount struct {
	Pharmacy Pharmacy
	Count    int
}

// AggregateStore serves the Aggregator's read-only queries. All methods
// observe committed state only; they never see a half-applied purchase.
type AggregateStore interface {
	// SpendingByUser sums transaction totals per user over [from, to]
	// inclusive, ordered by total descending then user ID ascending,
	// returning at most limit rows. Users with no qualifying transactions
	// are absent.
	SpendingByUser(ctx context.Context, from, to time.Time, limit int) ([]UserSpend, error)

	// MaskCountsInPriceRange counts, per pharmacy, masks priced within
	// [min, max]. Pharmacies with zero in-range masks are included with
	// Count 0 so threshold comparators like "below 2" can match them.
	MaskCountsInPriceRange(ctx context.Context, min, max Money) ([]PharmacyMaskCount, error)

	// SearchPharmacies and SearchMasks return rows whose name contains
	// term, case-insensitively. Ranking happens in the engine.
	SearchPharmacies(ctx context.Context, term string) ([]Pharmacy, error)
	SearchMasks(ctx context.Context, term string) ([]Mask, error)
}
