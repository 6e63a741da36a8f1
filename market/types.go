/*
Package market provides the core mask-market engine.

PURPOSE:
  This package contains the domain types and the three engines that operate
  on them: the Inventory service (stock mutations), the Purchase engine
  (multi-pharmacy atomic purchases), and the Aggregator (read-only ranking
  and threshold queries). Persistence is behind the Store interfaces in
  store.go so the same engines run against SQLite or the in-memory store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: fixed-point monetary value (decimal.Decimal, never float)
  - Pharmacy/Mask/User: the mutable account and catalog entities
  - Transaction: an immutable record of one purchase line item
  - PurchaseLine: one (pharmacy, mask, quantity) unit of a purchase request

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never updated or deleted
  2. Precision: decimal.Decimal for every monetary value
  3. Type Safety: distinct ID types so a mask ID cannot stand in for a user ID
  4. Snapshots: a Transaction carries the unit price at time of sale; later
     price changes never rewrite history

SEE ALSO:
  - errors.go: Error taxonomy
  - purchase.go: Purchase engine
  - inventory.go: Stock mutations
  - aggregate.go: Ranking and threshold queries
*/
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point monetary value
// =============================================================================

// Money is a fixed-point monetary amount. All balances, prices, and totals
// in the system go through this type; float64 never touches money.
type Money = decimal.Decimal

func NewMoney(value string) (Money, error) {
	return decimal.NewFromString(value)
}

// MustMoney parses a decimal literal and panics on failure.
// For constants and tests only.
func MustMoney(value string) Money {
	return decimal.RequireFromString(value)
}

func MoneyFromInt(value int64) Money {
	return decimal.NewFromInt(value)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PharmacyID int64
type MaskID int64
type UserID int64
type TransactionID int64

// PurchaseID groups all Transaction rows written by a single purchase
// request. It is assigned by the purchase engine, not by callers.
type PurchaseID string

// =============================================================================
// ENTITIES
// =============================================================================

// Pharmacy holds a catalog of masks and accumulates sale proceeds.
// CashBalance is non-negative and only ever credited by purchases.
type Pharmacy struct {
	ID          PharmacyID
	Name        string
	CashBalance Money
	Hours       WeeklyHours
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Mask is one product in a pharmacy's catalog. Name uniqueness is scoped
// per pharmacy. StockQuantity never goes negative, including under
// concurrent decrements.
type Mask struct {
	ID            MaskID
	PharmacyID    PharmacyID
	Name          string
	Price         Money
	StockQuantity int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// User is a purchaser account. CashBalance is non-negative and only ever
// debited by purchases.
type User struct {
	ID          UserID
	Name        string
	CashBalance Money
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is one line item of a completed purchase: a user bought
// Quantity units of one mask at one pharmacy. UnitPrice and TotalAmount are
// snapshots taken at sale time; the mask's price may change afterwards
// without affecting this record. Transactions are append-only.
type Transaction struct {
	ID         TransactionID
	PurchaseID PurchaseID
	UserID     UserID
	PharmacyID PharmacyID
	MaskID     MaskID
	Quantity   int
	UnitPrice  Money
	Total      Money
	OccurredAt time.Time
}

// =============================================================================
// PURCHASE REQUEST
// =============================================================================

// PurchaseLine is one (pharmacy, mask, quantity) unit within a purchase
// request. Duplicate (pharmacy, mask) pairs in one request are rejected
// rather than summed.
type PurchaseLine struct {
	PharmacyID PharmacyID
	MaskID     MaskID
	Quantity   int
}

// =============================================================================
// MASK CATALOG INPUT
// =============================================================================

// MaskInput is one item of a batch catalog upsert: create the mask if the
// pharmacy has no mask with that name, otherwise overwrite price and stock.
type MaskInput struct {
	Name          string
	Price         Money
	StockQuantity int
}

// MaskSortField selects the ordering of a pharmacy's mask listing.
type MaskSortField string

const (
	SortByName  MaskSortField = "name"
	SortByPrice MaskSortField = "price"
)

// MaskSort describes the requested ordering of a mask listing.
type MaskSort struct {
	Field MaskSortField
	Desc  bool
}

// =============================================================================
// TRANSACTION HISTORY FILTER
// =============================================================================

// TransactionFilter narrows a transaction-history listing. Zero-valued
// fields are ignored.
type TransactionFilter struct {
	UserID     UserID
	PharmacyID PharmacyID
	MaskID     MaskID
	Limit      int
	Offset     int
}
