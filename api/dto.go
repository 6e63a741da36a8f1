/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ENCODING:
  Monetary amounts are serialized as decimal strings ("13.70"), never as
  JSON floats. Incoming amounts are accepted as strings or numbers and
  parsed with shopspring/decimal.

VALIDATION:
  Validation is done in handlers and the market package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - market/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/phantom/maskmarket/market"
)

// =============================================================================
// PHARMACIES
// =============================================================================

// PharmacyDTO represents a pharmacy in API responses.
type PharmacyDTO struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	CashBalance string             `json:"cash_balance"`
	Hours       market.WeeklyHours `json:"opening_hours"`
	CreatedAt   string             `json:"created_at,omitempty"`
}

func toPharmacyDTO(p market.Pharmacy) PharmacyDTO {
	return PharmacyDTO{
		ID:          int64(p.ID),
		Name:        p.Name,
		CashBalance: p.CashBalance.StringFixed(2),
		Hours:       p.Hours,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

// PharmacyMaskCountDTO pairs a pharmacy with its in-range mask count.
type PharmacyMaskCountDTO struct {
	Pharmacy  PharmacyDTO `json:"pharmacy"`
	MaskCount int         `json:"mask_count"`
}

// =============================================================================
// MASKS
// =============================================================================

// MaskDTO represents a mask product in API responses.
type MaskDTO struct {
	ID            int64  `json:"id"`
	PharmacyID    int64  `json:"pharmacy_id"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

func toMaskDTO(m market.Mask) MaskDTO {
	return MaskDTO{
		ID:            int64(m.ID),
		PharmacyID:    int64(m.PharmacyID),
		Name:          m.Name,
		Price:         m.Price.StringFixed(2),
		StockQuantity: m.StockQuantity,
	}
}

// UpsertMasksRequest is the batch catalog upsert body.
type UpsertMasksRequest struct {
	Masks []MaskUpsertDTO `json:"masks"`
}

// MaskUpsertDTO is one item of a batch upsert. Price accepts a decimal
// string or a JSON number.
type MaskUpsertDTO struct {
	Name          string `json:"name"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

// AdjustStockRequest changes a mask's stock by a signed delta.
type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

// =============================================================================
// USERS & SPENDING
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CashBalance string `json:"cash_balance"`
}

func toUserDTO(u market.User) UserDTO {
	return UserDTO{
		ID:          int64(u.ID),
		Name:        u.Name,
		CashBalance: u.CashBalance.StringFixed(2),
	}
}

// UserSpendDTO is one row of the top-spenders ranking.
type UserSpendDTO struct {
	User         UserDTO `json:"user"`
	TotalSpent   string  `json:"total_spent"`
	Transactions int     `json:"transactions"`
	Items        int     `json:"items"`
}

// =============================================================================
// PURCHASES & TRANSACTIONS
// =============================================================================

// PurchaseRequest is the body of POST /api/purchases.
type PurchaseRequest struct {
	UserID int64             `json:"user_id"`
	Items  []PurchaseItemDTO `json:"items"`
}

// PurchaseItemDTO is one line of a purchase request.
type PurchaseItemDTO struct {
	PharmacyID int64 `json:"pharmacy_id"`
	MaskID     int64 `json:"mask_id"`
	Quantity   int   `json:"quantity"`
}

// TransactionDTO represents one completed purchase line.
type TransactionDTO struct {
	ID         int64  `json:"id"`
	PurchaseID string `json:"purchase_id"`
	UserID     int64  `json:"user_id"`
	PharmacyID int64  `json:"pharmacy_id"`
	MaskID     int64  `json:"mask_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	Total      string `json:"total"`
	OccurredAt string `json:"occurred_at"`
}

func toTransactionDTO(tx market.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:         int64(tx.ID),
		PurchaseID: string(tx.PurchaseID),
		UserID:     int64(tx.UserID),
		PharmacyID: int64(tx.PharmacyID),
		MaskID:     int64(tx.MaskID),
		Quantity:   tx.Quantity,
		UnitPrice:  tx.UnitPrice.StringFixed(2),
		Total:      tx.Total.StringFixed(2),
		OccurredAt: tx.OccurredAt.Format(time.RFC3339),
	}
}

// PurchaseResponse wraps the transactions created by one purchase.
type PurchaseResponse struct {
	PurchaseID   string           `json:"purchase_id"`
	Total        string           `json:"total"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchResultDTO is one ranked search hit. Exactly one of Pharmacy/Mask
// is set, matching Kind.
type SearchResultDTO struct {
	Kind      string       `json:"kind"`
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Relevance int          `json:"relevance"`
	Pharmacy  *PharmacyDTO `json:"pharmacy,omitempty"`
	Mask      *MaskDTO     `json:"mask,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string                   `json:"error"`
	Details string                   `json:"details,omitempty"`
	Issues  []market.ValidationIssue `json:"issues,omitempty"`
}
