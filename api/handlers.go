/*
handlers.go - HTTP API handlers for the mask market

PURPOSE:
  Exposes the market engines via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Pharmacies:
    GET    /api/pharmacies                    List (optional open-at filter)
    GET    /api/pharmacies/{id}               Pharmacy details
    GET    /api/pharmacies/{id}/masks         Masks sorted by name or price
    POST   /api/pharmacies/{id}/masks         Batch catalog upsert
    GET    /api/pharmacies/mask-counts        Count-threshold query

  Users:
    GET    /api/users/{id}                    User details
    GET    /api/users/top-spenders            Spending ranking over a range

  Masks:
    POST   /api/masks/{id}/stock              Adjust stock by delta

  Purchases:
    POST   /api/purchases                     Atomic multi-line purchase
    GET    /api/transactions                  Purchase history

  Search:
    GET    /api/search                        Ranked name search

ARCHITECTURE:
  Handler holds the store plus the three engines built on it. Handlers
  parse and validate the HTTP shape of a request, then hand off to the
  market package, which owns all business rules.

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinel:
  - 400: ErrValidation (malformed input)
  - 404: ErrNotFound
  - 409: ErrConflict (retries exhausted)
  - 422: ErrInsufficientStock, ErrInsufficientFunds (well-formed but
         unsatisfiable)
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - market/errors.go: The sentinels this maps from
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/phantom/maskmarket/market"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage surface the API needs. Both the SQLite store and
// the in-memory store satisfy it.
type Backend interface {
	market.TxStore
	market.AggregateStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Backend
	Inventory  *market.Inventory
	Purchases  *market.PurchaseEngine
	Aggregator *market.Aggregator
}

// NewHandler creates a handler with engines built on store.
func NewHandler(store Backend) *Handler {
	return &Handler{
		Store:      store,
		Inventory:  market.NewInventory(store),
		Purchases:  market.NewPurchaseEngine(store),
		Aggregator: market.NewAggregator(store),
	}
}

// =============================================================================
// PHARMACY HANDLERS
// =============================================================================

// ListPharmacies returns all pharmacies, optionally filtered to those open
// at a given weekday and time.
// GET /api/pharmacies?day=mon&at=14:30
func (h *Handler) ListPharmacies(w http.ResponseWriter, r *http.Request) {
	pharmacies, err := h.Store.ListPharmacies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pharmacies", err)
		return
	}

	dayParam := r.URL.Query().Get("day")
	atParam := r.URL.Query().Get("at")

	if dayParam != "" {
		day, err := market.ParseWeekday(dayParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid day", err)
			return
		}
		if atParam != "" {
			at, err := market.ParseClock(atParam)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid time (use HH:MM)", err)
				return
			}
			pharmacies = filterPharmacies(pharmacies, func(p market.Pharmacy) bool {
				return p.Hours.OpenAt(day, at)
			})
		} else {
			pharmacies = filterPharmacies(pharmacies, func(p market.Pharmacy) bool {
				return p.Hours.OpenOn(day)
			})
		}
	} else if atParam != "" {
		writeError(w, http.StatusBadRequest, "at requires day", nil)
		return
	}

	dtos := make([]PharmacyDTO, len(pharmacies))
	for i, p := range pharmacies {
		dtos[i] = toPharmacyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func filterPharmacies(in []market.Pharmacy, keep func(market.Pharmacy) bool) []market.Pharmacy {
	out := in[:0:0]
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// GetPharmacy returns a single pharmacy.
// GET /api/pharmacies/{id}
func (h *Handler) GetPharmacy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.Store.GetPharmacy(r.Context(), market.PharmacyID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get pharmacy", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Pharmacy not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPharmacyDTO(*p))
}

// ListPharmacyMasks returns a pharmacy's masks sorted by name or price.
// GET /api/pharmacies/{id}/masks?sort_by=price&order=desc
func (h *Handler) ListPharmacyMasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sortBy := market.MaskSort{Field: market.SortByName}
	switch r.URL.Query().Get("sort_by") {
	case "", "name":
	case "price":
		sortBy.Field = market.SortByPrice
	default:
		writeError(w, http.StatusBadRequest, "Invalid sort_by (use name or price)", nil)
		return
	}
	switch r.URL.Query().Get("order") {
	case "", "asc":
	case "desc":
		sortBy.Desc = true
	default:
		writeError(w, http.StatusBadRequest, "Invalid order (use asc or desc)", nil)
		return
	}

	p, err := h.Store.GetPharmacy(r.Context(), market.PharmacyID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get pharmacy", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Pharmacy not found", nil)
		return
	}

	masks, err := h.Store.ListMasks(r.Context(), market.PharmacyID(id), sortBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list masks", err)
		return
	}

	dtos := make([]MaskDTO, len(masks))
	for i, m := range masks {
		dtos[i] = toMaskDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertPharmacyMasks replaces or creates catalog entries in bulk.
// POST /api/pharmacies/{id}/masks
func (h *Handler) UpsertPharmacyMasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpsertMasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]market.MaskInput, len(req.Masks))
	for i, m := range req.Masks {
		price, err := parseMoneyParam(m.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid price", err)
			return
		}
		items[i] = market.MaskInput{
			Name:          m.Name,
			Price:         price,
			StockQuantity: m.StockQuantity,
		}
	}

	masks, err := h.Inventory.BatchUpsertMasks(r.Context(), market.PharmacyID(id), items)
	if err != nil {
		writeDomainError(w, "Failed to upsert masks", err)
		return
	}

	dtos := make([]MaskDTO, len(masks))
	for i, m := range masks {
		dtos[i] = toMaskDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PharmacyMaskCounts lists pharmacies whose count of masks in a price
// range satisfies a threshold comparator.
// GET /api/pharmacies/mask-counts?min=5&max=20&comparator=between&threshold=2&upper=4
func (h *Handler) PharmacyMaskCounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	min, err := parseMoneyParam(q.Get("min"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid min price", err)
		return
	}
	max, err := parseMoneyParam(q.Get("max"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid max price", err)
		return
	}

	cmp := market.Comparator{Kind: market.ComparatorKind(q.Get("comparator"))}
	if cmp.Kind == "" {
		cmp.Kind = market.CompareAbove
	}
	if v := q.Get("threshold"); v != "" {
		cmp.Threshold, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid threshold", err)
			return
		}
	}
	if v := q.Get("upper"); v != "" {
		cmp.Upper, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid upper", err)
			return
		}
	}

	counts, err := h.Aggregator.PharmaciesByMaskCount(r.Context(), min, max, cmp)
	if err != nil {
		writeDomainError(w, "Failed to query mask counts", err)
		return
	}

	dtos := make([]PharmacyMaskCountDTO, len(counts))
	for i, c := range counts {
		dtos[i] = PharmacyMaskCountDTO{
			Pharmacy:  toPharmacyDTO(c.Pharmacy),
			MaskCount: c.Count,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// GetUser returns a single user.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	u, err := h.Store.GetUser(r.Context(), market.UserID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// TopSpenders ranks users by total spend over an inclusive date range.
// GET /api/users/top-spenders?start=2021-01-01&end=2021-01-31&limit=10
func (h *Handler) TopSpenders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := time.Parse("2006-01-02", q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end date (use YYYY-MM-DD)", err)
		return
	}
	// The end date is inclusive: cover the whole final day.
	end = end.Add(24*time.Hour - time.Second)

	limit := 10
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
	}

	spends, err := h.Aggregator.TopSpenders(r.Context(), start, end, limit)
	if err != nil {
		writeDomainError(w, "Failed to rank spenders", err)
		return
	}

	dtos := make([]UserSpendDTO, len(spends))
	for i, s := range spends {
		dtos[i] = UserSpendDTO{
			User:         toUserDTO(s.User),
			TotalSpent:   s.TotalSpent.StringFixed(2),
			Transactions: s.Transactions,
			Items:        s.Items,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// AdjustMaskStock changes a mask's stock by a signed delta.
// POST /api/masks/{id}/stock
func (h *Handler) AdjustMaskStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero", nil)
		return
	}

	mask, err := h.Inventory.AdjustStock(r.Context(), market.MaskID(id), req.Delta)
	if err != nil {
		writeDomainError(w, "Failed to adjust stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toMaskDTO(*mask))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// CreatePurchase executes an atomic multi-line purchase.
// POST /api/purchases
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lines := make([]market.PurchaseLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = market.PurchaseLine{
			PharmacyID: market.PharmacyID(item.PharmacyID),
			MaskID:     market.MaskID(item.MaskID),
			Quantity:   item.Quantity,
		}
	}

	txs, err := h.Purchases.ExecutePurchase(r.Context(), market.UserID(req.UserID), lines)
	if err != nil {
		writeDomainError(w, "Purchase failed", err)
		return
	}

	resp := PurchaseResponse{Transactions: make([]TransactionDTO, len(txs))}
	total := decimal.Zero
	for i, tx := range txs {
		resp.Transactions[i] = toTransactionDTO(tx)
		total = total.Add(tx.Total)
	}
	if len(txs) > 0 {
		resp.PurchaseID = string(txs[0].PurchaseID)
	}
	resp.Total = total.StringFixed(2)

	writeJSON(w, http.StatusCreated, resp)
}

// ListTransactions returns purchase history, newest first.
// GET /api/transactions?user_id=1&pharmacy_id=2&limit=50&offset=0
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter market.TransactionFilter
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"user_id", (*int64)(&filter.UserID)},
		{"pharmacy_id", (*int64)(&filter.PharmacyID)},
		{"mask_id", (*int64)(&filter.MaskID)},
	} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+p.name, err)
				return
			}
			*p.dst = n
		}
	}
	var err error
	if v := q.Get("limit"); v != "" {
		filter.Limit, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid offset", err)
			return
		}
	}

	txs, err := h.Store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SEARCH HANDLERS
// =============================================================================

// Search ranks pharmacies and masks by name relevance.
// GET /api/search?q=carbon&scope=masks
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scope := market.SearchScope(q.Get("scope"))
	if scope == "" {
		scope = market.ScopeBoth
	}

	results, err := h.Aggregator.Search(r.Context(), q.Get("q"), scope)
	if err != nil {
		writeDomainError(w, "Search failed", err)
		return
	}

	dtos := make([]SearchResultDTO, len(results))
	for i, res := range results {
		dto := SearchResultDTO{
			Kind:      string(res.Kind),
			ID:        res.ID,
			Name:      res.Name,
			Relevance: int(res.Tier),
		}
		if res.Pharmacy != nil {
			p := toPharmacyDTO(*res.Pharmacy)
			dto.Pharmacy = &p
		}
		if res.Mask != nil {
			m := toMaskDTO(*res.Mask)
			dto.Mask = &m
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return 0, false
	}
	return id, true
}

func parseMoneyParam(s string) (market.Money, error) {
	if s == "" {
		return decimal.Zero, errors.New("missing value")
	}
	return market.NewMoney(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps market sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, market.ErrInsufficientStock),
		errors.Is(err, market.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var ve *market.ValidationError
	if errors.As(err, &ve) {
		resp.Issues = ve.Issues
	}
	writeJSON(w, status, resp)
}
