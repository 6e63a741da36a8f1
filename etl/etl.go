/*
Package etl converts raw JSON data files into market records.

PURPOSE:
  Loads the pharmacy and user seed files into the store. The files use
  the upstream export format: camelCase keys, opening hours as free-form
  strings, purchase history embedded per user and keyed by pharmacy and
  mask NAME rather than ID.

WHY JSON?
  - The seed data arrives from an external system as JSON exports
  - Non-developers can inspect and fix records
  - Version control for data fixtures

FILE SCHEMAS:
  pharmacies.json:
    [{
      "name": "DFW Wellness",
      "cashBalance": 328.41,
      "openingHours": "Mon 08:00 - 17:00, Tue 14:00 - 22:00",
      "masks": [
        {"name": "True Barrier (green) (3 per pack)", "price": 13.7, "stockQuantity": 5}
      ]
    }]

  users.json:
    [{
      "name": "Yvonne Guerrero",
      "cashBalance": 191.83,
      "purchaseHistories": [
        {
          "pharmacyName": "DFW Wellness",
          "maskName": "True Barrier (green) (3 per pack)",
          "transactionAmount": 41.1,
          "transactionQuantity": 3,
          "transactionDatetime": "2021-01-04 15:18:51"
        }
      ]
    }]

RESOLUTION:
  Purchase histories name pharmacies and masks by string. The loader
  builds name-to-ID maps while inserting pharmacies, then resolves each
  history row against them. Rows that name an unknown pharmacy or mask
  fail the load - the historical ledger must stay referentially intact.

MONEY:
  JSON numbers are decoded with json.Number and parsed straight into
  decimals; they never pass through float64.

USAGE:
  loader := etl.NewLoader(store)
  result, err := loader.LoadFiles(ctx, "data/pharmacies.json", "data/users.json")

SEE ALSO:
  - market/hours.go: opening-hours string parsing
  - store/sqlite/sqlite.go: the insert methods the loader calls
*/
package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phantom/maskmarket/market"
)

// historyTimeLayout is the datetime format used by the upstream export.
const historyTimeLayout = "2006-01-02 15:04:05"

// Store is the subset of store operations the loader needs.
// *sqlite.Store satisfies it.
type Store interface {
	InsertPharmacy(ctx context.Context, p *market.Pharmacy) error
	InsertUser(ctx context.Context, u *market.User) error
	InsertMask(ctx context.Context, m *market.Mask) error
	AppendTransactions(ctx context.Context, txs []market.Transaction) error
	Reset(ctx context.Context) error
}

// Loader imports seed files into a store.
type Loader struct {
	store Store

	// WipeFirst clears all existing data before loading.
	WipeFirst bool
}

// NewLoader returns a Loader writing to store.
func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// Result summarizes a completed load.
type Result struct {
	Pharmacies   int
	Masks        int
	Users        int
	Transactions int
}

// =============================================================================
// RAW FILE TYPES
// =============================================================================

type rawPharmacy struct {
	Name         string      `json:"name"`
	CashBalance  json.Number `json:"cashBalance"`
	OpeningHours string      `json:"openingHours"`
	Masks        []rawMask   `json:"masks"`
}

type rawMask struct {
	Name          string      `json:"name"`
	Price         json.Number `json:"price"`
	StockQuantity int         `json:"stockQuantity"`
}

type rawUser struct {
	Name              string       `json:"name"`
	CashBalance       json.Number  `json:"cashBalance"`
	PurchaseHistories []rawHistory `json:"purchaseHistories"`
}

type rawHistory struct {
	PharmacyName        string      `json:"pharmacyName"`
	MaskName            string      `json:"maskName"`
	TransactionAmount   json.Number `json:"transactionAmount"`
	TransactionQuantity int         `json:"transactionQuantity"`
	TransactionDatetime string      `json:"transactionDatetime"`
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFiles reads both seed files and imports them. Pharmacies load
// first because user purchase histories resolve against them.
func (l *Loader) LoadFiles(ctx context.Context, pharmacyPath, userPath string) (*Result, error) {
	var pharmacies []rawPharmacy
	if err := readJSONFile(pharmacyPath, &pharmacies); err != nil {
		return nil, fmt.Errorf("read %s: %w", pharmacyPath, err)
	}
	var users []rawUser
	if err := readJSONFile(userPath, &users); err != nil {
		return nil, fmt.Errorf("read %s: %w", userPath, err)
	}
	return l.load(ctx, pharmacies, users)
}

func (l *Loader) load(ctx context.Context, pharmacies []rawPharmacy, users []rawUser) (*Result, error) {
	if l.WipeFirst {
		if err := l.store.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reset store: %w", err)
		}
	}

	result := &Result{}

	// Name-to-ID maps for resolving purchase histories.
	pharmacyIDs := make(map[string]market.PharmacyID, len(pharmacies))
	maskIDs := make(map[string]map[string]market.MaskID, len(pharmacies))

	for i, rp := range pharmacies {
		if rp.Name == "" {
			return nil, fmt.Errorf("pharmacy %d: empty name", i)
		}
		balance, err := parseMoney(rp.CashBalance)
		if err != nil {
			return nil, fmt.Errorf("pharmacy %q: cashBalance: %w", rp.Name, err)
		}
		hours, err := market.ParseWeeklyHours(rp.OpeningHours)
		if err != nil {
			return nil, fmt.Errorf("pharmacy %q: openingHours: %w", rp.Name, err)
		}

		pharmacy := &market.Pharmacy{
			Name:        rp.Name,
			CashBalance: balance,
			Hours:       hours,
		}
		if err := l.store.InsertPharmacy(ctx, pharmacy); err != nil {
			return nil, fmt.Errorf("pharmacy %q: %w", rp.Name, err)
		}
		pharmacyIDs[rp.Name] = pharmacy.ID
		maskIDs[rp.Name] = make(map[string]market.MaskID, len(rp.Masks))
		result.Pharmacies++

		for _, rm := range rp.Masks {
			if rm.Name == "" {
				return nil, fmt.Errorf("pharmacy %q: mask with empty name", rp.Name)
			}
			price, err := parseMoney(rm.Price)
			if err != nil {
				return nil, fmt.Errorf("pharmacy %q: mask %q: price: %w", rp.Name, rm.Name, err)
			}
			if rm.StockQuantity < 0 {
				return nil, fmt.Errorf("pharmacy %q: mask %q: negative stock", rp.Name, rm.Name)
			}
			mask := &market.Mask{
				PharmacyID:    pharmacy.ID,
				Name:          rm.Name,
				Price:         price,
				StockQuantity: rm.StockQuantity,
			}
			if err := l.store.InsertMask(ctx, mask); err != nil {
				return nil, fmt.Errorf("pharmacy %q: mask %q: %w", rp.Name, rm.Name, err)
			}
			maskIDs[rp.Name][rm.Name] = mask.ID
			result.Masks++
		}
	}

	histSeq := 0
	for i, ru := range users {
		if ru.Name == "" {
			return nil, fmt.Errorf("user %d: empty name", i)
		}
		balance, err := parseMoney(ru.CashBalance)
		if err != nil {
			return nil, fmt.Errorf("user %q: cashBalance: %w", ru.Name, err)
		}

		user := &market.User{Name: ru.Name, CashBalance: balance}
		if err := l.store.InsertUser(ctx, user); err != nil {
			return nil, fmt.Errorf("user %q: %w", ru.Name, err)
		}
		result.Users++

		txs := make([]market.Transaction, 0, len(ru.PurchaseHistories))
		for _, h := range ru.PurchaseHistories {
			histSeq++
			tx, err := resolveHistory(user.ID, h, pharmacyIDs, maskIDs, histSeq)
			if err != nil {
				return nil, fmt.Errorf("user %q: %w", ru.Name, err)
			}
			txs = append(txs, tx)
		}
		if len(txs) > 0 {
			if err := l.store.AppendTransactions(ctx, txs); err != nil {
				return nil, fmt.Errorf("user %q: append history: %w", ru.Name, err)
			}
			result.Transactions += len(txs)
		}
	}

	return result, nil
}

func resolveHistory(userID market.UserID, h rawHistory,
	pharmacyIDs map[string]market.PharmacyID,
	maskIDs map[string]map[string]market.MaskID, seq int) (market.Transaction, error) {

	pharmacyID, ok := pharmacyIDs[h.PharmacyName]
	if !ok {
		return market.Transaction{}, fmt.Errorf("history references unknown pharmacy %q", h.PharmacyName)
	}
	maskID, ok := maskIDs[h.PharmacyName][h.MaskName]
	if !ok {
		return market.Transaction{}, fmt.Errorf("history references unknown mask %q at %q", h.MaskName, h.PharmacyName)
	}
	if h.TransactionQuantity <= 0 {
		return market.Transaction{}, fmt.Errorf("history at %q: non-positive quantity %d", h.PharmacyName, h.TransactionQuantity)
	}
	total, err := parseMoney(h.TransactionAmount)
	if err != nil {
		return market.Transaction{}, fmt.Errorf("history at %q: transactionAmount: %w", h.PharmacyName, err)
	}
	occurredAt, err := time.Parse(historyTimeLayout, h.TransactionDatetime)
	if err != nil {
		return market.Transaction{}, fmt.Errorf("history at %q: transactionDatetime: %w", h.PharmacyName, err)
	}

	// The export records only the total; back out the unit price.
	unit := total.DivRound(decimal.NewFromInt(int64(h.TransactionQuantity)), 4)

	return market.Transaction{
		PurchaseID: market.PurchaseID(fmt.Sprintf("import-%06d", seq)),
		UserID:     userID,
		PharmacyID: pharmacyID,
		MaskID:     maskID,
		Quantity:   h.TransactionQuantity,
		UnitPrice:  unit,
		Total:      total,
		OccurredAt: occurredAt.UTC(),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func readJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	return dec.Decode(v)
}

func parseMoney(n json.Number) (market.Money, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", d)
	}
	return d, nil
}
