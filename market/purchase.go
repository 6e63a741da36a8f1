/*
purchase.go - Multi-pharmacy purchase engine

PURPOSE:
  Executes a single user purchase that may span several pharmacies and
  masks: validates funds and stock, then atomically decrements stock,
  credits each pharmacy, debits the user once for the grand total, and
  appends one Transaction row per line item sharing a purchase ID and
  timestamp.

EXECUTION MODEL:
  Two phases inside one store transaction:

  1. Validate. Load the user and every line's mask, checking existence,
     ownership, stock, and the total against the user's balance. Nothing
     is written; a failure here surfaces the precise precondition error.
  2. Apply. Every stock decrement and the user debit go through the
     store's conditional-write primitives, which re-assert the invariant
     at commit time. A conditional write that applies nothing after phase
     1 passed means a concurrent purchase changed the row; the whole
     transaction rolls back and the engine retries from scratch.

  Retries are bounded (maxAttempts). On exhaustion the caller gets
  ErrConflict, which is safe to retry: nothing was applied.

INVARIANTS:
  - No partial purchases are ever visible; all mutations of one request
    commit together or not at all.
  - sum of per-line totals == amount debited from the user.
  - Stock and balances never go negative, under any interleaving.
  - Transaction rows are append-only snapshots; later price changes do
    not rewrite them.

SEE ALSO:
  - inventory.go: the other writer of mask stock
  - aggregate.go: read-only consumers of the transaction rows
*/
package market

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// maxAttempts bounds internal retries when concurrent purchases contend
// for the same rows.
const maxAttempts = 3

// errRetryPurchase signals that phase-1 validation passed but a
// conditional write lost to a concurrent transaction. Internal only;
// surfaced as ErrConflict once retries are exhausted.
var errRetryPurchase = errors.New("purchase lost conditional write, retry")

// PurchaseEngine orchestrates multi-pharmacy purchases.
type PurchaseEngine struct {
	store TxStore

	// now is swappable for tests.
	now func() time.Time
}

func NewPurchaseEngine(store TxStore) *PurchaseEngine {
	return &PurchaseEngine{store: store, now: time.Now}
}

// ExecutePurchase runs one purchase for userID covering every line item.
// On success it returns the written Transaction rows, one per line, all
// sharing a purchase ID and timestamp.
func (e *PurchaseEngine) ExecutePurchase(ctx context.Context, userID UserID, lines []PurchaseLine) ([]Transaction, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		txs, err := e.attempt(ctx, userID, lines)
		if err == nil {
			return txs, nil
		}
		if !errors.Is(err, errRetryPurchase) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

// validateLines rejects malformed requests before any storage access.
func validateLines(lines []PurchaseLine) error {
	if len(lines) == 0 {
		return validationf(0, "line_items", "must not be empty")
	}

	type pair struct {
		pharmacy PharmacyID
		mask     MaskID
	}
	seen := make(map[pair]int, len(lines))

	var verr ValidationError
	for i, line := range lines {
		if line.Quantity <= 0 {
			verr.Issues = append(verr.Issues, ValidationIssue{
				Line: i, Field: "quantity",
				Message: fmt.Sprintf("must be positive, got %d", line.Quantity),
			})
		}
		p := pair{line.PharmacyID, line.MaskID}
		if first, dup := seen[p]; dup {
			// Duplicates are rejected rather than summed: two lines for
			// the same mask make the caller's intent ambiguous.
			verr.Issues = append(verr.Issues, ValidationIssue{
				Line: i, Field: "line_items",
				Message: fmt.Sprintf("duplicate of item %d (pharmacy %d, mask %d)", first, p.pharmacy, p.mask),
			})
		} else {
			seen[p] = i
		}
	}
	if len(verr.Issues) > 0 {
		return &verr
	}
	return nil
}

// attempt runs one full validate-and-apply pass inside a store
// transaction. A returned errRetryPurchase means the transaction rolled
// back because a conditional write observed concurrent interference.
func (e *PurchaseEngine) attempt(ctx context.Context, userID UserID, lines []PurchaseLine) ([]Transaction, error) {
	purchaseID, err := newPurchaseID()
	if err != nil {
		return nil, fmt.Errorf("generate purchase id: %w", err)
	}
	occurredAt := e.now().UTC()

	var txs []Transaction
	err = e.store.WithTx(ctx, func(s Store) error {
		// Phase 1: validate against current committed state.
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if user == nil {
			return &NotFoundError{Kind: "user", ID: int64(userID)}
		}

		masks := make([]*Mask, len(lines))
		total := decimal.Zero
		for i, line := range lines {
			mask, err := s.GetMask(ctx, line.MaskID)
			if err != nil {
				return fmt.Errorf("load mask: %w", err)
			}
			if mask == nil {
				return &NotFoundError{Kind: "mask", ID: int64(line.MaskID)}
			}
			if mask.PharmacyID != line.PharmacyID {
				return &MaskNotInPharmacyError{PharmacyID: line.PharmacyID, MaskID: line.MaskID}
			}
			if mask.StockQuantity < line.Quantity {
				return &InsufficientStockError{
					MaskID:    mask.ID,
					MaskName:  mask.Name,
					Line:      i,
					Available: mask.StockQuantity,
					Requested: line.Quantity,
				}
			}
			masks[i] = mask
			total = total.Add(mask.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		if user.CashBalance.LessThan(total) {
			return &InsufficientFundsError{
				UserID:    userID,
				Available: user.CashBalance,
				Required:  total,
			}
		}

		// Phase 2: apply. Conditional writes re-assert stock and balance
		// under the transaction; losing one means a concurrent purchase
		// invalidated phase 1, so the whole attempt rolls back.
		txs = txs[:0]
		for i, line := range lines {
			applied, err := s.AdjustStock(ctx, line.MaskID, -line.Quantity)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if !applied {
				return errRetryPurchase
			}

			subtotal := masks[i].Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			if err := s.CreditPharmacy(ctx, line.PharmacyID, subtotal); err != nil {
				return fmt.Errorf("credit pharmacy: %w", err)
			}

			txs = append(txs, Transaction{
				PurchaseID: purchaseID,
				UserID:     userID,
				PharmacyID: line.PharmacyID,
				MaskID:     line.MaskID,
				Quantity:   line.Quantity,
				UnitPrice:  masks[i].Price,
				Total:      subtotal,
				OccurredAt: occurredAt,
			})
		}

		applied, err := s.DebitUser(ctx, userID, total)
		if err != nil {
			return fmt.Errorf("debit user: %w", err)
		}
		if !applied {
			return errRetryPurchase
		}

		if err := s.AppendTransactions(ctx, txs); err != nil {
			return fmt.Errorf("append transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func newPurchaseID() (PurchaseID, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return PurchaseID(hex.EncodeToString(buf)), nil
}
