/*
inventory.go - Stock and catalog mutations

PURPOSE:
  The Inventory service owns the two catalog-side write paths: single-mask
  stock adjustment and batch catalog upsert. Both validate fully before
  touching storage, so a rejected request never leaves partial state.

OPERATIONS:
  AdjustStock:      single atomic read-modify-write on one mask row
  BatchUpsertMasks: all-or-nothing create/overwrite of a pharmacy's items

SEE ALSO:
  - purchase.go: the other writer of mask stock
  - store.go: the conditional-write primitives these compose
*/
package market

import (
	"context"
	"fmt"
)

// Inventory applies stock-quantity and catalog changes.
type Inventory struct {
	store TxStore
}

func NewInventory(store TxStore) *Inventory {
	return &Inventory{store: store}
}

// AdjustStock applies a signed delta to one mask's stock quantity and
// returns the updated mask. The decrement path is a single conditional
// write, so concurrent adjusters of the same mask cannot drive the
// quantity negative between a check and an update.
func (inv *Inventory) AdjustStock(ctx context.Context, maskID MaskID, delta int) (*Mask, error) {
	mask, err := inv.store.GetMask(ctx, maskID)
	if err != nil {
		return nil, fmt.Errorf("load mask: %w", err)
	}
	if mask == nil {
		return nil, &NotFoundError{Kind: "mask", ID: int64(maskID)}
	}

	applied, err := inv.store.AdjustStock(ctx, maskID, delta)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	if !applied {
		return nil, &InsufficientStockError{
			MaskID:    maskID,
			MaskName:  mask.Name,
			Available: mask.StockQuantity,
			Requested: -delta,
		}
	}

	updated, err := inv.store.GetMask(ctx, maskID)
	if err != nil {
		return nil, fmt.Errorf("reload mask: %w", err)
	}
	if updated == nil {
		return nil, &NotFoundError{Kind: "mask", ID: int64(maskID)}
	}
	return updated, nil
}

// BatchUpsertMasks creates or overwrites the given items under one
// pharmacy as a single atomic batch. Items are validated up front; if any
// item has a non-positive price or negative stock, the whole batch is
// rejected with a ValidationError listing every offender and nothing is
// written. Name uniqueness is scoped to the pharmacy.
func (inv *Inventory) BatchUpsertMasks(ctx context.Context, pharmacyID PharmacyID, items []MaskInput) ([]Mask, error) {
	if len(items) == 0 {
		return nil, validationf(0, "items", "must not be empty")
	}

	var verr ValidationError
	for i, item := range items {
		if item.Name == "" {
			verr.Issues = append(verr.Issues, ValidationIssue{Line: i, Field: "name", Message: "must not be empty"})
		}
		if !item.Price.IsPositive() {
			verr.Issues = append(verr.Issues, ValidationIssue{Line: i, Field: "price", Message: fmt.Sprintf("must be positive, got %s", item.Price)})
		}
		if item.StockQuantity < 0 {
			verr.Issues = append(verr.Issues, ValidationIssue{Line: i, Field: "stock_quantity", Message: fmt.Sprintf("must not be negative, got %d", item.StockQuantity)})
		}
	}
	if len(verr.Issues) > 0 {
		return nil, &verr
	}

	var result []Mask
	err := inv.store.WithTx(ctx, func(s Store) error {
		pharmacy, err := s.GetPharmacy(ctx, pharmacyID)
		if err != nil {
			return fmt.Errorf("load pharmacy: %w", err)
		}
		if pharmacy == nil {
			return &NotFoundError{Kind: "pharmacy", ID: int64(pharmacyID)}
		}

		for _, item := range items {
			existing, err := s.GetMaskByName(ctx, pharmacyID, item.Name)
			if err != nil {
				return fmt.Errorf("look up mask %q: %w", item.Name, err)
			}
			if existing != nil {
				if err := s.UpdateMaskCatalog(ctx, existing.ID, item.Price, item.StockQuantity); err != nil {
					return fmt.Errorf("update mask %q: %w", item.Name, err)
				}
			} else {
				mask := &Mask{
					PharmacyID:    pharmacyID,
					Name:          item.Name,
					Price:         item.Price,
					StockQuantity: item.StockQuantity,
				}
				if err := s.InsertMask(ctx, mask); err != nil {
					return fmt.Errorf("insert mask %q: %w", item.Name, err)
				}
			}

			saved, err := s.GetMaskByName(ctx, pharmacyID, item.Name)
			if err != nil {
				return fmt.Errorf("reload mask %q: %w", item.Name, err)
			}
			result = append(result, *saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
