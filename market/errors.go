/*
errors.go - Centralized error types for the market engine

PURPOSE:
  All recoverable error types in one place. Every failure a caller can act
  on unwraps to one of the sentinels below; anything else is an internal
  storage fault wrapped with %w and surfaced as-is.

ERROR CATEGORIES:
  1. NotFound            - referenced entity absent
  2. Validation          - malformed input, rejected before any mutation
  3. InsufficientStock   - a line asks for more units than are on hand
  4. InsufficientFunds   - purchase total exceeds the user's balance
  5. Conflict            - transient concurrency contention, retryable

USAGE:
  if errors.Is(err, market.ErrInsufficientStock) { ... }

  var stockErr *market.InsufficientStockError
  if errors.As(err, &stockErr) {
      // stockErr.MaskID, stockErr.Available, stockErr.Requested
  }
*/
package market

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced pharmacy, mask, or user
	// does not exist (or a mask does not belong to the named pharmacy).
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input: non-positive price,
	// negative stock, reversed price range, blank search term, duplicate
	// purchase lines. Validation failures never leave partial state.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when a stock change would drive a
	// mask's quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientFunds is returned when a purchase total exceeds the
	// user's cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is returned when concurrent purchases contended for the
	// same rows and bounded retry was exhausted. Safe for callers to retry.
	ErrConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Kind string // "pharmacy", "mask", "user"
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// MaskNotInPharmacyError is returned when a mask exists but does not belong
// to the pharmacy named in the request.
type MaskNotInPharmacyError struct {
	PharmacyID PharmacyID
	MaskID     MaskID
}

func (e *MaskNotInPharmacyError) Error() string {
	return fmt.Sprintf("pharmacy %d has no mask %d", e.PharmacyID, e.MaskID)
}

func (e *MaskNotInPharmacyError) Unwrap() error { return ErrNotFound }

// ValidationError reports one or more rejected input items. Line is the
// zero-based index of the offending item where the input is positional.
type ValidationError struct {
	Issues []ValidationIssue
}

type ValidationIssue struct {
	Line    int    `json:"line"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		i := e.Issues[0]
		return fmt.Sprintf("validation failed: item %d: %s %s", i.Line, i.Field, i.Message)
	}
	parts := make([]string, len(e.Issues))
	for n, i := range e.Issues {
		parts[n] = fmt.Sprintf("item %d: %s %s", i.Line, i.Field, i.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationf(line int, field, format string, args ...any) *ValidationError {
	return &ValidationError{Issues: []ValidationIssue{{
		Line:    line,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}}}
}

// InsufficientStockError names the failing mask and, for purchases, the
// offending line index.
type InsufficientStockError struct {
	MaskID    MaskID
	MaskName  string
	Line      int
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for mask %d (%s): available %d, requested %d",
		e.MaskID, e.MaskName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientFundsError reports the shortfall for a rejected purchase.
type InsufficientFundsError struct {
	UserID    UserID
	Available Money
	Required  Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for user %d: available %s, required %s",
		e.UserID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller's input or
// account state rather than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientFunds)
}
