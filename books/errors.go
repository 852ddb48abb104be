/*
errors.go - Centralized error types for the bookkeeping engine

PURPOSE:
  All error types in one place. The taxonomy mirrors how the system
  treats failures:

  1. Integrity faults  - ambiguous natural keys; fatal, never auto-repaired
  2. Referential faults - deletes blocked while rows are referenced;
     rejected at the API boundary, the core assumes cascade/restrict
     rules in the store
  3. Validation errors  - malformed input (unknown kinds, missing client)

  Negative stock and negative counts are deliberately NOT errors. They
  are recorded and left for human review.

USAGE:
  if errors.Is(err, books.ErrAmbiguousDebtEntry) { ... }
*/
package books

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAmbiguousDebtEntry is returned when a natural-key upsert finds
	// more than one candidate ledger row. This is a data-integrity fault:
	// the engine raises instead of silently picking one.
	ErrAmbiguousDebtEntry = errors.New("ambiguous debt ledger entry")

	// ErrLedgerEntryLinked is returned when deleting or editing a ledger
	// entry that is tied to an originating transaction. Linked entries
	// only disappear when the transaction itself is deleted.
	ErrLedgerEntryLinked = errors.New("debt entry is linked to a transaction")

	// ErrClientRequired is returned when a delivery or invoice is saved
	// without a client.
	ErrClientRequired = errors.New("transaction kind requires a client")

	// ErrInvalidKind is returned for an unknown transaction, line, or
	// debt kind.
	ErrInvalidKind = errors.New("invalid kind")

	// ErrParentMismatch is returned when a line item's kind does not
	// match its parent transaction's kind.
	ErrParentMismatch = errors.New("line kind does not match parent transaction")

	// ErrReferenced is returned by the boundary when deleting a part or
	// client that is still referenced by other rows.
	ErrReferenced = errors.New("record is still referenced")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmbiguousDebtEntryError reports which natural key matched multiple rows.
type AmbiguousDebtEntryError struct {
	Kind  DebtKind
	TxID  int64
	Count int
}

func (e *AmbiguousDebtEntryError) Error() string {
	return fmt.Sprintf("ambiguous debt entry: %d rows match (kind=%s, tx=%d)",
		e.Count, e.Kind, e.TxID)
}

func (e *AmbiguousDebtEntryError) Unwrap() error {
	return ErrAmbiguousDebtEntry
}

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether the error should surface as a conflict to
// the administrative layer (integrity and referential faults).
func IsConflict(err error) bool {
	return errors.Is(err, ErrAmbiguousDebtEntry) ||
		errors.Is(err, ErrLedgerEntryLinked) ||
		errors.Is(err, ErrReferenced)
}

// IsClientError reports whether the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrClientRequired) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrParentMismatch)
}
