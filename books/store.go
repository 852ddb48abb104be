/*
store.go - Persistence interfaces for the bookkeeping engine

PURPOSE:
  Defines the contract between the engine and the database. The engine
  only ever needs row-level CRUD, filter-by-foreign-key reads, SUM
  aggregates that coalesce empty sets to zero, and an upsert keyed by a
  natural key. Anything fancier belongs to the implementation.

ATOMICITY:
  Every user-initiated edit runs the full propagation chain inside one
  WithTx call. Either all derived writes (stock counters, parent total,
  ledger entries, client saldo) land, or none do. The engine never
  persists partial derived state.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store

SEE ALSO:
  - engine.go: the only writer of derived fields
*/
package books

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Row-level persistence
// =============================================================================

// Store is the persistence contract consumed by the engine and the
// administrative layer. All SUM aggregates return zero over empty sets.
type Store interface {
	// Parts
	GetPart(ctx context.Context, id int64) (*Part, error)
	SavePart(ctx context.Context, p *Part) error
	DeletePart(ctx context.Context, id int64) error
	ListParts(ctx context.Context) ([]Part, error)
	// PartReferenced reports whether any line item still references the
	// part. Used by the boundary to reject deletes; the part's stock row
	// is derived state and cascades away with it.
	PartReferenced(ctx context.Context, id int64) (bool, error)

	// Clients
	GetClient(ctx context.Context, id int64) (*Client, error)
	SaveClient(ctx context.Context, c *Client) error
	SetClientSaldo(ctx context.Context, id int64, saldo decimal.Decimal) error
	DeleteClient(ctx context.Context, id int64) error
	ListClients(ctx context.Context) ([]Client, error)
	ClientReferenced(ctx context.Context, id int64) (bool, error)

	// Stock
	// GetStock returns nil when no row exists for the part yet.
	GetStock(ctx context.Context, partID int64) (*Stock, error)
	// UpsertStock writes the row keyed by PartID, creating it lazily.
	UpsertStock(ctx context.Context, s *Stock) error
	ListStock(ctx context.Context) ([]Stock, error)

	// Transactions
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	SaveTransaction(ctx context.Context, t *Transaction) error
	// DeleteTransaction cascades to the transaction's line items and
	// linked debt entries.
	DeleteTransaction(ctx context.Context, id int64) error
	// ListTransactions filters by kind; the empty kind lists all.
	ListTransactions(ctx context.Context, kind TransactionKind) ([]Transaction, error)

	// Line items
	GetLineItem(ctx context.Context, id int64) (*LineItem, error)
	SaveLineItem(ctx context.Context, l *LineItem) error
	DeleteLineItem(ctx context.Context, id int64) error
	ListLineItems(ctx context.Context, txID int64) ([]LineItem, error)
	// SumLineCounts aggregates PCount over surviving line items of one
	// kind for one part.
	SumLineCounts(ctx context.Context, kind LineKind, partID int64) (int, error)
	// SumLineTotals aggregates Total over surviving line items of one
	// parent transaction.
	SumLineTotals(ctx context.Context, txID int64) (decimal.Decimal, error)

	// Debt ledger
	GetDebtEntry(ctx context.Context, id int64) (*DebtEntry, error)
	// FindDebtEntry resolves the natural key (kind, originating tx).
	// Returns nil when no row matches and ErrAmbiguousDebtEntry when
	// more than one does.
	FindDebtEntry(ctx context.Context, kind DebtKind, txID int64) (*DebtEntry, error)
	SaveDebtEntry(ctx context.Context, e *DebtEntry) error
	DeleteDebtEntry(ctx context.Context, id int64) error
	ListDebtEntries(ctx context.Context, kind DebtKind) ([]DebtEntry, error)
	ListClientDebtEntries(ctx context.Context, clientID int64) ([]DebtEntry, error)
	// SumClientDebt aggregates Total and Amount over all client-debt
	// typed entries of one client.
	SumClientDebt(ctx context.Context, clientID int64) (total, amount decimal.Decimal, err error)
	// DebtAmount is the ledger read model: SUM(Total) - SUM(Amount)
	// across all entries of one kind.
	DebtAmount(ctx context.Context, kind DebtKind) (decimal.Decimal, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. The engine runs every
// propagation chain through WithTx: if fn returns an error the whole
// unit of work is rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
