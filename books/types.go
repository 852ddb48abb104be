/*
Package books provides the core bookkeeping engine.

PURPOSE:
  This package contains the entity model and the derived-value rules for a
  small parts business: parts and their stock levels, clients, the four
  transaction kinds (income, delivery, invoice, sell), their line items,
  and the debt ledger that records what is owed between the business, its
  clients, and itself.

KEY CONCEPTS IN THIS FILE (types.go):
  - Part / Stock:    A catalog item and its per-part stock counters
  - Client:          A customer with a derived net balance (saldo)
  - Transaction:     A dated business document with total/discount/debt
  - LineItem:        A part+quantity row belonging to one transaction
  - DebtEntry:       A tagged ledger record of an outstanding amount

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all money, never floats
  2. Derived fields are never trusted from input, always recomputed
  3. Variants are tagged (Kind fields), not type hierarchies
  4. Quantities may go negative; that is data to review, not an error

SEE ALSO:
  - calc.go:   Per-record derived field computation
  - engine.go: Multi-record propagation after each edit
  - ledger.go: Debt ledger rules per transaction kind
  - store.go:  Persistence interfaces
*/
package books

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PART & STOCK
// =============================================================================

// Part is a catalog item. Its identity is independent of stock on hand.
type Part struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// Stock tracks per-part movement counters. One row per part, created
// lazily the first time a line item references the part.
//
// INVARIANTS:
//   - PCount and SSum are always recomputed from the three counters and
//     the part's current price. They are never edited directly.
//   - The counters themselves are aggregates over surviving line items,
//     maintained by the propagation engine.
type Stock struct {
	ID      int64
	PartID  int64
	PIncome int   // received into store
	POutgo  int   // sold from store via invoices
	PSell   int   // sold from store via shop sales
	PCount  int   // derived: PIncome - POutgo - PSell
	SSum    decimal.Decimal // derived: PCount x current part price
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a customer. Saldo is the client's net outstanding balance,
// derived from the debt ledger; it is never written by a user.
type Client struct {
	ID    int64
	Name  string
	Phone string
	Memo  string
	Photo string // opaque attachment reference
	Saldo decimal.Decimal
}

// =============================================================================
// TRANSACTION - Dated business document
// =============================================================================

type TransactionKind string

const (
	TxIncome   TransactionKind = "income"   // stock replenishment (delivery to store)
	TxDelivery TransactionKind = "delivery" // direct delivery to a client
	TxInvoice  TransactionKind = "invoice"  // sale from store to a client
	TxSell     TransactionKind = "sell"     // anonymous sale from shop
)

// Valid reports whether k is one of the four transaction kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case TxIncome, TxDelivery, TxInvoice, TxSell:
		return true
	}
	return false
}

// RequiresClient reports whether the kind is client-bound.
func (k TransactionKind) RequiresClient() bool {
	return k == TxDelivery || k == TxInvoice
}

// Transaction is one business document. Total is the aggregate of its
// line item totals; Debt = Total - Discount; Amount is paid-so-far.
type Transaction struct {
	ID       int64
	Kind     TransactionKind
	ClientID *int64 // set for delivery and invoice
	Total    decimal.Decimal
	Discount decimal.Decimal
	Debt     decimal.Decimal // derived
	Amount   decimal.Decimal
	VDate    time.Time
	Memo     string
}

// =============================================================================
// LINE ITEM - Part/quantity row under one transaction
// =============================================================================

type LineKind string

const (
	LineStoreIncome  LineKind = "store_income"  // under income
	LineInvoiceOut   LineKind = "invoice_out"   // under invoice
	LineDeliveryPart LineKind = "delivery_part" // under delivery
	LineStoreSell    LineKind = "store_sell"    // under sell
)

func (k LineKind) Valid() bool {
	switch k {
	case LineStoreIncome, LineInvoiceOut, LineDeliveryPart, LineStoreSell:
		return true
	}
	return false
}

// ParentKind returns the transaction kind this line kind belongs under.
func (k LineKind) ParentKind() TransactionKind {
	switch k {
	case LineStoreIncome:
		return TxIncome
	case LineInvoiceOut:
		return TxInvoice
	case LineDeliveryPart:
		return TxDelivery
	case LineStoreSell:
		return TxSell
	}
	return ""
}

// LineKindFor returns the line kind used under the given transaction kind.
func LineKindFor(k TransactionKind) LineKind {
	switch k {
	case TxIncome:
		return LineStoreIncome
	case TxInvoice:
		return LineInvoiceOut
	case TxDelivery:
		return LineDeliveryPart
	case TxSell:
		return LineStoreSell
	}
	return ""
}

// Counter identifies which stock counter a line kind feeds.
type Counter int

const (
	CounterNone   Counter = iota // delivery lines bypass the store
	CounterIncome                // Stock.PIncome
	CounterOutgo                 // Stock.POutgo
	CounterSell                  // Stock.PSell
)

// StockCounter returns the stock counter this line kind aggregates into.
// Delivery parts go straight from supplier to client and move no store
// counter; they still drive the parent transaction's total.
func (k LineKind) StockCounter() Counter {
	switch k {
	case LineStoreIncome:
		return CounterIncome
	case LineInvoiceOut:
		return CounterOutgo
	case LineStoreSell:
		return CounterSell
	}
	return CounterNone
}

// LineItem belongs to exactly one transaction and references one part.
// Price snapshots the part's price at creation and is frozen thereafter,
// so historical totals survive future price changes.
type LineItem struct {
	ID     int64
	Kind   LineKind
	TxID   int64
	PartID int64
	PCount int // signed; negative values are allowed (data-entry anomaly)
	Price  decimal.Decimal
	Total  decimal.Decimal // derived: PCount x Price
	VDate  time.Time
}

// =============================================================================
// DEBT LEDGER ENTRY - Tagged record of an outstanding amount
// =============================================================================

// DebtType classifies who owes whom.
type DebtType string

const (
	DebtTypeMy     DebtType = "my_debt"     // the business owes (supplier, delivery stock)
	DebtTypeClient DebtType = "client_debt" // a client owes the business
	DebtTypeSell   DebtType = "sell_debt"   // outstanding anonymous shop sales
)

// DebtKind identifies which rule produced the entry. Transaction-linked
// kinds are maintained exclusively by the propagation engine; the
// adjustment kind is a freestanding, user-managed client debt row.
type DebtKind string

const (
	DebtIncome           DebtKind = "income_debt"
	DebtDelivery         DebtKind = "delivery_debt"
	DebtClientDelivery   DebtKind = "client_delivery_debt"
	DebtClientInvoice    DebtKind = "client_invoice_debt"
	DebtSell             DebtKind = "sell_debt"
	DebtClientAdjustment DebtKind = "client_adjustment"
)

func (k DebtKind) Valid() bool {
	switch k {
	case DebtIncome, DebtDelivery, DebtClientDelivery, DebtClientInvoice,
		DebtSell, DebtClientAdjustment:
		return true
	}
	return false
}

// Type returns the debt classification for this kind.
func (k DebtKind) Type() DebtType {
	switch k {
	case DebtIncome, DebtDelivery:
		return DebtTypeMy
	case DebtClientDelivery, DebtClientInvoice, DebtClientAdjustment:
		return DebtTypeClient
	case DebtSell:
		return DebtTypeSell
	}
	return ""
}

// ClientScoped reports whether entries of this kind feed a client's saldo.
func (k DebtKind) ClientScoped() bool {
	return k.Type() == DebtTypeClient
}

// DebtEntry is one ledger record. TxID links transaction-produced entries
// to their origin (at most one entry per transaction and kind); it is nil
// for freestanding adjustments.
type DebtEntry struct {
	ID       int64
	Kind     DebtKind
	Type     DebtType
	Total    decimal.Decimal
	Amount   decimal.Decimal // paid so far against Total
	VDate    time.Time
	TxID     *int64
	ClientID *int64
}

// Linked reports whether the entry is tied to an originating transaction.
// Linked entries may only disappear when the transaction itself does.
func (e *DebtEntry) Linked() bool {
	return e.TxID != nil
}
