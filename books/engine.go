/*
engine.go - Ordered propagation of derived values after each edit

PURPOSE:
  The Engine is the only writer of derived state. Every create, update,
  or delete of a line item, transaction, or freestanding debt row runs
  here, synchronously, inside one store transaction.

PROPAGATION ORDER (later steps read earlier steps' values):
  1. Line item change  -> re-aggregate the stock counter for (kind, part)
  2. Line item change  -> re-aggregate the parent transaction's total,
                          which re-derives the parent's debt
  3. Transaction change -> upsert the matching debt ledger entries
  4. Ledger change      -> recompute the client's saldo

WHY RE-AGGREGATE INSTEAD OF INCREMENT?
  Deleting a line could decrement the counter by its old quantity, but
  any drift (a missed edit, a crashed half-update) would then persist
  forever. Summing the surviving rows converges to the truth every time.
  Volumes are human-entered business records; the aggregates are cheap.

ATOMICITY:
  Each public method wraps its whole chain in WithTx. A failure anywhere
  rolls back everything; partial derived state (stock updated, saldo
  stale) is a correctness bug, not a degraded mode. No retries here -
  retry-on-conflict is the caller's decision.

ESCAPE HATCHES:
  RecountStock / RecountAllStock re-derive stock counters from scratch,
  for repairing drift caused by out-of-band edits.

SEE ALSO:
  - calc.go:   the per-record derived field rules
  - ledger.go: the per-kind debt entry rules
*/
package books

import (
	"context"
	"time"
)

// Engine applies edits and propagates derived values. All operations are
// synchronous and atomic; concurrent edits serialize through the store's
// transaction isolation.
type Engine struct {
	store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// SaveLineItem creates or updates a line item and propagates: line total,
// stock counter, parent total/debt, ledger entries, client saldo.
func (e *Engine) SaveLineItem(ctx context.Context, l *LineItem) error {
	if !l.Kind.Valid() {
		return ErrInvalidKind
	}
	return e.store.WithTx(ctx, func(s Store) error {
		parent, err := s.GetTransaction(ctx, l.TxID)
		if err != nil {
			return err
		}
		if parent == nil {
			return &NotFoundError{Entity: "transaction", ID: l.TxID}
		}
		if l.Kind.ParentKind() != parent.Kind {
			return ErrParentMismatch
		}

		var prevPartID int64
		if l.ID != 0 {
			prev, err := s.GetLineItem(ctx, l.ID)
			if err != nil {
				return err
			}
			if prev == nil {
				return &NotFoundError{Entity: "line item", ID: l.ID}
			}
			// Lines never move between documents; the old parent's
			// total would silently go stale.
			if prev.TxID != l.TxID {
				return ErrParentMismatch
			}
			// The price snapshot is frozen after creation.
			l.Price = prev.Price
			prevPartID = prev.PartID
		} else if l.Price.IsZero() {
			part, err := s.GetPart(ctx, l.PartID)
			if err != nil {
				return err
			}
			if part == nil {
				return &NotFoundError{Entity: "part", ID: l.PartID}
			}
			l.Price = part.Price
		}
		if l.VDate.IsZero() {
			l.VDate = time.Now().UTC()
		}

		l.RecalcTotal()
		if err := s.SaveLineItem(ctx, l); err != nil {
			return err
		}

		if err := refreshStockCounter(ctx, s, l.Kind, l.PartID); err != nil {
			return err
		}
		// Moving a line to another part leaves the old part's counter
		// stale unless it is re-aggregated as well.
		if prevPartID != 0 && prevPartID != l.PartID {
			if err := refreshStockCounter(ctx, s, l.Kind, prevPartID); err != nil {
				return err
			}
		}

		return e.propagateParent(ctx, s, parent)
	})
}

// DeleteLineItem removes a line item and re-runs the same aggregations,
// now excluding the deleted row.
func (e *Engine) DeleteLineItem(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(s Store) error {
		l, err := s.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if l == nil {
			return &NotFoundError{Entity: "line item", ID: id}
		}
		parent, err := s.GetTransaction(ctx, l.TxID)
		if err != nil {
			return err
		}
		if parent == nil {
			return &NotFoundError{Entity: "transaction", ID: l.TxID}
		}

		if err := s.DeleteLineItem(ctx, id); err != nil {
			return err
		}
		if err := refreshStockCounter(ctx, s, l.Kind, l.PartID); err != nil {
			return err
		}
		return e.propagateParent(ctx, s, parent)
	})
}

// propagateParent runs steps 2-4 for one parent transaction: total from
// surviving lines, derived debt, ledger entries, client saldo.
func (e *Engine) propagateParent(ctx context.Context, s Store, t *Transaction) error {
	total, err := s.SumLineTotals(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Total = total
	t.RecalcDebt()
	if err := s.SaveTransaction(ctx, t); err != nil {
		return err
	}
	if err := syncDebtEntries(ctx, s, t); err != nil {
		return err
	}
	if t.ClientID != nil {
		return refreshSaldo(ctx, s, *t.ClientID)
	}
	return nil
}

// refreshStockCounter re-aggregates one counter of one part's stock row,
// upserting the row lazily and re-deriving count and valuation.
func refreshStockCounter(ctx context.Context, s Store, kind LineKind, partID int64) error {
	counter := kind.StockCounter()
	if counter == CounterNone {
		return nil
	}
	sum, err := s.SumLineCounts(ctx, kind, partID)
	if err != nil {
		return err
	}
	st, err := s.GetStock(ctx, partID)
	if err != nil {
		return err
	}
	if st == nil {
		st = &Stock{PartID: partID}
	}
	switch counter {
	case CounterIncome:
		st.PIncome = sum
	case CounterOutgo:
		st.POutgo = sum
	case CounterSell:
		st.PSell = sum
	}
	part, err := s.GetPart(ctx, partID)
	if err != nil {
		return err
	}
	if part == nil {
		return &NotFoundError{Entity: "part", ID: partID}
	}
	st.Recalc(part.Price)
	return s.UpsertStock(ctx, st)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// SaveTransaction creates or updates a transaction, re-derives its debt,
// and synchronizes the debt ledger and client saldo. Kind and the stored
// total are immutable on update; only line item propagation moves the
// total, and the client rules always follow the stored kind.
func (e *Engine) SaveTransaction(ctx context.Context, t *Transaction) error {
	if t.ID == 0 && !t.Kind.Valid() {
		return ErrInvalidKind
	}
	return e.store.WithTx(ctx, func(s Store) error {
		var prevClient *int64
		if t.ID != 0 {
			prev, err := s.GetTransaction(ctx, t.ID)
			if err != nil {
				return err
			}
			if prev == nil {
				return &NotFoundError{Entity: "transaction", ID: t.ID}
			}
			t.Kind = prev.Kind
			t.Total = prev.Total
			prevClient = prev.ClientID
		}
		// Validate after the stored kind is restored: a caller-supplied
		// kind on update must never relax the client requirement.
		if t.Kind.RequiresClient() && t.ClientID == nil {
			return ErrClientRequired
		}
		if !t.Kind.RequiresClient() {
			t.ClientID = nil
		}
		if t.VDate.IsZero() {
			t.VDate = time.Now().UTC()
		}

		t.RecalcDebt()
		if err := s.SaveTransaction(ctx, t); err != nil {
			return err
		}
		if err := syncDebtEntries(ctx, s, t); err != nil {
			return err
		}
		if t.ClientID != nil {
			if err := refreshSaldo(ctx, s, *t.ClientID); err != nil {
				return err
			}
		}
		// Reassigning a delivery/invoice to another client must also
		// rebuild the previous client's saldo.
		if prevClient != nil && (t.ClientID == nil || *prevClient != *t.ClientID) {
			return refreshSaldo(ctx, s, *prevClient)
		}
		return nil
	})
}

// DeleteTransaction removes a transaction, cascading its line items and
// linked debt entries, then re-aggregates the affected stock counters and
// client saldo.
func (e *Engine) DeleteTransaction(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(s Store) error {
		t, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return &NotFoundError{Entity: "transaction", ID: id}
		}
		lines, err := s.ListLineItems(ctx, id)
		if err != nil {
			return err
		}

		if err := s.DeleteTransaction(ctx, id); err != nil {
			return err
		}

		type counterKey struct {
			kind   LineKind
			partID int64
		}
		seen := make(map[counterKey]bool)
		for _, l := range lines {
			key := counterKey{l.Kind, l.PartID}
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := refreshStockCounter(ctx, s, l.Kind, l.PartID); err != nil {
				return err
			}
		}

		if t.ClientID != nil {
			return refreshSaldo(ctx, s, *t.ClientID)
		}
		return nil
	})
}

// =============================================================================
// PARTS & CLIENTS
// =============================================================================

// SavePart creates or updates a part. A price change re-derives the
// part's stock valuation: stock is marked to market, unlike frozen line
// item prices.
func (e *Engine) SavePart(ctx context.Context, p *Part) error {
	return e.store.WithTx(ctx, func(s Store) error {
		if err := s.SavePart(ctx, p); err != nil {
			return err
		}
		st, err := s.GetStock(ctx, p.ID)
		if err != nil {
			return err
		}
		if st == nil {
			return nil
		}
		st.Recalc(p.Price)
		return s.UpsertStock(ctx, st)
	})
}

// SaveClient creates or updates a client. The stored saldo is preserved;
// only ledger propagation writes it.
func (e *Engine) SaveClient(ctx context.Context, c *Client) error {
	return e.store.WithTx(ctx, func(s Store) error {
		if c.ID != 0 {
			prev, err := s.GetClient(ctx, c.ID)
			if err != nil {
				return err
			}
			if prev == nil {
				return &NotFoundError{Entity: "client", ID: c.ID}
			}
			c.Saldo = prev.Saldo
		}
		return s.SaveClient(ctx, c)
	})
}

// =============================================================================
// FREESTANDING DEBT ADJUSTMENTS
// =============================================================================

// SaveAdjustment creates or updates a freestanding client debt row and
// recomputes the client's saldo. Transaction-linked entries cannot be
// edited through this path.
func (e *Engine) SaveAdjustment(ctx context.Context, entry *DebtEntry) error {
	if entry.ClientID == nil {
		return ErrClientRequired
	}
	return e.store.WithTx(ctx, func(s Store) error {
		var prevClient *int64
		if entry.ID != 0 {
			prev, err := s.GetDebtEntry(ctx, entry.ID)
			if err != nil {
				return err
			}
			if prev == nil {
				return &NotFoundError{Entity: "debt entry", ID: entry.ID}
			}
			if prev.Linked() {
				return ErrLedgerEntryLinked
			}
			prevClient = prev.ClientID
		}
		entry.Kind = DebtClientAdjustment
		entry.Type = DebtTypeClient
		entry.TxID = nil
		if entry.VDate.IsZero() {
			entry.VDate = time.Now().UTC()
		}

		if err := s.SaveDebtEntry(ctx, entry); err != nil {
			return err
		}
		if err := refreshSaldo(ctx, s, *entry.ClientID); err != nil {
			return err
		}
		if prevClient != nil && *prevClient != *entry.ClientID {
			return refreshSaldo(ctx, s, *prevClient)
		}
		return nil
	})
}

// DeleteDebtEntry removes a freestanding debt row. Entries linked to a
// transaction are refused; they only disappear with the transaction.
func (e *Engine) DeleteDebtEntry(ctx context.Context, id int64) error {
	return e.store.WithTx(ctx, func(s Store) error {
		entry, err := s.GetDebtEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return &NotFoundError{Entity: "debt entry", ID: id}
		}
		if entry.Linked() {
			return ErrLedgerEntryLinked
		}
		if err := s.DeleteDebtEntry(ctx, id); err != nil {
			return err
		}
		if entry.Kind.ClientScoped() && entry.ClientID != nil {
			return refreshSaldo(ctx, s, *entry.ClientID)
		}
		return nil
	})
}

// =============================================================================
// DRIFT REPAIR
// =============================================================================

// RecountStock re-derives all three counters of one part's stock row
// from the surviving line items.
func (e *Engine) RecountStock(ctx context.Context, partID int64) error {
	return e.store.WithTx(ctx, func(s Store) error {
		return recountStock(ctx, s, partID)
	})
}

// RecountAllStock re-derives stock for every part. Parts with no line
// items end with an all-zero stock row, not a missing one.
func (e *Engine) RecountAllStock(ctx context.Context) error {
	return e.store.WithTx(ctx, func(s Store) error {
		parts, err := s.ListParts(ctx)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if err := recountStock(ctx, s, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func recountStock(ctx context.Context, s Store, partID int64) error {
	part, err := s.GetPart(ctx, partID)
	if err != nil {
		return err
	}
	if part == nil {
		return &NotFoundError{Entity: "part", ID: partID}
	}

	income, err := s.SumLineCounts(ctx, LineStoreIncome, partID)
	if err != nil {
		return err
	}
	outgo, err := s.SumLineCounts(ctx, LineInvoiceOut, partID)
	if err != nil {
		return err
	}
	sold, err := s.SumLineCounts(ctx, LineStoreSell, partID)
	if err != nil {
		return err
	}

	st, err := s.GetStock(ctx, partID)
	if err != nil {
		return err
	}
	if st == nil {
		st = &Stock{PartID: partID}
	}
	st.PIncome = income
	st.POutgo = outgo
	st.PSell = sold
	st.Recalc(part.Price)
	return s.UpsertStock(ctx, st)
}
