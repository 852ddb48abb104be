/*
ledger.go - Debt ledger rules per transaction kind

PURPOSE:
  Maps each debt-bearing transaction kind to the ledger entries it must
  maintain, and applies the upsert that keeps them synchronized. The
  natural key is (originating transaction, kind); finding more than one
  candidate row is an integrity fault, never silently repaired.

RULES:
  income   -> income_debt          (my debt to the supplier)
  sell     -> sell_debt            (outstanding shop sales)
  invoice  -> client_invoice_debt  (client owes for the invoice)
  delivery -> delivery_debt        (stock handed over: my debt)
            + client_delivery_debt (payment due: client debt)

  A delivery produces two entries at once because it simultaneously
  creates an obligation owed to the client and one owed by the client.
  Entry totals copy the transaction's post-discount Debt. The paid
  Amount is mirrored onto every entry except delivery_debt, which
  tracks the stock side and keeps its own paid figure.
*/
package books

import "context"

type debtRule struct {
	kind       DebtKind
	copyAmount bool
}

// debtRulesFor returns the ledger entries a transaction kind maintains.
func debtRulesFor(kind TransactionKind) []debtRule {
	switch kind {
	case TxIncome:
		return []debtRule{{kind: DebtIncome, copyAmount: true}}
	case TxSell:
		return []debtRule{{kind: DebtSell, copyAmount: true}}
	case TxInvoice:
		return []debtRule{{kind: DebtClientInvoice, copyAmount: true}}
	case TxDelivery:
		return []debtRule{
			{kind: DebtDelivery, copyAmount: false},
			{kind: DebtClientDelivery, copyAmount: true},
		}
	}
	return nil
}

// syncDebtEntries upserts the ledger entries for one transaction's
// current state. Must run after the transaction's own derived fields
// are persisted.
func syncDebtEntries(ctx context.Context, s Store, t *Transaction) error {
	for _, rule := range debtRulesFor(t.Kind) {
		entry, err := s.FindDebtEntry(ctx, rule.kind, t.ID)
		if err != nil {
			return err
		}
		if entry == nil {
			txID := t.ID
			entry = &DebtEntry{
				Kind:  rule.kind,
				TxID:  &txID,
				VDate: t.VDate,
			}
		}
		entry.Type = rule.kind.Type()
		entry.ClientID = t.ClientID
		entry.Total = t.Debt
		if rule.copyAmount {
			entry.Amount = t.Amount
		}
		if err := s.SaveDebtEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// refreshSaldo recomputes one client's saldo from all of their
// client-debt entries. Sums coalesce to zero over empty sets, so a
// client whose last entry was just deleted ends at zero, not at a
// stale figure.
func refreshSaldo(ctx context.Context, s Store, clientID int64) error {
	total, amount, err := s.SumClientDebt(ctx, clientID)
	if err != nil {
		return err
	}
	return s.SetClientSaldo(ctx, clientID, total.Sub(amount))
}
