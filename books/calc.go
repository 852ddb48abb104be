/*
calc.go - Per-record derived field computation

PURPOSE:
  Pure computation of a single record's derived fields. No queries, no
  side effects beyond writing the computed field onto the record. The
  multi-record aggregation that feeds these calculations lives in
  engine.go.

RULES:
  Transaction.Debt = Total - Discount
  LineItem.Total   = PCount x Price (Price frozen at creation)
  Stock.PCount     = PIncome - POutgo - PSell
  Stock.SSum       = PCount x current part price (mark-to-market)

Note the asymmetry: line item prices are snapshots so historical totals
never move, while stock valuation always uses the part's current price.
*/
package books

import "github.com/shopspring/decimal"

// RecalcDebt writes the transaction's derived debt field.
func (t *Transaction) RecalcDebt() {
	t.Debt = t.Total.Sub(t.Discount)
}

// RecalcTotal writes the line's derived total from its frozen price.
func (l *LineItem) RecalcTotal() {
	l.Total = l.Price.Mul(decimal.NewFromInt(int64(l.PCount)))
}

// Recalc writes the stock row's derived fields from its counters and the
// part's current price. Negative counts are allowed; an oversold part is
// a data-entry problem for a human, not an engine error.
func (s *Stock) Recalc(price decimal.Decimal) {
	s.PCount = s.PIncome - s.POutgo - s.PSell
	s.SSum = price.Mul(decimal.NewFromInt(int64(s.PCount)))
}
