/*
dto.go - Request/response data structures for the admin API

PURPOSE:
  JSON shapes exchanged with the administrative frontend. Request
  structs deliberately carry only the user-editable fields; derived
  values (totals, debts, stock counters, saldo) appear in responses
  only. Monetary values travel as decimal strings.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/partstore/bookkeeper/books"
)

const dateLayout = "2006-01-02"

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type PartDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type ClientDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Memo  string `json:"memo,omitempty"`
	Photo string `json:"photo,omitempty"`
	Saldo string `json:"saldo"`
}

type StockDTO struct {
	PartID  int64  `json:"part_id"`
	PIncome int    `json:"p_income"`
	POutgo  int    `json:"p_outgo"`
	PSell   int    `json:"p_sell"`
	PCount  int    `json:"p_count"`
	SSum    string `json:"s_sum"`
}

type TransactionDTO struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	ClientID *int64 `json:"client_id,omitempty"`
	Total    string `json:"total"`
	Discount string `json:"discount"`
	Debt     string `json:"debt"`
	Amount   string `json:"amount"`
	VDate    string `json:"v_date"`
	Memo     string `json:"memo,omitempty"`
}

type LineItemDTO struct {
	ID     int64  `json:"id"`
	Kind   string `json:"kind"`
	TxID   int64  `json:"tx_id"`
	PartID int64  `json:"part_id"`
	PCount int    `json:"p_count"`
	Price  string `json:"price"`
	Total  string `json:"total"`
	VDate  string `json:"v_date"`
}

type DebtEntryDTO struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Type     string `json:"type"`
	Total    string `json:"total"`
	Amount   string `json:"amount"`
	VDate    string `json:"v_date"`
	TxID     *int64 `json:"tx_id,omitempty"`
	ClientID *int64 `json:"client_id,omitempty"`
}

// DebtSummaryDTO carries the cross-row outstanding figure for one
// ledger kind: SUM(total) - SUM(amount).
type DebtSummaryDTO struct {
	Kind       string `json:"kind"`
	Type       string `json:"type"`
	DebtAmount string `json:"debt_amount"`
}

// =============================================================================
// REQUESTS - user-editable fields only
// =============================================================================

type SavePartRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type SaveClientRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Memo  string `json:"memo"`
	Photo string `json:"photo"`
}

// SaveTransactionRequest omits total and debt: totals come from line
// item propagation, debt is derived.
type SaveTransactionRequest struct {
	Kind     string `json:"kind"` // create only; immutable afterwards
	ClientID *int64 `json:"client_id"`
	Discount string `json:"discount"`
	Amount   string `json:"amount"`
	VDate    string `json:"v_date"`
	Memo     string `json:"memo"`
}

// SaveLineRequest accepts a price only so a creation can override the
// part-price snapshot; the engine freezes it afterwards.
type SaveLineRequest struct {
	PartID int64  `json:"part_id"`
	PCount int    `json:"p_count"`
	Price  string `json:"price,omitempty"`
	VDate  string `json:"v_date,omitempty"`
}

// SaveAdjustmentRequest creates a freestanding client debt row; the
// only ledger kind a user may write.
type SaveAdjustmentRequest struct {
	ClientID int64  `json:"client_id"`
	Total    string `json:"total"`
	Amount   string `json:"amount"`
	VDate    string `json:"v_date,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toPartDTO(p books.Part) PartDTO {
	return PartDTO{ID: p.ID, Name: p.Name, Price: p.Price.String()}
}

func toClientDTO(c books.Client) ClientDTO {
	return ClientDTO{
		ID:    c.ID,
		Name:  c.Name,
		Phone: c.Phone,
		Memo:  c.Memo,
		Photo: c.Photo,
		Saldo: c.Saldo.String(),
	}
}

func toStockDTO(s books.Stock) StockDTO {
	return StockDTO{
		PartID:  s.PartID,
		PIncome: s.PIncome,
		POutgo:  s.POutgo,
		PSell:   s.PSell,
		PCount:  s.PCount,
		SSum:    s.SSum.String(),
	}
}

func toTransactionDTO(t books.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:       t.ID,
		Kind:     string(t.Kind),
		ClientID: t.ClientID,
		Total:    t.Total.String(),
		Discount: t.Discount.String(),
		Debt:     t.Debt.String(),
		Amount:   t.Amount.String(),
		VDate:    t.VDate.Format(dateLayout),
		Memo:     t.Memo,
	}
}

func toLineItemDTO(l books.LineItem) LineItemDTO {
	return LineItemDTO{
		ID:     l.ID,
		Kind:   string(l.Kind),
		TxID:   l.TxID,
		PartID: l.PartID,
		PCount: l.PCount,
		Price:  l.Price.String(),
		Total:  l.Total.String(),
		VDate:  l.VDate.Format(dateLayout),
	}
}

func toDebtEntryDTO(e books.DebtEntry) DebtEntryDTO {
	return DebtEntryDTO{
		ID:       e.ID,
		Kind:     string(e.Kind),
		Type:     string(e.Type),
		Total:    e.Total.String(),
		Amount:   e.Amount.String(),
		VDate:    e.VDate.Format(dateLayout),
		TxID:     e.TxID,
		ClientID: e.ClientID,
	}
}

// parseMoney parses an optional decimal string; empty means zero.
func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseDate parses an optional YYYY-MM-DD date; empty means zero time
// (the engine then defaults it).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
