/*
engine_test.go - Integration tests for the propagation engine

Tests run against a real in-memory SQLite store: the engine's value is
the derived state it leaves behind, and that only shows end to end.

Covered:
- Stock counters follow line items through the four document kinds
- Transaction totals and debts re-derive from surviving lines
- The debt ledger stays synchronized with its transactions
- Client saldo tracks client-scoped ledger entries, including deletes
- Frozen line prices vs marked-to-market stock valuation
- Freestanding adjustments and the linked-entry guard
- Recount escape hatches repair injected drift
*/
package books_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partstore/bookkeeper/books"
	"github.com/partstore/bookkeeper/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*books.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return books.NewEngine(store), store
}

func createPart(t *testing.T, e *books.Engine, name, price string) *books.Part {
	t.Helper()
	p := &books.Part{Name: name, Price: dec(price)}
	require.NoError(t, e.SavePart(context.Background(), p))
	return p
}

func createClient(t *testing.T, e *books.Engine, name string) *books.Client {
	t.Helper()
	c := &books.Client{Name: name}
	require.NoError(t, e.SaveClient(context.Background(), c))
	return c
}

func createTx(t *testing.T, e *books.Engine, kind books.TransactionKind, clientID *int64, discount string) *books.Transaction {
	t.Helper()
	tx := &books.Transaction{
		Kind:     kind,
		ClientID: clientID,
		Discount: dec(discount),
		VDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.SaveTransaction(context.Background(), tx))
	return tx
}

func addLine(t *testing.T, e *books.Engine, tx *books.Transaction, partID int64, count int, price string) *books.LineItem {
	t.Helper()
	l := &books.LineItem{
		Kind:   books.LineKindFor(tx.Kind),
		TxID:   tx.ID,
		PartID: partID,
		PCount: count,
	}
	if price != "" {
		l.Price = dec(price)
	}
	require.NoError(t, e.SaveLineItem(context.Background(), l))
	return l
}

func getStock(t *testing.T, s *sqlite.Store, partID int64) *books.Stock {
	t.Helper()
	st, err := s.GetStock(context.Background(), partID)
	require.NoError(t, err)
	require.NotNil(t, st, "expected a stock row for part %d", partID)
	return st
}

func getTx(t *testing.T, s *sqlite.Store, id int64) *books.Transaction {
	t.Helper()
	tx, err := s.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tx)
	return tx
}

func getSaldo(t *testing.T, s *sqlite.Store, clientID int64) string {
	t.Helper()
	c, err := s.GetClient(context.Background(), clientID)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.Saldo.String()
}

// =============================================================================
// STOCK PROPAGATION
// =============================================================================

func TestEngine_IncomeThenSell_PropagatesStockAndLedger(t *testing.T) {
	// GIVEN: A part "Bolt" priced 2.00
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")

	// WHEN: 100 bolts arrive at the store
	income := createTx(t, e, books.TxIncome, nil, "0")
	addLine(t, e, income, bolt.ID, 100, "")

	// THEN: Stock received 100, total and debt follow the line
	st := getStock(t, s, bolt.ID)
	assert.Equal(t, 100, st.PIncome)
	assert.Equal(t, 100, st.PCount)
	assertDec(t, "200.00", st.SSum)

	income = getTx(t, s, income.ID)
	assertDec(t, "200.00", income.Total)
	assertDec(t, "200.00", income.Debt)

	entry, err := s.FindDebtEntry(ctx, books.DebtIncome, income.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assertDec(t, "200.00", entry.Total)
	assert.Equal(t, books.DebtTypeMy, entry.Type)

	// WHEN: 30 bolts are sold from the shop
	sell := createTx(t, e, books.TxSell, nil, "0")
	addLine(t, e, sell, bolt.ID, 30, "")

	// THEN: 70 remain, valued at the current price
	st = getStock(t, s, bolt.ID)
	assert.Equal(t, 100, st.PIncome)
	assert.Equal(t, 30, st.PSell)
	assert.Equal(t, 70, st.PCount)
	assertDec(t, "140.00", st.SSum)

	sell = getTx(t, s, sell.ID)
	assertDec(t, "60.00", sell.Total)

	sellDebt, err := s.FindDebtEntry(ctx, books.DebtSell, sell.ID)
	require.NoError(t, err)
	require.NotNil(t, sellDebt)
	assertDec(t, "60.00", sellDebt.Total)
}

func TestEngine_LineUpdate_ReaggregatesNotIncrements(t *testing.T) {
	// GIVEN: 100 received
	e, s := newTestEngine(t)
	bolt := createPart(t, e, "Bolt", "2.00")
	income := createTx(t, e, books.TxIncome, nil, "0")
	line := addLine(t, e, income, bolt.ID, 100, "")

	// WHEN: The line is corrected to 80
	line.PCount = 80
	require.NoError(t, e.SaveLineItem(context.Background(), line))

	// THEN: The counter is the sum of surviving rows, not 100+80
	st := getStock(t, s, bolt.ID)
	assert.Equal(t, 80, st.PIncome)
	assert.Equal(t, 80, st.PCount)
	assertDec(t, "160.00", getTx(t, s, income.ID).Total)
}

func TestEngine_LineMovedToAnotherPart_RefreshesBothCounters(t *testing.T) {
	// GIVEN: A line crediting part A
	e, s := newTestEngine(t)
	a := createPart(t, e, "Washer", "1.00")
	b := createPart(t, e, "Nut", "1.50")
	income := createTx(t, e, books.TxIncome, nil, "0")
	line := addLine(t, e, income, a.ID, 40, "")

	// WHEN: The line is re-pointed at part B
	line.PartID = b.ID
	require.NoError(t, e.SaveLineItem(context.Background(), line))

	// THEN: A's counter returns to zero instead of going stale
	assert.Equal(t, 0, getStock(t, s, a.ID).PIncome)
	assert.Equal(t, 40, getStock(t, s, b.ID).PIncome)
}

func TestEngine_DeliveryLines_MoveNoStock(t *testing.T) {
	// GIVEN: A delivery straight from supplier to client
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	delivery := createTx(t, e, books.TxDelivery, &acme.ID, "0")

	// WHEN: A delivery line is recorded
	addLine(t, e, delivery, bolt.ID, 10, "50")

	// THEN: No stock row appears; the parent total still moves
	st, err := s.GetStock(ctx, bolt.ID)
	require.NoError(t, err)
	assert.Nil(t, st)
	assertDec(t, "500", getTx(t, s, delivery.ID).Total)
}

func TestEngine_DeleteLine_ZeroCoalesces(t *testing.T) {
	// GIVEN: A single income line
	e, s := newTestEngine(t)
	bolt := createPart(t, e, "Bolt", "2.00")
	income := createTx(t, e, books.TxIncome, nil, "0")
	line := addLine(t, e, income, bolt.ID, 100, "")

	// WHEN: The last line is deleted
	require.NoError(t, e.DeleteLineItem(context.Background(), line.ID))

	// THEN: Aggregates collapse to zero, not to stale values
	st := getStock(t, s, bolt.ID)
	assert.Equal(t, 0, st.PIncome)
	assert.Equal(t, 0, st.PCount)
	assertDec(t, "0", getTx(t, s, income.ID).Total)
}

// =============================================================================
// FROZEN PRICES VS MARK-TO-MARKET
// =============================================================================

func TestEngine_LinePriceFrozenAfterCreation(t *testing.T) {
	// GIVEN: A line created at the part's then-current price
	e, s := newTestEngine(t)
	bolt := createPart(t, e, "Bolt", "2.00")
	income := createTx(t, e, books.TxIncome, nil, "0")
	line := addLine(t, e, income, bolt.ID, 10, "")

	// WHEN: An update tries to smuggle in a new price
	line.PCount = 20
	line.Price = dec("99.99")
	require.NoError(t, e.SaveLineItem(context.Background(), line))

	// THEN: The snapshot survives; the total uses it
	got, err := s.GetLineItem(context.Background(), line.ID)
	require.NoError(t, err)
	assertDec(t, "2.00", got.Price)
	assertDec(t, "40.00", got.Total)
}

func TestEngine_PartPriceChange_RevaluesStockNotHistory(t *testing.T) {
	// GIVEN: 10 bolts in stock, bought at 2.00
	e, s := newTestEngine(t)
	bolt := createPart(t, e, "Bolt", "2.00")
	income := createTx(t, e, books.TxIncome, nil, "0")
	line := addLine(t, e, income, bolt.ID, 10, "")

	// WHEN: The part's price rises to 3.00
	bolt.Price = dec("3.00")
	require.NoError(t, e.SavePart(context.Background(), bolt))

	// THEN: Stock is marked to market; the historical line is untouched
	assertDec(t, "30.00", getStock(t, s, bolt.ID).SSum)
	got, err := s.GetLineItem(context.Background(), line.ID)
	require.NoError(t, err)
	assertDec(t, "2.00", got.Price)
	assertDec(t, "20.00", got.Total)
}

// =============================================================================
// DEBT LEDGER & SALDO
// =============================================================================

func TestEngine_Delivery_MaintainsBothLedgerSides(t *testing.T) {
	// GIVEN: A delivery of 10 parts at 50, with a 50 discount
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	delivery := createTx(t, e, books.TxDelivery, &acme.ID, "50")
	addLine(t, e, delivery, bolt.ID, 10, "50")

	// THEN: Debt is post-discount and both ledger sides carry it
	delivery = getTx(t, s, delivery.ID)
	assertDec(t, "500", delivery.Total)
	assertDec(t, "450", delivery.Debt)

	myside, err := s.FindDebtEntry(ctx, books.DebtDelivery, delivery.ID)
	require.NoError(t, err)
	require.NotNil(t, myside)
	assertDec(t, "450", myside.Total)
	assert.Equal(t, books.DebtTypeMy, myside.Type)

	clientside, err := s.FindDebtEntry(ctx, books.DebtClientDelivery, delivery.ID)
	require.NoError(t, err)
	require.NotNil(t, clientside)
	assertDec(t, "450", clientside.Total)
	assert.Equal(t, books.DebtTypeClient, clientside.Type)

	// AND: The client owes the post-discount figure
	assert.Equal(t, "450", getSaldo(t, s, acme.ID))
}

func TestEngine_Payment_MirrorsOntoClientSideOnly(t *testing.T) {
	// GIVEN: A delivery with 450 outstanding
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	delivery := createTx(t, e, books.TxDelivery, &acme.ID, "50")
	addLine(t, e, delivery, bolt.ID, 10, "50")

	// WHEN: The client pays 200
	delivery = getTx(t, s, delivery.ID)
	delivery.Amount = dec("200")
	require.NoError(t, e.SaveTransaction(ctx, delivery))

	// THEN: The client side records the payment, the stock side does not
	clientside, err := s.FindDebtEntry(ctx, books.DebtClientDelivery, delivery.ID)
	require.NoError(t, err)
	assertDec(t, "200", clientside.Amount)

	myside, err := s.FindDebtEntry(ctx, books.DebtDelivery, delivery.ID)
	require.NoError(t, err)
	assertDec(t, "0", myside.Amount)

	assert.Equal(t, "250", getSaldo(t, s, acme.ID))
}

func TestEngine_ResaveTransaction_UpsertsInsteadOfDuplicating(t *testing.T) {
	// GIVEN: An invoice with its ledger entry
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	invoice := createTx(t, e, books.TxInvoice, &acme.ID, "0")
	addLine(t, e, invoice, bolt.ID, 5, "")

	// WHEN: The transaction is saved twice more
	invoice = getTx(t, s, invoice.ID)
	require.NoError(t, e.SaveTransaction(ctx, invoice))
	require.NoError(t, e.SaveTransaction(ctx, invoice))

	// THEN: Exactly one entry per (transaction, kind) survives
	entries, err := s.ListDebtEntries(ctx, books.DebtClientInvoice)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assertDec(t, "10.00", entries[0].Total)
}

func TestEngine_ClientReassignment_RebuildsBothSaldi(t *testing.T) {
	// GIVEN: An invoice assigned to Acme
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	globex := createClient(t, e, "Globex")
	invoice := createTx(t, e, books.TxInvoice, &acme.ID, "0")
	addLine(t, e, invoice, bolt.ID, 5, "")
	assert.Equal(t, "10.00", getSaldo(t, s, acme.ID))

	// WHEN: The invoice moves to Globex
	invoice = getTx(t, s, invoice.ID)
	invoice.ClientID = &globex.ID
	require.NoError(t, e.SaveTransaction(ctx, invoice))

	// THEN: Acme's saldo returns to zero; Globex picks it up
	assert.Equal(t, "0", getSaldo(t, s, acme.ID))
	assert.Equal(t, "10.00", getSaldo(t, s, globex.ID))
}

func TestEngine_DeleteTransaction_UnwindsEverything(t *testing.T) {
	// GIVEN: An invoice moving stock, ledger, and saldo
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")

	income := createTx(t, e, books.TxIncome, nil, "0")
	addLine(t, e, income, bolt.ID, 100, "")
	invoice := createTx(t, e, books.TxInvoice, &acme.ID, "0")
	addLine(t, e, invoice, bolt.ID, 20, "")
	assert.Equal(t, 80, getStock(t, s, bolt.ID).PCount)

	// WHEN: The invoice is deleted
	require.NoError(t, e.DeleteTransaction(ctx, invoice.ID))

	// THEN: Lines cascade away, counters re-aggregate, ledger and saldo clear
	st := getStock(t, s, bolt.ID)
	assert.Equal(t, 0, st.POutgo)
	assert.Equal(t, 100, st.PCount)

	lines, err := s.ListLineItems(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	entry, err := s.FindDebtEntry(ctx, books.DebtClientInvoice, invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.Equal(t, "0", getSaldo(t, s, acme.ID))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestEngine_SaveTransaction_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	err := e.SaveTransaction(ctx, &books.Transaction{Kind: "refund"})
	assert.ErrorIs(t, err, books.ErrInvalidKind)

	err = e.SaveTransaction(ctx, &books.Transaction{Kind: books.TxDelivery})
	assert.ErrorIs(t, err, books.ErrClientRequired)
}

func TestEngine_SaveTransaction_DropsClientOnNonClientKinds(t *testing.T) {
	// GIVEN: A sell erroneously tagged with a client
	e, _ := newTestEngine(t)
	acme := createClient(t, e, "Acme")
	sell := &books.Transaction{Kind: books.TxSell, ClientID: &acme.ID}

	// WHEN: Saved
	require.NoError(t, e.SaveTransaction(context.Background(), sell))

	// THEN: The client link is discarded
	assert.Nil(t, sell.ClientID)
}

func TestEngine_SaveLineItem_RejectsParentMismatch(t *testing.T) {
	// GIVEN: An income transaction
	e, _ := newTestEngine(t)
	bolt := createPart(t, e, "Bolt", "2.00")
	income := createTx(t, e, books.TxIncome, nil, "0")

	// WHEN: A sell line claims it as parent
	err := e.SaveLineItem(context.Background(), &books.LineItem{
		Kind:   books.LineStoreSell,
		TxID:   income.ID,
		PartID: bolt.ID,
		PCount: 1,
	})

	// THEN: Rejected
	assert.ErrorIs(t, err, books.ErrParentMismatch)
}

func TestEngine_UpdateTransaction_StoredKindGovernsClientRule(t *testing.T) {
	// GIVEN: A saved delivery owing 450 to Acme
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	delivery := createTx(t, e, books.TxDelivery, &acme.ID, "50")
	addLine(t, e, delivery, bolt.ID, 10, "50")

	// WHEN: An update claims the document is a sell
	upd := &books.Transaction{ID: delivery.ID, Kind: books.TxSell, ClientID: &acme.ID}
	require.NoError(t, e.SaveTransaction(ctx, upd))

	// THEN: The stored kind wins and the client link survives
	got := getTx(t, s, delivery.ID)
	assert.Equal(t, books.TxDelivery, got.Kind)
	require.NotNil(t, got.ClientID)
	assert.Equal(t, acme.ID, *got.ClientID)

	entry, err := s.FindDebtEntry(ctx, books.DebtClientDelivery, delivery.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotNil(t, entry.ClientID)
	assert.Equal(t, "450", getSaldo(t, s, acme.ID))

	// AND: Dropping the client on a delivery update is still refused
	err = e.SaveTransaction(ctx, &books.Transaction{ID: delivery.ID, Kind: books.TxSell})
	assert.ErrorIs(t, err, books.ErrClientRequired)
	assert.Equal(t, "450", getSaldo(t, s, acme.ID))
}

func TestEngine_LineCannotMoveBetweenTransactions(t *testing.T) {
	// GIVEN: Two income documents, a line under the first
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	first := createTx(t, e, books.TxIncome, nil, "0")
	second := createTx(t, e, books.TxIncome, nil, "0")
	line := addLine(t, e, first, bolt.ID, 100, "")

	// WHEN: An update tries to reparent the line
	line.TxID = second.ID
	err := e.SaveLineItem(ctx, line)

	// THEN: Rejected, and the original parent's total is untouched
	assert.ErrorIs(t, err, books.ErrParentMismatch)
	assertDec(t, "200.00", getTx(t, s, first.ID).Total)
	assertDec(t, "0", getTx(t, s, second.ID).Total)
}

func TestEngine_SaveLineItem_MissingParent(t *testing.T) {
	e, _ := newTestEngine(t)
	bolt := createPart(t, e, "Bolt", "2.00")
	err := e.SaveLineItem(context.Background(), &books.LineItem{
		Kind:   books.LineStoreIncome,
		TxID:   999,
		PartID: bolt.ID,
		PCount: 1,
	})
	assert.ErrorIs(t, err, books.ErrNotFound)
}

// =============================================================================
// FREESTANDING ADJUSTMENTS
// =============================================================================

func TestEngine_Adjustment_Lifecycle(t *testing.T) {
	// GIVEN: A client with no history
	e, s := newTestEngine(t)
	ctx := context.Background()
	acme := createClient(t, e, "Acme")

	// WHEN: A manual debt of 100, 40 paid, is recorded
	adj := &books.DebtEntry{
		ClientID: &acme.ID,
		Total:    dec("100"),
		Amount:   dec("40"),
	}
	require.NoError(t, e.SaveAdjustment(ctx, adj))

	// THEN: It lands as a client adjustment and drives the saldo
	assert.Equal(t, books.DebtClientAdjustment, adj.Kind)
	assert.Equal(t, books.DebtTypeClient, adj.Type)
	assert.Nil(t, adj.TxID)
	assert.Equal(t, "60", getSaldo(t, s, acme.ID))

	// WHEN: The payment is completed
	adj.Amount = dec("100")
	require.NoError(t, e.SaveAdjustment(ctx, adj))
	assert.Equal(t, "0", getSaldo(t, s, acme.ID))

	// WHEN: The adjustment is removed
	require.NoError(t, e.DeleteDebtEntry(ctx, adj.ID))
	assert.Equal(t, "0", getSaldo(t, s, acme.ID))

	entries, err := s.ListClientDebtEntries(ctx, acme.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_Adjustment_RequiresClient(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.SaveAdjustment(context.Background(), &books.DebtEntry{Total: dec("10")})
	assert.ErrorIs(t, err, books.ErrClientRequired)
}

func TestEngine_LinkedLedgerEntry_CannotBeEditedOrDeleted(t *testing.T) {
	// GIVEN: A ledger entry produced by an invoice
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	acme := createClient(t, e, "Acme")
	invoice := createTx(t, e, books.TxInvoice, &acme.ID, "0")
	addLine(t, e, invoice, bolt.ID, 5, "")

	entry, err := s.FindDebtEntry(ctx, books.DebtClientInvoice, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)

	// WHEN/THEN: Direct edits and deletes are refused
	entry.Total = dec("1")
	assert.ErrorIs(t, e.SaveAdjustment(ctx, entry), books.ErrLedgerEntryLinked)
	assert.ErrorIs(t, e.DeleteDebtEntry(ctx, entry.ID), books.ErrLedgerEntryLinked)
}

// =============================================================================
// DRIFT REPAIR
// =============================================================================

func TestEngine_RecountStock_RepairsInjectedDrift(t *testing.T) {
	// GIVEN: A correct stock row, then out-of-band corruption
	e, s := newTestEngine(t)
	ctx := context.Background()
	bolt := createPart(t, e, "Bolt", "2.00")
	income := createTx(t, e, books.TxIncome, nil, "0")
	addLine(t, e, income, bolt.ID, 100, "")

	st := getStock(t, s, bolt.ID)
	st.PIncome = 7
	st.PSell = 3
	require.NoError(t, s.UpsertStock(ctx, st))

	// WHEN: The part is recounted
	require.NoError(t, e.RecountStock(ctx, bolt.ID))

	// THEN: All three counters re-derive from the line items
	st = getStock(t, s, bolt.ID)
	assert.Equal(t, 100, st.PIncome)
	assert.Equal(t, 0, st.PSell)
	assert.Equal(t, 100, st.PCount)
	assertDec(t, "200.00", st.SSum)
}

func TestEngine_RecountAllStock_CreatesZeroRows(t *testing.T) {
	// GIVEN: A part that has never moved
	e, s := newTestEngine(t)
	ctx := context.Background()
	idle := createPart(t, e, "Gasket", "5.00")

	// WHEN: A full recount runs
	require.NoError(t, e.RecountAllStock(ctx))

	// THEN: The idle part gets an explicit all-zero row
	st := getStock(t, s, idle.ID)
	assert.Equal(t, 0, st.PCount)
	assertDec(t, "0.00", st.SSum)
}
