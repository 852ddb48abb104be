/*
sqlite_test.go - Store-level tests

Exercises what the engine cannot see from above: cascade rules, the
natural-key index, nil-vs-error read semantics, and the aggregate
queries' zero-coalescing.
*/
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partstore/bookkeeper/books"
)

func newTestStore(t *testing.T) *Store {
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

// =============================================================================
// READ SEMANTICS
// =============================================================================

func TestStore_MissingRowsReadAsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetPart(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, p)

	st, err := s.GetStock(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, st)

	e, err := s.FindDebtEntry(ctx, books.DebtIncome, 42)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestStore_UpdateMissingRow_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SavePart(context.Background(), &books.Part{ID: 42, Name: "Ghost"})
	assert.ErrorIs(t, err, books.ErrNotFound)
}

func TestStore_PartRoundTrip_KeepsDecimalExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &books.Part{Name: "Bolt", Price: dec("2.10")}
	require.NoError(t, s.SavePart(ctx, p))
	require.NotZero(t, p.ID)

	got, err := s.GetPart(ctx, p.ID)
	require.NoError(t, err)
	// 2.10 must survive as 2.10, not 2.0999999.
	assert.Equal(t, "2.10", got.Price.String())
	assert.True(t, got.Price.Equal(dec("2.10")))
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestStore_SumLineCounts_CoalescesToZero(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.SumLineCounts(context.Background(), books.LineStoreIncome, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
}

func TestStore_SumLineCounts_FiltersByKindAndPart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	part := &books.Part{Name: "Bolt", Price: dec("2")}
	require.NoError(t, s.SavePart(ctx, part))
	other := &books.Part{Name: "Nut", Price: dec("1")}
	require.NoError(t, s.SavePart(ctx, other))

	tx := &books.Transaction{Kind: books.TxIncome, VDate: testDate}
	require.NoError(t, s.SaveTransaction(ctx, tx))

	for _, l := range []books.LineItem{
		{Kind: books.LineStoreIncome, TxID: tx.ID, PartID: part.ID, PCount: 60, VDate: testDate},
		{Kind: books.LineStoreIncome, TxID: tx.ID, PartID: part.ID, PCount: 40, VDate: testDate},
		{Kind: books.LineStoreIncome, TxID: tx.ID, PartID: other.ID, PCount: 5, VDate: testDate},
		{Kind: books.LineStoreSell, TxID: tx.ID, PartID: part.ID, PCount: 7, VDate: testDate},
	} {
		line := l
		require.NoError(t, s.SaveLineItem(ctx, &line))
	}

	sum, err := s.SumLineCounts(ctx, books.LineStoreIncome, part.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, sum)
}

func TestStore_SumClientDebt_OnlyClientTyped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cl := &books.Client{Name: "Acme"}
	require.NoError(t, s.SaveClient(ctx, cl))

	entries := []books.DebtEntry{
		{Kind: books.DebtClientAdjustment, Type: books.DebtTypeClient, Total: dec("100"), Amount: dec("40"), VDate: testDate, ClientID: &cl.ID},
		{Kind: books.DebtClientAdjustment, Type: books.DebtTypeClient, Total: dec("50"), Amount: dec("0"), VDate: testDate, ClientID: &cl.ID},
		// A my_debt row on the same client must not feed the saldo.
		{Kind: books.DebtDelivery, Type: books.DebtTypeMy, Total: dec("999"), Amount: dec("0"), VDate: testDate, ClientID: &cl.ID},
	}
	for _, e := range entries {
		entry := e
		require.NoError(t, s.SaveDebtEntry(ctx, &entry))
	}

	total, amount, err := s.SumClientDebt(ctx, cl.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("150")), "total = %s", total)
	assert.True(t, amount.Equal(dec("40")), "amount = %s", amount)
}

func TestStore_DebtAmount_NetsTotalAgainstPaid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []books.DebtEntry{
		{Kind: books.DebtSell, Type: books.DebtTypeSell, Total: dec("60"), Amount: dec("10"), VDate: testDate},
		{Kind: books.DebtSell, Type: books.DebtTypeSell, Total: dec("40"), Amount: dec("0"), VDate: testDate},
	} {
		entry := e
		require.NoError(t, s.SaveDebtEntry(ctx, &entry))
	}

	got, err := s.DebtAmount(ctx, books.DebtSell)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("90")), "got %s", got)
}

// =============================================================================
// NATURAL KEY & CASCADES
// =============================================================================

func TestStore_NaturalKeyIndex_RejectsDuplicateEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := &books.Transaction{Kind: books.TxIncome, VDate: testDate}
	require.NoError(t, s.SaveTransaction(ctx, tx))

	first := &books.DebtEntry{Kind: books.DebtIncome, Type: books.DebtTypeMy, VDate: testDate, TxID: &tx.ID}
	require.NoError(t, s.SaveDebtEntry(ctx, first))

	dup := &books.DebtEntry{Kind: books.DebtIncome, Type: books.DebtTypeMy, VDate: testDate, TxID: &tx.ID}
	assert.Error(t, s.SaveDebtEntry(ctx, dup), "the (tx, kind) index must reject a second row")
}

func TestStore_DeleteTransaction_CascadesLinesAndEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	part := &books.Part{Name: "Bolt", Price: dec("2")}
	require.NoError(t, s.SavePart(ctx, part))
	tx := &books.Transaction{Kind: books.TxIncome, VDate: testDate}
	require.NoError(t, s.SaveTransaction(ctx, tx))
	line := &books.LineItem{Kind: books.LineStoreIncome, TxID: tx.ID, PartID: part.ID, PCount: 1, VDate: testDate}
	require.NoError(t, s.SaveLineItem(ctx, line))
	entry := &books.DebtEntry{Kind: books.DebtIncome, Type: books.DebtTypeMy, VDate: testDate, TxID: &tx.ID}
	require.NoError(t, s.SaveDebtEntry(ctx, entry))

	require.NoError(t, s.DeleteTransaction(ctx, tx.ID))

	gotLine, err := s.GetLineItem(ctx, line.ID)
	require.NoError(t, err)
	assert.Nil(t, gotLine)
	gotEntry, err := s.GetDebtEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, gotEntry)
}

func TestStore_ReferencedChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	part := &books.Part{Name: "Bolt", Price: dec("2")}
	require.NoError(t, s.SavePart(ctx, part))
	cl := &books.Client{Name: "Acme"}
	require.NoError(t, s.SaveClient(ctx, cl))

	ref, err := s.PartReferenced(ctx, part.ID)
	require.NoError(t, err)
	assert.False(t, ref)
	ref, err = s.ClientReferenced(ctx, cl.ID)
	require.NoError(t, err)
	assert.False(t, ref)

	tx := &books.Transaction{Kind: books.TxInvoice, ClientID: &cl.ID, VDate: testDate}
	require.NoError(t, s.SaveTransaction(ctx, tx))
	line := &books.LineItem{Kind: books.LineInvoiceOut, TxID: tx.ID, PartID: part.ID, PCount: 1, VDate: testDate}
	require.NoError(t, s.SaveLineItem(ctx, line))

	ref, err = s.PartReferenced(ctx, part.ID)
	require.NoError(t, err)
	assert.True(t, ref)
	ref, err = s.ClientReferenced(ctx, cl.ID)
	require.NoError(t, err)
	assert.True(t, ref)
}

// =============================================================================
// TRANSACTIONS (WithTx)
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx books.Store) error {
		if err := tx.SavePart(ctx, &books.Part{Name: "Bolt", Price: dec("2")}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	parts, err := s.ListParts(ctx)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestStore_WithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx books.Store) error {
		p := &books.Part{Name: "Bolt", Price: dec("2")}
		if err := tx.SavePart(ctx, p); err != nil {
			return err
		}
		got, err := tx.GetPart(ctx, p.ID)
		if err != nil {
			return err
		}
		require.NotNil(t, got, "read inside the transaction must see the write")
		return nil
	})
	require.NoError(t, err)
}
