/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements books.Store and books.TxStore using database/sql with the
  mattn/go-sqlite3 driver. The same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  parts:        Catalog items
  clients:      Customers with derived saldo
  stock:        One row per part, lazily upserted, derived counters
  transactions: The four document kinds, tagged by a kind column
  line_items:   Part/quantity rows, tagged by a kind column
  debt_entries: The debt ledger, tagged by kind and debt_type

CASCADE RULES (declared, enforced by SQLite with foreign_keys=on):
  - line_items and stock cascade-delete with their part
  - line_items cascade-delete with their transaction
  - debt_entries cascade-delete with their transaction and client
  - transactions cascade-delete with their client

NATURAL KEY:
  A partial unique index on debt_entries(tx_id, kind) backs the ledger
  upsert. FindDebtEntry still counts candidates and reports ambiguity as
  an integrity fault rather than picking a row.

DECIMALS:
  Monetary columns are stored as TEXT in decimal string form and summed
  in Go with shopspring/decimal. SQLite's SUM would coerce them to
  floats and lose exactness; integer counters are summed in SQL.

CONCURRENCY:
  WithTx serializes writers through a mutex and a database transaction.
  SQLite is opened with WAL so readers don't block.

SEE ALSO:
  - books/store.go: Interface definitions
  - books/engine.go: The propagation engine driving this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/partstore/bookkeeper/books"
)

const dateLayout = "2006-01-02"

// Store implements books.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	conn
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own empty
	// database; one connection keeps the schema visible everywhere.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, conn: conn{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS parts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		memo TEXT NOT NULL DEFAULT '',
		photo TEXT NOT NULL DEFAULT '',
		saldo TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS stock (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		part_id INTEGER NOT NULL UNIQUE REFERENCES parts(id) ON DELETE CASCADE,
		p_income INTEGER NOT NULL DEFAULT 0,
		p_outgo INTEGER NOT NULL DEFAULT 0,
		p_sell INTEGER NOT NULL DEFAULT 0,
		p_count INTEGER NOT NULL DEFAULT 0,
		s_sum TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		client_id INTEGER REFERENCES clients(id) ON DELETE CASCADE,
		total TEXT NOT NULL DEFAULT '0',
		discount TEXT NOT NULL DEFAULT '0',
		debt TEXT NOT NULL DEFAULT '0',
		amount TEXT NOT NULL DEFAULT '0',
		v_date TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_kind ON transactions(kind);
	CREATE INDEX IF NOT EXISTS idx_transactions_client ON transactions(client_id);

	CREATE TABLE IF NOT EXISTS line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		tx_id INTEGER NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		part_id INTEGER NOT NULL REFERENCES parts(id) ON DELETE CASCADE,
		p_count INTEGER NOT NULL DEFAULT 0,
		price TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL DEFAULT '0',
		v_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_tx ON line_items(tx_id);
	-- Hot path: counter re-aggregation by (kind, part)
	CREATE INDEX IF NOT EXISTS idx_line_items_kind_part ON line_items(kind, part_id);

	CREATE TABLE IF NOT EXISTS debt_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		debt_type TEXT NOT NULL,
		total TEXT NOT NULL DEFAULT '0',
		amount TEXT NOT NULL DEFAULT '0',
		v_date TEXT NOT NULL,
		tx_id INTEGER REFERENCES transactions(id) ON DELETE CASCADE,
		client_id INTEGER REFERENCES clients(id) ON DELETE CASCADE
	);

	-- Backs the (originating transaction, kind) natural key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_debt_entries_natural
		ON debt_entries(tx_id, kind) WHERE tx_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_debt_entries_client ON debt_entries(client_id);
	CREATE INDEX IF NOT EXISTS idx_debt_entries_kind ON debt_entries(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction. All reads and writes
// inside fn see the transaction's state; any error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(books.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CONNECTION - Query logic shared by the store and its transactions
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	db dbtx
}

// =============================================================================
// PARTS
// =============================================================================

func (c *conn) GetPart(ctx context.Context, id int64) (*books.Part, error) {
	var p books.Part
	var price string
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, price FROM parts WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *conn) SavePart(ctx context.Context, p *books.Part) error {
	if p.ID == 0 {
		res, err := c.db.ExecContext(ctx,
			"INSERT INTO parts (name, price) VALUES (?, ?)",
			p.Name, p.Price.String())
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	}
	res, err := c.db.ExecContext(ctx,
		"UPDATE parts SET name = ?, price = ? WHERE id = ?",
		p.Name, p.Price.String(), p.ID)
	return checkUpdate(res, err, "part", p.ID)
}

func (c *conn) DeletePart(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM parts WHERE id = ?", id)
	return checkUpdate(res, err, "part", id)
}

func (c *conn) ListParts(ctx context.Context) ([]books.Part, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, price FROM parts ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []books.Part
	for rows.Next() {
		var p books.Part
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &price); err != nil {
			return nil, err
		}
		if p.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (c *conn) PartReferenced(ctx context.Context, id int64) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM line_items WHERE part_id = ?", id,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// CLIENTS
// =============================================================================

func (c *conn) GetClient(ctx context.Context, id int64) (*books.Client, error) {
	var cl books.Client
	var saldo string
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, phone, memo, photo, saldo FROM clients WHERE id = ?", id,
	).Scan(&cl.ID, &cl.Name, &cl.Phone, &cl.Memo, &cl.Photo, &saldo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cl.Saldo, err = parseDecimal(saldo); err != nil {
		return nil, err
	}
	return &cl, nil
}

func (c *conn) SaveClient(ctx context.Context, cl *books.Client) error {
	if cl.ID == 0 {
		res, err := c.db.ExecContext(ctx,
			"INSERT INTO clients (name, phone, memo, photo, saldo) VALUES (?, ?, ?, ?, ?)",
			cl.Name, cl.Phone, cl.Memo, cl.Photo, cl.Saldo.String())
		if err != nil {
			return err
		}
		cl.ID, err = res.LastInsertId()
		return err
	}
	res, err := c.db.ExecContext(ctx,
		"UPDATE clients SET name = ?, phone = ?, memo = ?, photo = ?, saldo = ? WHERE id = ?",
		cl.Name, cl.Phone, cl.Memo, cl.Photo, cl.Saldo.String(), cl.ID)
	return checkUpdate(res, err, "client", cl.ID)
}

func (c *conn) SetClientSaldo(ctx context.Context, id int64, saldo decimal.Decimal) error {
	res, err := c.db.ExecContext(ctx,
		"UPDATE clients SET saldo = ? WHERE id = ?", saldo.String(), id)
	return checkUpdate(res, err, "client", id)
}

func (c *conn) DeleteClient(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM clients WHERE id = ?", id)
	return checkUpdate(res, err, "client", id)
}

func (c *conn) ListClients(ctx context.Context) ([]books.Client, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, phone, memo, photo, saldo FROM clients ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []books.Client
	for rows.Next() {
		var cl books.Client
		var saldo string
		if err := rows.Scan(&cl.ID, &cl.Name, &cl.Phone, &cl.Memo, &cl.Photo, &saldo); err != nil {
			return nil, err
		}
		if cl.Saldo, err = parseDecimal(saldo); err != nil {
			return nil, err
		}
		clients = append(clients, cl)
	}
	return clients, rows.Err()
}

func (c *conn) ClientReferenced(ctx context.Context, id int64) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM transactions WHERE client_id = ?)
		     + (SELECT COUNT(*) FROM debt_entries WHERE client_id = ?)`,
		id, id,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// STOCK
// =============================================================================

func (c *conn) GetStock(ctx context.Context, partID int64) (*books.Stock, error) {
	var st books.Stock
	var sum string
	err := c.db.QueryRowContext(ctx,
		"SELECT id, part_id, p_income, p_outgo, p_sell, p_count, s_sum FROM stock WHERE part_id = ?",
		partID,
	).Scan(&st.ID, &st.PartID, &st.PIncome, &st.POutgo, &st.PSell, &st.PCount, &sum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.SSum, err = parseDecimal(sum); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *conn) UpsertStock(ctx context.Context, st *books.Stock) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO stock (part_id, p_income, p_outgo, p_sell, p_count, s_sum)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(part_id) DO UPDATE SET
			p_income = excluded.p_income,
			p_outgo = excluded.p_outgo,
			p_sell = excluded.p_sell,
			p_count = excluded.p_count,
			s_sum = excluded.s_sum`,
		st.PartID, st.PIncome, st.POutgo, st.PSell, st.PCount, st.SSum.String())
	return err
}

func (c *conn) ListStock(ctx context.Context) ([]books.Stock, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, part_id, p_income, p_outgo, p_sell, p_count, s_sum FROM stock ORDER BY part_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []books.Stock
	for rows.Next() {
		var st books.Stock
		var sum string
		if err := rows.Scan(&st.ID, &st.PartID, &st.PIncome, &st.POutgo, &st.PSell, &st.PCount, &sum); err != nil {
			return nil, err
		}
		if st.SSum, err = parseDecimal(sum); err != nil {
			return nil, err
		}
		stocks = append(stocks, st)
	}
	return stocks, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const txColumns = "id, kind, client_id, total, discount, debt, amount, v_date, memo"

func (c *conn) GetTransaction(ctx context.Context, id int64) (*books.Transaction, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *conn) SaveTransaction(ctx context.Context, t *books.Transaction) error {
	clientID := nullInt64(t.ClientID)
	if t.ID == 0 {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO transactions (kind, client_id, total, discount, debt, amount, v_date, memo)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Kind, clientID, t.Total.String(), t.Discount.String(),
			t.Debt.String(), t.Amount.String(), t.VDate.Format(dateLayout), t.Memo)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE transactions
		SET kind = ?, client_id = ?, total = ?, discount = ?, debt = ?, amount = ?, v_date = ?, memo = ?
		WHERE id = ?`,
		t.Kind, clientID, t.Total.String(), t.Discount.String(),
		t.Debt.String(), t.Amount.String(), t.VDate.Format(dateLayout), t.Memo,
		t.ID)
	return checkUpdate(res, err, "transaction", t.ID)
}

func (c *conn) DeleteTransaction(ctx context.Context, id int64) error {
	// Line items and linked debt entries go with it (ON DELETE CASCADE).
	res, err := c.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	return checkUpdate(res, err, "transaction", id)
}

func (c *conn) ListTransactions(ctx context.Context, kind books.TransactionKind) ([]books.Transaction, error) {
	query := "SELECT " + txColumns + " FROM transactions"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY v_date DESC, id DESC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []books.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func scanTransaction(scan func(...any) error) (*books.Transaction, error) {
	var (
		t        books.Transaction
		clientID sql.NullInt64
		total    string
		discount string
		debt     string
		amount   string
		vDate    string
	)
	if err := scan(&t.ID, &t.Kind, &clientID, &total, &discount, &debt, &amount, &vDate, &t.Memo); err != nil {
		return nil, err
	}
	t.ClientID = ptrInt64(clientID)
	var err error
	if t.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if t.Discount, err = parseDecimal(discount); err != nil {
		return nil, err
	}
	if t.Debt, err = parseDecimal(debt); err != nil {
		return nil, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if t.VDate, err = time.Parse(dateLayout, vDate); err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

const lineColumns = "id, kind, tx_id, part_id, p_count, price, total, v_date"

func (c *conn) GetLineItem(ctx context.Context, id int64) (*books.LineItem, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+lineColumns+" FROM line_items WHERE id = ?", id)
	l, err := scanLineItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (c *conn) SaveLineItem(ctx context.Context, l *books.LineItem) error {
	if l.ID == 0 {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO line_items (kind, tx_id, part_id, p_count, price, total, v_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.Kind, l.TxID, l.PartID, l.PCount,
			l.Price.String(), l.Total.String(), l.VDate.Format(dateLayout))
		if err != nil {
			return err
		}
		l.ID, err = res.LastInsertId()
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE line_items
		SET kind = ?, tx_id = ?, part_id = ?, p_count = ?, price = ?, total = ?, v_date = ?
		WHERE id = ?`,
		l.Kind, l.TxID, l.PartID, l.PCount,
		l.Price.String(), l.Total.String(), l.VDate.Format(dateLayout),
		l.ID)
	return checkUpdate(res, err, "line item", l.ID)
}

func (c *conn) DeleteLineItem(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM line_items WHERE id = ?", id)
	return checkUpdate(res, err, "line item", id)
}

func (c *conn) ListLineItems(ctx context.Context, txID int64) ([]books.LineItem, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+lineColumns+" FROM line_items WHERE tx_id = ? ORDER BY id", txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []books.LineItem
	for rows.Next() {
		l, err := scanLineItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

func (c *conn) SumLineCounts(ctx context.Context, kind books.LineKind, partID int64) (int, error) {
	var sum int
	err := c.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(p_count), 0) FROM line_items WHERE kind = ? AND part_id = ?",
		kind, partID,
	).Scan(&sum)
	return sum, err
}

func (c *conn) SumLineTotals(ctx context.Context, txID int64) (decimal.Decimal, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT total FROM line_items WHERE tx_id = ?", txID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	return sumDecimalColumn(rows)
}

func scanLineItem(scan func(...any) error) (*books.LineItem, error) {
	var (
		l     books.LineItem
		price string
		total string
		vDate string
	)
	if err := scan(&l.ID, &l.Kind, &l.TxID, &l.PartID, &l.PCount, &price, &total, &vDate); err != nil {
		return nil, err
	}
	var err error
	if l.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	if l.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if l.VDate, err = time.Parse(dateLayout, vDate); err != nil {
		return nil, err
	}
	return &l, nil
}

// =============================================================================
// DEBT LEDGER
// =============================================================================

const debtColumns = "id, kind, debt_type, total, amount, v_date, tx_id, client_id"

func (c *conn) GetDebtEntry(ctx context.Context, id int64) (*books.DebtEntry, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT "+debtColumns+" FROM debt_entries WHERE id = ?", id)
	e, err := scanDebtEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (c *conn) FindDebtEntry(ctx context.Context, kind books.DebtKind, txID int64) (*books.DebtEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+debtColumns+" FROM debt_entries WHERE kind = ? AND tx_id = ?",
		kind, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found *books.DebtEntry
	count := 0
	for rows.Next() {
		e, err := scanDebtEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		count++
		found = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count > 1 {
		return nil, &books.AmbiguousDebtEntryError{Kind: kind, TxID: txID, Count: count}
	}
	return found, nil
}

func (c *conn) SaveDebtEntry(ctx context.Context, e *books.DebtEntry) error {
	txID := nullInt64(e.TxID)
	clientID := nullInt64(e.ClientID)
	if e.ID == 0 {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO debt_entries (kind, debt_type, total, amount, v_date, tx_id, client_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Kind, e.Type, e.Total.String(), e.Amount.String(),
			e.VDate.Format(dateLayout), txID, clientID)
		if err != nil {
			return err
		}
		e.ID, err = res.LastInsertId()
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE debt_entries
		SET kind = ?, debt_type = ?, total = ?, amount = ?, v_date = ?, tx_id = ?, client_id = ?
		WHERE id = ?`,
		e.Kind, e.Type, e.Total.String(), e.Amount.String(),
		e.VDate.Format(dateLayout), txID, clientID,
		e.ID)
	return checkUpdate(res, err, "debt entry", e.ID)
}

func (c *conn) DeleteDebtEntry(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM debt_entries WHERE id = ?", id)
	return checkUpdate(res, err, "debt entry", id)
}

func (c *conn) ListDebtEntries(ctx context.Context, kind books.DebtKind) ([]books.DebtEntry, error) {
	query := "SELECT " + debtColumns + " FROM debt_entries"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY v_date DESC, id DESC"
	return c.queryDebtEntries(ctx, query, args...)
}

func (c *conn) ListClientDebtEntries(ctx context.Context, clientID int64) ([]books.DebtEntry, error) {
	return c.queryDebtEntries(ctx,
		"SELECT "+debtColumns+" FROM debt_entries WHERE client_id = ? ORDER BY v_date DESC, id DESC",
		clientID)
}

func (c *conn) queryDebtEntries(ctx context.Context, query string, args ...any) ([]books.DebtEntry, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []books.DebtEntry
	for rows.Next() {
		e, err := scanDebtEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (c *conn) SumClientDebt(ctx context.Context, clientID int64) (total, amount decimal.Decimal, err error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT total, amount FROM debt_entries WHERE client_id = ? AND debt_type = ?",
		clientID, books.DebtTypeClient)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer rows.Close()

	total, amount = decimal.Zero, decimal.Zero
	for rows.Next() {
		var ts, as string
		if err := rows.Scan(&ts, &as); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		t, err := parseDecimal(ts)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		a, err := parseDecimal(as)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		total = total.Add(t)
		amount = amount.Add(a)
	}
	return total, amount, rows.Err()
}

func (c *conn) DebtAmount(ctx context.Context, kind books.DebtKind) (decimal.Decimal, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT total, amount FROM debt_entries WHERE kind = ?", kind)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	result := decimal.Zero
	for rows.Next() {
		var ts, as string
		if err := rows.Scan(&ts, &as); err != nil {
			return decimal.Zero, err
		}
		t, err := parseDecimal(ts)
		if err != nil {
			return decimal.Zero, err
		}
		a, err := parseDecimal(as)
		if err != nil {
			return decimal.Zero, err
		}
		result = result.Add(t).Sub(a)
	}
	return result, rows.Err()
}

func scanDebtEntry(scan func(...any) error) (*books.DebtEntry, error) {
	var (
		e        books.DebtEntry
		total    string
		amount   string
		vDate    string
		txID     sql.NullInt64
		clientID sql.NullInt64
	)
	if err := scan(&e.ID, &e.Kind, &e.Type, &total, &amount, &vDate, &txID, &clientID); err != nil {
		return nil, err
	}
	e.TxID = ptrInt64(txID)
	e.ClientID = ptrInt64(clientID)
	var err error
	if e.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if e.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if e.VDate, err = time.Parse(dateLayout, vDate); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed decimal %q: %w", s, err)
	}
	return d, nil
}

func sumDecimalColumn(rows *sql.Rows) (decimal.Decimal, error) {
	sum := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		d, err := parseDecimal(s)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func checkUpdate(res sql.Result, execErr error, entity string, id int64) error {
	if execErr != nil {
		return execErr
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &books.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}
