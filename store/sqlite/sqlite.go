/*
Package sqlite provides the SQLite-backed implementation of the market
storage interfaces.

PURPOSE:
  Implements market.TxStore and market.AggregateStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  pharmacies:   catalog owners with cash balances and opening hours
  masks:        products; (pharmacy_id, name) unique; stock never negative
  users:        purchaser accounts with cash balances
  transactions: append-only purchase records (no UPDATE, no DELETE)

MONEY:
  Monetary columns are stored as decimal strings (TEXT) and parsed with
  shopspring/decimal. SQL arithmetic never touches money - sums and
  price-range comparisons happen in Go on decimals, so no float rounding
  ever enters a balance. Stock quantities are INTEGER and may use SQL
  arithmetic.

CONCURRENCY:
  Opened in WAL mode; a sync.RWMutex serializes writers within the
  process. Stock decrements are conditional UPDATEs
  (SET stock_quantity = stock_quantity + ? WHERE ... >= 0) and balance
  debits compare-and-swap on the previous balance value, so the
  non-negative invariants hold even if a second process shares the file.
  RowsAffected == 0 tells the engines a concurrent writer interfered.

USAGE:
  store, err := sqlite.New("./data/market.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := market.NewPurchaseEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - market/store.go: Interface definitions
  - market/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/phantom/maskmarket/market"
)

// Store implements market.TxStore and market.AggregateStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an ephemeral database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
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
	CREATE TABLE IF NOT EXISTS pharmacies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		cash_balance TEXT NOT NULL DEFAULT '0',
		opening_hours TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pharmacies_name ON pharmacies(name);

	CREATE TABLE IF NOT EXISTS masks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Mask names are unique per pharmacy, not globally.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_masks_pharmacy_name
		ON masks(pharmacy_id, name);
	CREATE INDEX IF NOT EXISTS idx_masks_name ON masks(name);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		cash_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		purchase_id TEXT NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		mask_id INTEGER NOT NULL REFERENCES masks(id),
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_pharmacy ON transactions(pharmacy_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_mask ON transactions(mask_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_occurred_at ON transactions(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_purchase ON transactions(purchase_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so every query runs unchanged inside
// or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PHARMACIES
// =============================================================================

const pharmacyColumns = "id, name, cash_balance, opening_hours, created_at, updated_at"

func (s *Store) GetPharmacy(ctx context.Context, id market.PharmacyID) (*market.Pharmacy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPharmacy(ctx, s.db, id)
}

func (s *Store) getPharmacy(ctx context.Context, q dbtx, id market.PharmacyID) (*market.Pharmacy, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+pharmacyColumns+" FROM pharmacies WHERE id = ?", id)
	p, err := scanPharmacy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPharmacies(ctx context.Context) ([]market.Pharmacy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPharmacies(ctx, s.db)
}

func (s *Store) listPharmacies(ctx context.Context, q dbtx) ([]market.Pharmacy, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+pharmacyColumns+" FROM pharmacies ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPharmacies(rows)
}

// InsertPharmacy creates a pharmacy and fills in its assigned ID.
// Used by the data loader and tests.
func (s *Store) InsertPharmacy(ctx context.Context, p *market.Pharmacy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hoursJSON, err := json.Marshal(p.Hours)
	if err != nil {
		return fmt.Errorf("marshal opening hours: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pharmacies (name, cash_balance, opening_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.CashBalance.String(), string(hoursJSON),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert pharmacy: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = market.PharmacyID(id)
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (s *Store) CreditPharmacy(ctx context.Context, id market.PharmacyID, amount market.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditPharmacy(ctx, s.db, id, amount)
}

func (s *Store) creditPharmacy(ctx context.Context, q dbtx, id market.PharmacyID, amount market.Money) error {
	p, err := s.getPharmacy(ctx, q, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &market.NotFoundError{Kind: "pharmacy", ID: int64(id)}
	}

	// Compare-and-swap on the previous balance. The writer mutex makes
	// interference within this process impossible; the guard also covers
	// a second process sharing the database file.
	res, err := q.ExecContext(ctx, `
		UPDATE pharmacies SET cash_balance = ?, updated_at = ?
		WHERE id = ? AND cash_balance = ?`,
		p.CashBalance.Add(amount).String(),
		time.Now().UTC().Format(time.RFC3339),
		id, p.CashBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("credit pharmacy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return market.ErrConflict
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = "id, name, cash_balance, created_at, updated_at"

func (s *Store) GetUser(ctx context.Context, id market.UserID) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(ctx, s.db, id)
}

func (s *Store) getUser(ctx context.Context, q dbtx, id market.UserID) (*market.User, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// InsertUser creates a user and fills in its assigned ID.
func (s *Store) InsertUser(ctx context.Context, u *market.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, cash_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		u.Name, u.CashBalance.String(),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = market.UserID(id)
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *Store) DebitUser(ctx context.Context, id market.UserID, amount market.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitUser(ctx, s.db, id, amount)
}

func (s *Store) debitUser(ctx context.Context, q dbtx, id market.UserID, amount market.Money) (bool, error) {
	u, err := s.getUser(ctx, q, id)
	if err != nil {
		return false, err
	}
	if u == nil || u.CashBalance.LessThan(amount) {
		return false, nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE users SET cash_balance = ?, updated_at = ?
		WHERE id = ? AND cash_balance = ?`,
		u.CashBalance.Sub(amount).String(),
		time.Now().UTC().Format(time.RFC3339),
		id, u.CashBalance.String(),
	)
	if err != nil {
		return false, fmt.Errorf("debit user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// MASKS
// =============================================================================

const maskColumns = "id, pharmacy_id, name, price, stock_quantity, created_at, updated_at"

func (s *Store) GetMask(ctx context.Context, id market.MaskID) (*market.Mask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMask(ctx, s.db, id)
}

func (s *Store) getMask(ctx context.Context, q dbtx, id market.MaskID) (*market.Mask, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+maskColumns+" FROM masks WHERE id = ?", id)
	m, err := scanMask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetMaskByName(ctx context.Context, pharmacyID market.PharmacyID, name string) (*market.Mask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMaskByName(ctx, s.db, pharmacyID, name)
}

func (s *Store) getMaskByName(ctx context.Context, q dbtx, pharmacyID market.PharmacyID, name string) (*market.Mask, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+maskColumns+" FROM masks WHERE pharmacy_id = ? AND name = ?",
		pharmacyID, name)
	m, err := scanMask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMasks(ctx context.Context, pharmacyID market.PharmacyID, sortBy market.MaskSort) ([]market.Mask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMasks(ctx, s.db, pharmacyID, sortBy)
}

func (s *Store) listMasks(ctx context.Context, q dbtx, pharmacyID market.PharmacyID, sortBy market.MaskSort) ([]market.Mask, error) {
	// Price is a decimal string, so price ordering happens in Go; a plain
	// ORDER BY price would sort lexicographically.
	rows, err := q.QueryContext(ctx,
		"SELECT "+maskColumns+" FROM masks WHERE pharmacy_id = ? ORDER BY id",
		pharmacyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	masks, err := collectMasks(rows)
	if err != nil {
		return nil, err
	}
	sortMasks(masks, sortBy)
	return masks, nil
}

func sortMasks(masks []market.Mask, s market.MaskSort) {
	sort.Slice(masks, func(i, j int) bool {
		a, b := masks[i], masks[j]
		var cmp int
		switch s.Field {
		case market.SortByPrice:
			cmp = a.Price.Cmp(b.Price)
		default:
			cmp = strings.Compare(a.Name, b.Name)
		}
		if cmp == 0 {
			return a.ID < b.ID
		}
		if s.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func (s *Store) InsertMask(ctx context.Context, m *market.Mask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMask(ctx, s.db, m)
}

func (s *Store) insertMask(ctx context.Context, q dbtx, m *market.Mask) error {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO masks (pharmacy_id, name, price, stock_quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.PharmacyID, m.Name, m.Price.String(), m.StockQuantity,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert mask: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = market.MaskID(id)
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (s *Store) UpdateMaskCatalog(ctx context.Context, id market.MaskID, price market.Money, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateMaskCatalog(ctx, s.db, id, price, stock)
}

func (s *Store) updateMaskCatalog(ctx context.Context, q dbtx, id market.MaskID, price market.Money, stock int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE masks SET price = ?, stock_quantity = ?, updated_at = ?
		WHERE id = ?`,
		price.String(), stock, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("update mask: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &market.NotFoundError{Kind: "mask", ID: int64(id)}
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, id market.MaskID, delta int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStock(ctx, s.db, id, delta)
}

func (s *Store) adjustStock(ctx context.Context, q dbtx, id market.MaskID, delta int) (bool, error) {
	// Single conditional UPDATE: the stock check and the write are one
	// statement, so concurrent decrements cannot interleave between them.
	res, err := q.ExecContext(ctx, `
		UPDATE masks SET stock_quantity = stock_quantity + ?, updated_at = ?
		WHERE id = ? AND stock_quantity + ? >= 0`,
		delta, time.Now().UTC().Format(time.RFC3339), id, delta,
	)
	if err != nil {
		return false, fmt.Errorf("adjust stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

const transactionColumns = "id, purchase_id, user_id, pharmacy_id, mask_id, quantity, unit_price, total_amount, occurred_at"

func (s *Store) AppendTransactions(ctx context.Context, txs []market.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTransactions(ctx, s.db, txs)
}

func (s *Store) appendTransactions(ctx context.Context, q dbtx, txs []market.Transaction) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range txs {
		res, err := q.ExecContext(ctx, `
			INSERT INTO transactions (purchase_id, user_id, pharmacy_id, mask_id, quantity, unit_price, total_amount, occurred_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(txs[i].PurchaseID), txs[i].UserID, txs[i].PharmacyID, txs[i].MaskID,
			txs[i].Quantity, txs[i].UnitPrice.String(), txs[i].Total.String(),
			txs[i].OccurredAt.UTC().Format(time.RFC3339), now,
		)
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		txs[i].ID = market.TransactionID(id)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTransactions(ctx, s.db, f)
}

func (s *Store) listTransactions(ctx context.Context, q dbtx, f market.TransactionFilter) ([]market.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions"
	var conds []string
	var args []any
	if f.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.PharmacyID != 0 {
		conds = append(conds, "pharmacy_id = ?")
		args = append(args, f.PharmacyID)
	}
	if f.MaskID != 0 {
		conds = append(conds, "mask_id = ?")
		args = append(args, f.MaskID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// =============================================================================
// TRANSACTIONAL STORE (market.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn
// rolls back everything fn did.
func (s *Store) WithTx(ctx context.Context, fn func(market.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store calls through the open *sql.Tx. The parent already
// holds the writer mutex for the duration of WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetPharmacy(ctx context.Context, id market.PharmacyID) (*market.Pharmacy, error) {
	return ts.parent.getPharmacy(ctx, ts.tx, id)
}

func (ts *txStore) ListPharmacies(ctx context.Context) ([]market.Pharmacy, error) {
	return ts.parent.listPharmacies(ctx, ts.tx)
}

func (ts *txStore) CreditPharmacy(ctx context.Context, id market.PharmacyID, amount market.Money) error {
	return ts.parent.creditPharmacy(ctx, ts.tx, id, amount)
}

func (ts *txStore) GetUser(ctx context.Context, id market.UserID) (*market.User, error) {
	return ts.parent.getUser(ctx, ts.tx, id)
}

func (ts *txStore) DebitUser(ctx context.Context, id market.UserID, amount market.Money) (bool, error) {
	return ts.parent.debitUser(ctx, ts.tx, id, amount)
}

func (ts *txStore) GetMask(ctx context.Context, id market.MaskID) (*market.Mask, error) {
	return ts.parent.getMask(ctx, ts.tx, id)
}

func (ts *txStore) GetMaskByName(ctx context.Context, pharmacyID market.PharmacyID, name string) (*market.Mask, error) {
	return ts.parent.getMaskByName(ctx, ts.tx, pharmacyID, name)
}

func (ts *txStore) ListMasks(ctx context.Context, pharmacyID market.PharmacyID, sortBy market.MaskSort) ([]market.Mask, error) {
	return ts.parent.listMasks(ctx, ts.tx, pharmacyID, sortBy)
}

func (ts *txStore) InsertMask(ctx context.Context, m *market.Mask) error {
	return ts.parent.insertMask(ctx, ts.tx, m)
}

func (ts *txStore) UpdateMaskCatalog(ctx context.Context, id market.MaskID, price market.Money, stock int) error {
	return ts.parent.updateMaskCatalog(ctx, ts.tx, id, price, stock)
}

func (ts *txStore) AdjustStock(ctx context.Context, id market.MaskID, delta int) (bool, error) {
	return ts.parent.adjustStock(ctx, ts.tx, id, delta)
}

func (ts *txStore) AppendTransactions(ctx context.Context, txs []market.Transaction) error {
	return ts.parent.appendTransactions(ctx, ts.tx, txs)
}

func (ts *txStore) ListTransactions(ctx context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	return ts.parent.listTransactions(ctx, ts.tx, f)
}

// =============================================================================
// AGGREGATE STORE (market.AggregateStore)
// =============================================================================

// SpendingByUser sums qualifying transactions per user over [from, to]
// inclusive. Summation runs in Go on decimals; SQL never adds money.
func (s *Store) SpendingByUser(ctx context.Context, from, to time.Time, limit int) ([]market.UserSpend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.user_id, t.quantity, t.total_amount,
		       u.name, u.cash_balance, u.created_at, u.updated_at
		FROM transactions t
		JOIN users u ON u.id = t.user_id
		WHERE t.occurred_at >= ? AND t.occurred_at <= ?`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byUser := make(map[market.UserID]*market.UserSpend)
	for rows.Next() {
		var (
			userID               market.UserID
			quantity             int
			totalStr             string
			name                 string
			balanceStr           string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&userID, &quantity, &totalStr,
			&name, &balanceStr, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan spending row: %w", err)
		}
		total, err := decimal.NewFromString(totalStr)
		if err != nil {
			return nil, fmt.Errorf("parse total amount: %w", err)
		}

		spend, ok := byUser[userID]
		if !ok {
			balance, err := decimal.NewFromString(balanceStr)
			if err != nil {
				return nil, fmt.Errorf("parse balance: %w", err)
			}
			u := market.User{ID: userID, Name: name, CashBalance: balance}
			u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
			spend = &market.UserSpend{User: u, TotalSpent: decimal.Zero}
			byUser[userID] = spend
		}
		spend.TotalSpent = spend.TotalSpent.Add(total)
		spend.Transactions++
		spend.Items += quantity
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]market.UserSpend, 0, len(byUser))
	for _, spend := range byUser {
		out = append(out, *spend)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalSpent.Equal(out[j].TotalSpent) {
			return out[i].TotalSpent.GreaterThan(out[j].TotalSpent)
		}
		return out[i].User.ID < out[j].User.ID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MaskCountsInPriceRange counts in-range masks per pharmacy, including
// pharmacies with zero matches. Price comparison runs on decimals in Go
// because prices are stored as decimal strings.
func (s *Store) MaskCountsInPriceRange(ctx context.Context, min, max market.Money) ([]market.PharmacyMaskCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pharmacies, err := s.listPharmacies(ctx, s.db)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT pharmacy_id, price FROM masks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[market.PharmacyID]int, len(pharmacies))
	for rows.Next() {
		var pharmacyID market.PharmacyID
		var priceStr string
		if err := rows.Scan(&pharmacyID, &priceStr); err != nil {
			return nil, fmt.Errorf("scan mask price: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if price.GreaterThanOrEqual(min) && price.LessThanOrEqual(max) {
			counts[pharmacyID]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]market.PharmacyMaskCount, 0, len(pharmacies))
	for _, p := range pharmacies {
		out = append(out, market.PharmacyMaskCount{Pharmacy: p, Count: counts[p.ID]})
	}
	return out, nil
}

// Substring matching is done in Go rather than with LIKE: SQLite's LIKE
// (and its lower()) fold case for ASCII only, so a query would miss
// non-ASCII case variants that the ranking layer matches.
func (s *Store) SearchPharmacies(ctx context.Context, term string) ([]market.Pharmacy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+pharmacyColumns+" FROM pharmacies ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := collectPharmacies(rows)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	var out []market.Pharmacy
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) SearchMasks(ctx context.Context, term string) ([]market.Mask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+maskColumns+" FROM masks ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := collectMasks(rows)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	var out []market.Mask
	for _, mk := range all {
		if strings.Contains(strings.ToLower(mk.Name), needle) {
			out = append(out, mk)
		}
	}
	return out, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data. For the loader's wipe-first mode and tests.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "masks", "users", "pharmacies"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence")
	return err
}

// =============================================================================
// ROW SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPharmacy(row rowScanner) (*market.Pharmacy, error) {
	var (
		p                    market.Pharmacy
		balanceStr, hoursStr string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &balanceStr, &hoursStr, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	p.CashBalance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("parse pharmacy balance: %w", err)
	}
	if err := json.Unmarshal([]byte(hoursStr), &p.Hours); err != nil {
		return nil, fmt.Errorf("parse opening hours: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func collectPharmacies(rows *sql.Rows) ([]market.Pharmacy, error) {
	var out []market.Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanUser(row rowScanner) (*market.User, error) {
	var (
		u                    market.User
		balanceStr           string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &balanceStr, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	u.CashBalance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("parse user balance: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &u, nil
}

func scanMask(row rowScanner) (*market.Mask, error) {
	var (
		m                    market.Mask
		priceStr             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&m.ID, &m.PharmacyID, &m.Name, &priceStr, &m.StockQuantity, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	m.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse mask price: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &m, nil
}

func collectMasks(rows *sql.Rows) ([]market.Mask, error) {
	var out []market.Mask
	for rows.Next() {
		m, err := scanMask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func collectTransactions(rows *sql.Rows) ([]market.Transaction, error) {
	var out []market.Transaction
	for rows.Next() {
		var (
			tx                market.Transaction
			purchaseID        string
			unitStr, totalStr string
			occurredAt        string
		)
		if err := rows.Scan(&tx.ID, &purchaseID, &tx.UserID, &tx.PharmacyID, &tx.MaskID,
			&tx.Quantity, &unitStr, &totalStr, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.PurchaseID = market.PurchaseID(purchaseID)
		var err error
		tx.UnitPrice, err = decimal.NewFromString(unitStr)
		if err != nil {
			return nil, fmt.Errorf("parse unit price: %w", err)
		}
		tx.Total, err = decimal.NewFromString(totalStr)
		if err != nil {
			return nil, fmt.Errorf("parse total amount: %w", err)
		}
		tx.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}
