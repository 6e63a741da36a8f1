// Package store provides an in-memory market.TxStore implementation used
// by tests and the dev server. The SQLite store in store/sqlite is the
// production path; this one exists so engine tests need no database file.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phantom/maskmarket/market"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory holds every table in maps guarded by one mutex. WithTx snapshots
// the maps and restores them if the transactional function fails, giving
// the same all-or-nothing behavior the SQLite store gets from BEGIN/COMMIT.
type Memory struct {
	mu sync.RWMutex

	pharmacies   map[market.PharmacyID]market.Pharmacy
	users        map[market.UserID]market.User
	masks        map[market.MaskID]market.Mask
	transactions []market.Transaction

	nextPharmacy market.PharmacyID
	nextUser     market.UserID
	nextMask     market.MaskID
	nextTx       market.TransactionID
}

func NewMemory() *Memory {
	return &Memory{
		pharmacies:   make(map[market.PharmacyID]market.Pharmacy),
		users:        make(map[market.UserID]market.User),
		masks:        make(map[market.MaskID]market.Mask),
		nextPharmacy: 1,
		nextUser:     1,
		nextMask:     1,
		nextTx:       1,
	}
}

// =============================================================================
// SEEDING (tests/dev)
// =============================================================================

// AddPharmacy inserts a pharmacy, assigning an ID if unset.
func (m *Memory) AddPharmacy(p market.Pharmacy) market.Pharmacy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.nextPharmacy
	}
	if p.ID >= m.nextPharmacy {
		m.nextPharmacy = p.ID + 1
	}
	m.pharmacies[p.ID] = p
	return p
}

// AddUser inserts a user, assigning an ID if unset.
func (m *Memory) AddUser(u market.User) market.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.nextUser
	}
	if u.ID >= m.nextUser {
		m.nextUser = u.ID + 1
	}
	m.users[u.ID] = u
	return u
}

// AddMask inserts a mask, assigning an ID if unset.
func (m *Memory) AddMask(mask market.Mask) market.Mask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mask.ID == 0 {
		mask.ID = m.nextMask
	}
	if mask.ID >= m.nextMask {
		m.nextMask = mask.ID + 1
	}
	m.masks[mask.ID] = mask
	return mask
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

func (m *Memory) GetPharmacy(_ context.Context, id market.PharmacyID) (*market.Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPharmacyLocked(id), nil
}

func (m *Memory) getPharmacyLocked(id market.PharmacyID) *market.Pharmacy {
	if p, ok := m.pharmacies[id]; ok {
		return &p
	}
	return nil
}

func (m *Memory) ListPharmacies(_ context.Context) ([]market.Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPharmaciesLocked(), nil
}

func (m *Memory) listPharmaciesLocked() []market.Pharmacy {
	out := make([]market.Pharmacy, 0, len(m.pharmacies))
	for _, p := range m.pharmacies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) CreditPharmacy(_ context.Context, id market.PharmacyID, amount market.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditPharmacyLocked(id, amount)
}

func (m *Memory) creditPharmacyLocked(id market.PharmacyID, amount market.Money) error {
	p, ok := m.pharmacies[id]
	if !ok {
		return &market.NotFoundError{Kind: "pharmacy", ID: int64(id)}
	}
	p.CashBalance = p.CashBalance.Add(amount)
	p.UpdatedAt = time.Now().UTC()
	m.pharmacies[id] = p
	return nil
}

func (m *Memory) GetUser(_ context.Context, id market.UserID) (*market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id), nil
}

func (m *Memory) getUserLocked(id market.UserID) *market.User {
	if u, ok := m.users[id]; ok {
		return &u
	}
	return nil
}

func (m *Memory) DebitUser(_ context.Context, id market.UserID, amount market.Money) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitUserLocked(id, amount)
}

func (m *Memory) debitUserLocked(id market.UserID, amount market.Money) (bool, error) {
	u, ok := m.users[id]
	if !ok || u.CashBalance.LessThan(amount) {
		return false, nil
	}
	u.CashBalance = u.CashBalance.Sub(amount)
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return true, nil
}

func (m *Memory) GetMask(_ context.Context, id market.MaskID) (*market.Mask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMaskLocked(id), nil
}

func (m *Memory) getMaskLocked(id market.MaskID) *market.Mask {
	if mk, ok := m.masks[id]; ok {
		return &mk
	}
	return nil
}

func (m *Memory) GetMaskByName(_ context.Context, pharmacyID market.PharmacyID, name string) (*market.Mask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMaskByNameLocked(pharmacyID, name), nil
}

func (m *Memory) getMaskByNameLocked(pharmacyID market.PharmacyID, name string) *market.Mask {
	for _, mk := range m.masks {
		if mk.PharmacyID == pharmacyID && mk.Name == name {
			found := mk
			return &found
		}
	}
	return nil
}

func (m *Memory) ListMasks(_ context.Context, pharmacyID market.PharmacyID, s market.MaskSort) ([]market.Mask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMasksLocked(pharmacyID, s), nil
}

func (m *Memory) listMasksLocked(pharmacyID market.PharmacyID, s market.MaskSort) []market.Mask {
	var out []market.Mask
	for _, mk := range m.masks {
		if mk.PharmacyID == pharmacyID {
			out = append(out, mk)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
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
	return out
}

func (m *Memory) InsertMask(_ context.Context, mask *market.Mask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertMaskLocked(mask)
}

func (m *Memory) insertMaskLocked(mask *market.Mask) error {
	mask.ID = m.nextMask
	m.nextMask++
	now := time.Now().UTC()
	mask.CreatedAt = now
	mask.UpdatedAt = now
	m.masks[mask.ID] = *mask
	return nil
}

func (m *Memory) UpdateMaskCatalog(_ context.Context, id market.MaskID, price market.Money, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateMaskCatalogLocked(id, price, stock)
}

func (m *Memory) updateMaskCatalogLocked(id market.MaskID, price market.Money, stock int) error {
	mk, ok := m.masks[id]
	if !ok {
		return &market.NotFoundError{Kind: "mask", ID: int64(id)}
	}
	mk.Price = price
	mk.StockQuantity = stock
	mk.UpdatedAt = time.Now().UTC()
	m.masks[id] = mk
	return nil
}

func (m *Memory) AdjustStock(_ context.Context, id market.MaskID, delta int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustStockLocked(id, delta)
}

func (m *Memory) adjustStockLocked(id market.MaskID, delta int) (bool, error) {
	mk, ok := m.masks[id]
	if !ok || mk.StockQuantity+delta < 0 {
		return false, nil
	}
	mk.StockQuantity += delta
	mk.UpdatedAt = time.Now().UTC()
	m.masks[id] = mk
	return true, nil
}

func (m *Memory) AppendTransactions(_ context.Context, txs []market.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionsLocked(txs)
}

func (m *Memory) appendTransactionsLocked(txs []market.Transaction) error {
	for i := range txs {
		txs[i].ID = m.nextTx
		m.nextTx++
		m.transactions = append(m.transactions, txs[i])
	}
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(f), nil
}

func (m *Memory) listTransactionsLocked(f market.TransactionFilter) []market.Transaction {
	var out []market.Transaction
	for _, tx := range m.transactions {
		if f.UserID != 0 && tx.UserID != f.UserID {
			continue
		}
		if f.PharmacyID != 0 && tx.PharmacyID != f.PharmacyID {
			continue
		}
		if f.MaskID != 0 && tx.MaskID != f.MaskID {
			continue
		}
		out = append(out, tx)
	}
	// Newest first, ID descending as the stable tie-break.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn while holding the write lock, restoring a snapshot of
// every table if fn fails. Writers are fully serialized, which is the
// strongest isolation the memory store can offer and strictly more than
// the engines require.
func (m *Memory) WithTx(_ context.Context, fn func(market.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	pharmacies   map[market.PharmacyID]market.Pharmacy
	users        map[market.UserID]market.User
	masks        map[market.MaskID]market.Mask
	transactions []market.Transaction
	nextMask     market.MaskID
	nextTx       market.TransactionID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		pharmacies:   make(map[market.PharmacyID]market.Pharmacy, len(m.pharmacies)),
		users:        make(map[market.UserID]market.User, len(m.users)),
		masks:        make(map[market.MaskID]market.Mask, len(m.masks)),
		transactions: append([]market.Transaction(nil), m.transactions...),
		nextMask:     m.nextMask,
		nextTx:       m.nextTx,
	}
	for k, v := range m.pharmacies {
		s.pharmacies[k] = v
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.masks {
		s.masks[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.pharmacies = s.pharmacies
	m.users = s.users
	m.masks = s.masks
	m.transactions = s.transactions
	m.nextMask = s.nextMask
	m.nextTx = s.nextTx
}

// txView routes Store calls to the parent's lock-free variants; the parent
// already holds the write lock for the duration of WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) GetPharmacy(_ context.Context, id market.PharmacyID) (*market.Pharmacy, error) {
	return tv.parent.getPharmacyLocked(id), nil
}

func (tv *txView) ListPharmacies(_ context.Context) ([]market.Pharmacy, error) {
	return tv.parent.listPharmaciesLocked(), nil
}

func (tv *txView) CreditPharmacy(_ context.Context, id market.PharmacyID, amount market.Money) error {
	return tv.parent.creditPharmacyLocked(id, amount)
}

func (tv *txView) GetUser(_ context.Context, id market.UserID) (*market.User, error) {
	return tv.parent.getUserLocked(id), nil
}

func (tv *txView) DebitUser(_ context.Context, id market.UserID, amount market.Money) (bool, error) {
	return tv.parent.debitUserLocked(id, amount)
}

func (tv *txView) GetMask(_ context.Context, id market.MaskID) (*market.Mask, error) {
	return tv.parent.getMaskLocked(id), nil
}

func (tv *txView) GetMaskByName(_ context.Context, pharmacyID market.PharmacyID, name string) (*market.Mask, error) {
	return tv.parent.getMaskByNameLocked(pharmacyID, name), nil
}

func (tv *txView) ListMasks(_ context.Context, pharmacyID market.PharmacyID, s market.MaskSort) ([]market.Mask, error) {
	return tv.parent.listMasksLocked(pharmacyID, s), nil
}

func (tv *txView) InsertMask(_ context.Context, mask *market.Mask) error {
	return tv.parent.insertMaskLocked(mask)
}

func (tv *txView) UpdateMaskCatalog(_ context.Context, id market.MaskID, price market.Money, stock int) error {
	return tv.parent.updateMaskCatalogLocked(id, price, stock)
}

func (tv *txView) AdjustStock(_ context.Context, id market.MaskID, delta int) (bool, error) {
	return tv.parent.adjustStockLocked(id, delta)
}

func (tv *txView) AppendTransactions(_ context.Context, txs []market.Transaction) error {
	return tv.parent.appendTransactionsLocked(txs)
}

func (tv *txView) ListTransactions(_ context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	return tv.parent.listTransactionsLocked(f), nil
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (m *Memory) SpendingByUser(_ context.Context, from, to time.Time, limit int) ([]market.UserSpend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		total market.Money
		txs   int
		items int
	}
	byUser := make(map[market.UserID]*acc)
	for _, tx := range m.transactions {
		if tx.OccurredAt.Before(from) || tx.OccurredAt.After(to) {
			continue
		}
		a, ok := byUser[tx.UserID]
		if !ok {
			a = &acc{total: market.MoneyFromInt(0)}
			byUser[tx.UserID] = a
		}
		a.total = a.total.Add(tx.Total)
		a.txs++
		a.items += tx.Quantity
	}

	out := make([]market.UserSpend, 0, len(byUser))
	for id, a := range byUser {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		out = append(out, market.UserSpend{
			User:         u,
			TotalSpent:   a.total,
			Transactions: a.txs,
			Items:        a.items,
		})
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

func (m *Memory) MaskCountsInPriceRange(_ context.Context, min, max market.Money) ([]market.PharmacyMaskCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[market.PharmacyID]int, len(m.pharmacies))
	for id := range m.pharmacies {
		counts[id] = 0
	}
	for _, mk := range m.masks {
		if mk.Price.GreaterThanOrEqual(min) && mk.Price.LessThanOrEqual(max) {
			counts[mk.PharmacyID]++
		}
	}

	out := make([]market.PharmacyMaskCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, market.PharmacyMaskCount{Pharmacy: m.pharmacies[id], Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pharmacy.ID < out[j].Pharmacy.ID })
	return out, nil
}

func (m *Memory) SearchPharmacies(_ context.Context, term string) ([]market.Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(term)
	var out []market.Pharmacy
	for _, p := range m.pharmacies {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SearchMasks(_ context.Context, term string) ([]market.Mask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(term)
	var out []market.Mask
	for _, mk := range m.masks {
		if strings.Contains(strings.ToLower(mk.Name), needle) {
			out = append(out, mk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
