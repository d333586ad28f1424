package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryStore is an in-memory Store used by the service tests. Transactions
// are emulated with a mutex; injected conflicts surface before the callback
// runs so no rollback bookkeeping is needed.
type memoryStore struct {
	mu        sync.Mutex
	invoices  map[int64]*Invoice
	costs     map[CostKind]map[int64]*CostRecord
	payments  []Payment
	sequences map[string]int64
	nextID    int64

	// injectConflicts makes the next n transactions fail with
	// ErrConcurrentModification.
	injectConflicts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoices: make(map[int64]*Invoice),
		costs: map[CostKind]map[int64]*CostRecord{
			CostKindExpense: {},
			CostKindJobCost: {},
		},
		sequences: make(map[string]int64),
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.injectConflicts > 0 {
		m.injectConflicts--
		return fmt.Errorf("%w: injected", ErrConcurrentModification)
	}
	return fn(ctx, m)
}

func (m *memoryStore) NextDocumentNumber(_ context.Context, prefix string, year int) (string, error) {
	key := fmt.Sprintf("%s-%d", prefix, year)
	m.sequences[key]++
	return FormatDocumentNumber(prefix, year, m.sequences[key]), nil
}

func (m *memoryStore) InsertInvoice(_ context.Context, inv *Invoice) error {
	m.nextID++
	inv.ID = m.nextID
	inv.Version = 1
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	clone := *inv
	m.invoices[inv.ID] = &clone
	return nil
}

func (m *memoryStore) GetInvoiceForUpdate(_ context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

func (m *memoryStore) UpdateInvoice(_ context.Context, inv *Invoice) error {
	current, ok := m.invoices[inv.ID]
	if !ok || current.Version != inv.Version {
		return fmt.Errorf("%w: invoice %d", ErrConcurrentModification, inv.ID)
	}
	inv.Version++
	inv.UpdatedAt = time.Now()
	clone := *inv
	m.invoices[inv.ID] = &clone
	return nil
}

func (m *memoryStore) DeleteInvoice(_ context.Context, id int64) error {
	if _, ok := m.invoices[id]; !ok {
		return ErrNotFound
	}
	delete(m.invoices, id)
	return nil
}

func (m *memoryStore) InsertPayment(_ context.Context, p *Payment) error {
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	m.payments = append(m.payments, *p)
	return nil
}

func (m *memoryStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	var count int64
	for _, inv := range m.invoices {
		if (inv.Status == InvoiceStatusSent || inv.Status == InvoiceStatusPartiallyPaid) &&
			inv.DueDate.Before(now) {
			inv.Status = InvoiceStatusOverdue
			inv.Version++
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) InsertCost(_ context.Context, c *CostRecord) error {
	m.nextID++
	c.ID = m.nextID
	c.Version = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	clone := *c
	m.costs[c.Kind][c.ID] = &clone
	return nil
}

func (m *memoryStore) GetCostForUpdate(_ context.Context, kind CostKind, id int64) (*CostRecord, error) {
	rec, ok := m.costs[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memoryStore) UpdateCost(_ context.Context, c *CostRecord) error {
	current, ok := m.costs[c.Kind][c.ID]
	if !ok || current.Version != c.Version {
		return fmt.Errorf("%w: %s %d", ErrConcurrentModification, c.Kind, c.ID)
	}
	c.Version++
	c.UpdatedAt = time.Now()
	clone := *c
	m.costs[c.Kind][c.ID] = &clone
	return nil
}

func (m *memoryStore) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

func (m *memoryStore) ListInvoices(_ context.Context, filter ListInvoicesFilter) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.CustomerID != 0 && inv.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (m *memoryStore) ListPaymentsFor(_ context.Context, target PaymentTarget, targetID int64) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.TargetType == target && p.TargetID == targetID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) GetCost(_ context.Context, kind CostKind, id int64) (*CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.costs[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memoryStore) ListCosts(_ context.Context, kind CostKind) ([]CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CostRecord
	for _, rec := range m.costs[kind] {
		out = append(out, *rec)
	}
	return out, nil
}

// countingInvalidator records cache bumps.
type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingInvalidator) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bumps
}
