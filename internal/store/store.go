// Package store holds the bounded in-memory catalogs of processed records,
// read by the operator surface. Persistence here is deliberately volatile:
// the relay is a pass-through and the stores exist for inspection, keeping
// only the most recent entries.
package store

import (
	"strings"
	"sync"

	"github.com/example/integration-relay/internal/models"
)

const defaultLimit = 500

// Orders keeps the most recently processed orders in insertion order.
type Orders struct {
	mu    sync.Mutex
	limit int
	items []models.Order
}

// NewOrders constructs an order store bounded to limit entries.
func NewOrders(limit int) *Orders {
	if limit < 1 {
		limit = defaultLimit
	}
	return &Orders{limit: limit}
}

// Add appends the order, evicting the oldest entry when the bound is hit.
func (s *Orders) Add(order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.limit {
		s.items = s.items[1:]
	}
	s.items = append(s.items, order)
	return nil
}

// List returns a snapshot of the stored orders in insertion order.
func (s *Orders) List() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, len(s.items))
	copy(out, s.items)
	return out
}

// FindByNumber returns the first order matching the business key,
// case-insensitively.
func (s *Orders) FindByNumber(number string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.items {
		if strings.EqualFold(o.OrderNumber, number) {
			return o, true
		}
	}
	return models.Order{}, false
}

// Len returns the number of stored orders.
func (s *Orders) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear removes every stored order.
func (s *Orders) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Invoices keeps the most recently processed invoices in insertion order.
type Invoices struct {
	mu    sync.Mutex
	limit int
	items []models.Invoice
}

// NewInvoices constructs an invoice store bounded to limit entries.
func NewInvoices(limit int) *Invoices {
	if limit < 1 {
		limit = defaultLimit
	}
	return &Invoices{limit: limit}
}

// Add appends the invoice, evicting the oldest entry when the bound is hit.
func (s *Invoices) Add(invoice models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.limit {
		s.items = s.items[1:]
	}
	s.items = append(s.items, invoice)
	return nil
}

// List returns a snapshot of the stored invoices in insertion order.
func (s *Invoices) List() []models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Invoice, len(s.items))
	copy(out, s.items)
	return out
}

// FindByNumber returns the first invoice matching the business key,
// case-insensitively.
func (s *Invoices) FindByNumber(number string) (models.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.items {
		if strings.EqualFold(i.InvoiceNumber, number) {
			return i, true
		}
	}
	return models.Invoice{}, false
}

// Len returns the number of stored invoices.
func (s *Invoices) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear removes every stored invoice.
func (s *Invoices) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}
