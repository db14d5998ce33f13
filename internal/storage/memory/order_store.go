// Package memory provides in-memory storage implementations for tests
// and dry-run mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewOrderStore creates an empty in-memory order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*domain.Order)}
}

// Insert adds a new order.
func (s *OrderStore) Insert(_ context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("%w: order id required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("%w: order %s", storage.ErrDuplicateKey, o.ID)
	}
	s.orders[o.ID] = o.Snapshot()
	return nil
}

// Update rewrites an existing order.
func (s *OrderStore) Update(_ context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("%w: order id required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; !exists {
		return fmt.Errorf("%w: order %s", storage.ErrNotFound, o.ID)
	}
	s.orders[o.ID] = o.Snapshot()
	return nil
}

// GetByID retrieves an order by its ID.
func (s *OrderStore) GetByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", storage.ErrNotFound, orderID)
	}
	return o.Snapshot(), nil
}

// GetByState retrieves all orders in a state, ordered by creation time ASC.
func (s *OrderStore) GetByState(_ context.Context, state domain.OrderState) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.State == state {
			out = append(out, o.Snapshot())
		}
	}
	sortByCreation(out)
	return out, nil
}

// GetByAccount retrieves all orders for an account, ordered by creation time ASC.
func (s *OrderStore) GetByAccount(_ context.Context, accountID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Request.AccountID == accountID {
			out = append(out, o.Snapshot())
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

var _ storage.OrderStore = (*OrderStore)(nil)
