package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]*domain.Position)}
}

// Insert adds a new position.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: position id required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("%w: position %s", storage.ErrDuplicateKey, p.ID)
	}
	s.positions[p.ID] = p.Snapshot()
	return nil
}

// Update rewrites an existing position.
func (s *PositionStore) Update(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: position id required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[p.ID]; !exists {
		return fmt.Errorf("%w: position %s", storage.ErrNotFound, p.ID)
	}
	s.positions[p.ID] = p.Snapshot()
	return nil
}

// GetByID retrieves a position by its ID.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", storage.ErrNotFound, positionID)
	}
	return p.Snapshot(), nil
}

// GetOpen retrieves all open positions, ordered by open time ASC.
func (s *PositionStore) GetOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.State == domain.PositionStateOpen {
			out = append(out, p.Snapshot())
		}
	}
	sortByOpenTime(out)
	return out, nil
}

// GetByAsset retrieves all positions holding an asset, ordered by open time ASC.
func (s *PositionStore) GetByAsset(_ context.Context, asset string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if p.Asset == asset {
			out = append(out, p.Snapshot())
		}
	}
	sortByOpenTime(out)
	return out, nil
}

func sortByOpenTime(positions []*domain.Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].OpenedAt.Before(positions[j].OpenedAt)
	})
}

var _ storage.PositionStore = (*PositionStore)(nil)
