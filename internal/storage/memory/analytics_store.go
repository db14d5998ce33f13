package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

// ValuationTickStore is an in-memory implementation of
// storage.ValuationTickStore.
type ValuationTickStore struct {
	mu    sync.RWMutex
	ticks []*domain.ValuationTick
}

// NewValuationTickStore creates an empty in-memory tick store.
func NewValuationTickStore() *ValuationTickStore {
	return &ValuationTickStore{}
}

// InsertBulk appends ticks.
func (s *ValuationTickStore) InsertBulk(_ context.Context, ticks []*domain.ValuationTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ticks {
		cp := *t
		s.ticks = append(s.ticks, &cp)
	}
	return nil
}

// GetByPositionID retrieves all ticks for a position, ordered by timestamp ASC.
func (s *ValuationTickStore) GetByPositionID(_ context.Context, positionID string) ([]*domain.ValuationTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ValuationTick
	for _, t := range s.ticks {
		if t.PositionID == positionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTicks(out)
	return out, nil
}

// GetByTimeRange retrieves ticks for a position within [start, end].
func (s *ValuationTickStore) GetByTimeRange(_ context.Context, positionID string, start, end time.Time) ([]*domain.ValuationTick, error) {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ValuationTick
	for _, t := range s.ticks {
		if t.PositionID == positionID && t.TimestampMs >= startMs && t.TimestampMs <= endMs {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortTicks(out)
	return out, nil
}

func sortTicks(ticks []*domain.ValuationTick) {
	sort.Slice(ticks, func(i, j int) bool {
		return ticks[i].TimestampMs < ticks[j].TimestampMs
	})
}

// ExecutionRecordStore is an in-memory implementation of
// storage.ExecutionRecordStore.
type ExecutionRecordStore struct {
	mu   sync.RWMutex
	rows []*domain.ExecutionRecord
}

// NewExecutionRecordStore creates an empty in-memory record store.
func NewExecutionRecordStore() *ExecutionRecordStore {
	return &ExecutionRecordStore{}
}

// Insert appends one record.
func (s *ExecutionRecordStore) Insert(_ context.Context, r *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rows = append(s.rows, &cp)
	return nil
}

// GetByOrderID retrieves all attempts for an order, ordered by timestamp ASC.
func (s *ExecutionRecordStore) GetByOrderID(_ context.Context, orderID string) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ExecutionRecord
	for _, r := range s.rows {
		if r.OrderID == orderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortRecords(out)
	return out, nil
}

// GetByTimeRange retrieves records within [start, end].
func (s *ExecutionRecordStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.ExecutionRecord, error) {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ExecutionRecord
	for _, r := range s.rows {
		if r.TimestampMs >= startMs && r.TimestampMs <= endMs {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(rows []*domain.ExecutionRecord) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].TimestampMs < rows[j].TimestampMs
	})
}

// Compile-time interface checks.
var (
	_ storage.ValuationTickStore   = (*ValuationTickStore)(nil)
	_ storage.ExecutionRecordStore = (*ExecutionRecordStore)(nil)
)
