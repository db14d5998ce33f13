package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/storage"
)

func testOrder(id string, state domain.OrderState, createdAt time.Time) *domain.Order {
	return &domain.Order{
		ID: id,
		Request: domain.OrderRequest{
			AccountID:   "acct-1",
			Side:        domain.SideBuy,
			SourceAsset: "BASE",
			TargetAsset: "TOKEN",
			AmountIn:    1,
			RetryBudget: 2,
		},
		State:     state,
		CreatedAt: createdAt,
	}
}

func TestOrderStore_InsertAndGet(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	o := testOrder("o-1", domain.OrderStatePending, time.Now())
	if err := s.Insert(ctx, o); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.GetByID(ctx, "o-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ID != "o-1" || got.State != domain.OrderStatePending {
		t.Errorf("got %+v", got)
	}

	// Stored copy must be isolated from the caller's struct.
	o.State = domain.OrderStateConfirmed
	got, _ = s.GetByID(ctx, "o-1")
	if got.State != domain.OrderStatePending {
		t.Error("store shares memory with the caller")
	}
}

func TestOrderStore_DuplicateInsert(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	o := testOrder("o-1", domain.OrderStatePending, time.Now())
	if err := s.Insert(ctx, o); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Insert(ctx, o); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestOrderStore_UpdateMissing(t *testing.T) {
	s := NewOrderStore()
	err := s.Update(context.Background(), testOrder("missing", domain.OrderStatePending, time.Now()))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderStore_GetByStateOrdered(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"o-3", "o-1", "o-2"} {
		offsets := map[string]time.Duration{"o-1": 0, "o-2": time.Second, "o-3": 2 * time.Second}
		o := testOrder(id, domain.OrderStatePending, base.Add(offsets[id]))
		if i == 0 {
			o.State = domain.OrderStateConfirmed
		}
		if err := s.Insert(ctx, o); err != nil {
			t.Fatalf("Insert %s failed: %v", id, err)
		}
	}

	pending, err := s.GetByState(ctx, domain.OrderStatePending)
	if err != nil {
		t.Fatalf("GetByState failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "o-1" || pending[1].ID != "o-2" {
		ids := make([]string, len(pending))
		for i, o := range pending {
			ids[i] = o.ID
		}
		t.Errorf("pending = %v, want [o-1 o-2]", ids)
	}
}

func TestPositionStore_OpenFilter(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	open := &domain.Position{ID: "p-1", Asset: "TOKEN", State: domain.PositionStateOpen, OpenedAt: time.Now()}
	closed := &domain.Position{ID: "p-2", Asset: "TOKEN", State: domain.PositionStateClosed, OpenedAt: time.Now().Add(time.Second)}
	for _, p := range []*domain.Position{open, closed} {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %s failed: %v", p.ID, err)
		}
	}

	got, err := s.GetOpen(ctx)
	if err != nil {
		t.Fatalf("GetOpen failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p-1" {
		t.Errorf("GetOpen = %+v, want only p-1", got)
	}

	byAsset, err := s.GetByAsset(ctx, "TOKEN")
	if err != nil {
		t.Fatalf("GetByAsset failed: %v", err)
	}
	if len(byAsset) != 2 {
		t.Errorf("GetByAsset returned %d positions, want 2", len(byAsset))
	}
}

func TestValuationTickStore_TimeRange(t *testing.T) {
	s := NewValuationTickStore()
	ctx := context.Background()
	base := time.Now()

	ticks := []*domain.ValuationTick{
		{PositionID: "p-1", TimestampMs: base.UnixMilli(), Price: 0.001},
		{PositionID: "p-1", TimestampMs: base.Add(time.Minute).UnixMilli(), Price: 0.002},
		{PositionID: "p-2", TimestampMs: base.UnixMilli(), Price: 0.005},
	}
	if err := s.InsertBulk(ctx, ticks); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := s.GetByTimeRange(ctx, "p-1", base.Add(-time.Second), base.Add(time.Second))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 1 || got[0].Price != 0.001 {
		t.Errorf("range query = %+v, want the single first tick", got)
	}
}
