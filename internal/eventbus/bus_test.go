package eventbus

import (
	"testing"
	"time"

	"onchain-executor/internal/domain"
)

func TestSubscribe_ReceivesMatchingTypes(t *testing.T) {
	bus := New(Options{})
	defer bus.Close()

	ch, cancel := bus.Subscribe(domain.EventOrderConfirmed)
	defer cancel()

	order := &domain.Order{ID: "o-1", State: domain.OrderStateConfirmed}
	bus.PublishOrder(domain.EventOrderCreated, order)
	bus.PublishOrder(domain.EventOrderConfirmed, order)

	select {
	case ev := <-ch:
		if ev.Type != domain.EventOrderConfirmed {
			t.Errorf("Type = %s, want order:confirmed", ev.Type)
		}
		if ev.Order == nil || ev.Order.ID != "o-1" {
			t.Errorf("event missing order snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case ev := <-ch:
		t.Fatalf("received filtered-out event %s", ev.Type)
	default:
	}
}

func TestSubscribe_NoFilterReceivesAll(t *testing.T) {
	bus := New(Options{})
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.PublishOrder(domain.EventOrderCreated, &domain.Order{ID: "o-1"})
	bus.PublishPosition(domain.EventPositionOpened, &domain.Position{ID: "p-1"})

	got := make([]domain.EventType, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("only received %d of 2 events", len(got))
		}
	}
	if got[0] != domain.EventOrderCreated || got[1] != domain.EventPositionOpened {
		t.Errorf("events = %v", got)
	}
}

func TestPublish_SnapshotsAreImmutable(t *testing.T) {
	bus := New(Options{})
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	order := &domain.Order{ID: "o-1", State: domain.OrderStatePending}
	bus.PublishOrder(domain.EventOrderCreated, order)

	// Mutating the original after publish must not change the snapshot.
	order.State = domain.OrderStateConfirmed

	ev := <-ch
	if ev.Order.State != domain.OrderStatePending {
		t.Errorf("snapshot state = %s, want PENDING", ev.Order.State)
	}
}

func TestPublish_SlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := New(Options{Buffer: 1})
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.PublishOrder(domain.EventOrderCreated, &domain.Order{ID: "o"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestCancel_ClosesChannel(t *testing.T) {
	bus := New(Options{})
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Publish after cancel must not panic.
	bus.PublishOrder(domain.EventOrderCreated, &domain.Order{ID: "o-1"})
}

func TestClose_ClosesAllSubscribers(t *testing.T) {
	bus := New(Options{})
	ch1, _ := bus.Subscribe()
	ch2, _ := bus.Subscribe(domain.EventPositionClosed)

	bus.Close()

	for i, ch := range []<-chan domain.Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("subscriber %d channel still open after Close", i)
		}
	}
}
