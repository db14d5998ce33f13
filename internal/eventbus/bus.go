// Package eventbus fans out order and position lifecycle events to
// in-process subscribers.
package eventbus

import (
	"log"
	"sync"
	"time"

	"onchain-executor/internal/domain"
	"onchain-executor/internal/observability"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type subscriber struct {
	ch    chan domain.Event
	types map[domain.EventType]struct{} // nil means all types
}

func (s *subscriber) wants(t domain.EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus delivers events to subscribers without blocking publishers. A
// subscriber that falls behind loses events rather than stalling the
// execution path.
type Bus struct {
	buffer  int
	logger  *log.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// Options configures a Bus.
type Options struct {
	Buffer  int // per-subscriber capacity, DefaultBuffer when zero
	Logger  *log.Logger
	Metrics *observability.Metrics
}

// New creates a Bus.
func New(opts Options) *Bus {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		buffer:  buffer,
		logger:  logger,
		metrics: opts.Metrics,
		subs:    make(map[int]*subscriber),
	}
}

// Subscribe registers for the given event types, or all types when none
// are given. The returned cancel func unregisters and closes the channel.
func (b *Bus) Subscribe(types ...domain.EventType) (<-chan domain.Event, func()) {
	var filter map[domain.EventType]struct{}
	if len(types) > 0 {
		filter = make(map[domain.EventType]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	sub := &subscriber{
		ch:    make(chan domain.Event, b.buffer),
		types: filter,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}

	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.EventsDropped.Inc()
			}
			b.logger.Printf("event %s dropped for slow subscriber", ev.Type)
		}
	}
}

// PublishOrder publishes an order event carrying a snapshot.
func (b *Bus) PublishOrder(t domain.EventType, order *domain.Order) {
	b.Publish(domain.Event{Type: t, Order: order.Snapshot()})
}

// PublishPosition publishes a position event carrying a snapshot.
func (b *Bus) PublishPosition(t domain.EventType, pos *domain.Position) {
	b.Publish(domain.Event{Type: t, Position: pos.Snapshot()})
}

// Close unregisters all subscribers and closes their channels. Publish
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
