package domain

import "time"

// EventType identifies a lifecycle event published on the event bus.
type EventType string

// Lifecycle event types.
const (
	EventOrderCreated   EventType = "order:created"
	EventOrderSubmitted EventType = "order:submitted"
	EventOrderConfirmed EventType = "order:confirmed"
	EventOrderFailed    EventType = "order:failed"

	EventPositionOpened  EventType = "position:opened"
	EventPositionUpdated EventType = "position:updated"
	EventPositionClosed  EventType = "position:closed"
)

// Event carries an immutable snapshot of the Order or Position at
// emission time. Exactly one of Order/Position is set.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Order     *Order
	Position  *Position
}
