package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "photo.enqueued", "photo.completed",
// "photo.failed", "photo.deleted", "queue.cleared", "storage.low".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
