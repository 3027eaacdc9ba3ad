package audit

import "time"

// Event is an immutable, append-only record of a call lifecycle transition.
//
// Invariants:
// - Events are never updated or deleted.
// - Writes are best-effort; no lifecycle flow blocks on audit failures.

type Event struct {
	ID string `json:"id"`

	// Type indicates the lifecycle transition the event records.
	Type EventType `json:"type"`

	// CallID is the call the transition applies to.
	CallID string `json:"call_id"`
	// RecipientID is the owning recipient, when known.
	RecipientID int64 `json:"recipient_id,omitempty"`

	// ActorUserID is the authenticated user causing the event; empty for
	// timer-driven transitions.
	ActorUserID string `json:"actor_user_id,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeScheduled      EventType = "scheduled"
	EventTypeDispatched     EventType = "dispatched"
	EventTypeDeliveryFailed EventType = "delivery_failed"
	EventTypeResponded      EventType = "responded"
	EventTypeAutoMissed     EventType = "auto_missed"
	EventTypeCancelled      EventType = "cancelled"
	EventTypePurged         EventType = "purged"
)
