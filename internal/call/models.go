package call

import "time"

// Record is a single scheduled or dispatched wake-up call.
//
// Ownership invariant: one active (non-cancelled) call per recipient is the
// target state. The schedule path cancels any prior active call before
// inserting a new one; transient two-entry states during that sequence are
// tolerated.
//
// NOTE: This is a domain model only. Transport-specific delivery fields
// (device handles, backend payloads) are opaque here; the push adapters own
// their wire formats.

type Record struct {
	ID          string `json:"id"`
	RecipientID int64  `json:"recipient_id"`

	// ScheduledAt is the instant the call is due to fire. For daily-recurring
	// calls only hour:minute carry meaning after first scheduling.
	ScheduledAt time.Time `json:"scheduled_at"`

	// DeviceHandle is an opaque delivery token owned by the recipient's
	// device. Never validated for format.
	DeviceHandle string `json:"device_handle"`

	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Purpose     string `json:"purpose,omitempty"`

	Platform Platform `json:"platform"`
	State    State    `json:"state"`

	// Enabled is consulted fresh on every recurring fire; a disabled call
	// skips dispatch but keeps its trigger armed.
	Enabled bool `json:"enabled"`

	// Response is set only after dispatch, either by the recipient or by the
	// timeout arbiter.
	Response *Response `json:"response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Response records how (or whether) the recipient reacted to a dispatch.
type Response struct {
	Status      ResponseStatus `json:"status"`
	RespondedAt time.Time      `json:"responded_at"`
	Note        string         `json:"note,omitempty"`
}

type State string

// State values are assigned by the lifecycle engine only; no external input
// ever parses into one.
const (
	StateScheduled  State = "scheduled"
	StateDispatched State = "dispatched"
	StateCancelled  State = "cancelled"
)

type Platform string

const (
	PlatformPrimary   Platform = "primary"
	PlatformSecondary Platform = "secondary"
)

func (p Platform) Valid() bool {
	return p == PlatformPrimary || p == PlatformSecondary
}

type ResponseStatus string

const (
	ResponseAnswered ResponseStatus = "answered"
	ResponseDeclined ResponseStatus = "declined"
	ResponseMissed   ResponseStatus = "missed"
)

func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseAnswered, ResponseDeclined, ResponseMissed:
		return true
	default:
		return false
	}
}
