package push

import (
	"context"
	"errors"
	"fmt"

	"callwake-platform/internal/call"
)

// Sender is the provider-agnostic push delivery interface used by the
// lifecycle engine.
//
// Rules:
// - No backend-specific wire formats outside push adapters.
// - One best-effort attempt per call; the core never retries.
// - A failed send is a delivery problem, never a call-state problem.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notification carries the fields a backend needs to reach a device. The
// device handle is opaque and passed through unvalidated.
type Notification struct {
	CallID       string        `json:"call_id"`
	DeviceHandle string        `json:"device_handle"`
	DisplayName  string        `json:"display_name"`
	AvatarRef    string        `json:"avatar_ref,omitempty"`
	Purpose      string        `json:"purpose,omitempty"`
	Platform     call.Platform `json:"platform"`
}

// Selector routes a notification to the backend registered for its platform.
type Selector struct {
	senders map[call.Platform]Sender
}

func NewSelector() *Selector {
	return &Selector{senders: map[call.Platform]Sender{}}
}

func (s *Selector) Register(p call.Platform, sender Sender) {
	s.senders[p] = sender
}

func (s *Selector) Name() string { return "selector" }

func (s *Selector) Send(ctx context.Context, n Notification) error {
	sender, ok := s.senders[n.Platform]
	if !ok {
		return fmt.Errorf("push: no backend registered for platform %q", n.Platform)
	}
	return sender.Send(ctx, n)
}

// FromRecord builds the notification payload for a call record.
func FromRecord(rec call.Record) Notification {
	return Notification{
		CallID:       rec.ID,
		DeviceHandle: rec.DeviceHandle,
		DisplayName:  rec.DisplayName,
		AvatarRef:    rec.AvatarRef,
		Purpose:      rec.Purpose,
		Platform:     rec.Platform,
	}
}

var errMissingHandle = errors.New("push: device handle is empty")
